package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"gorm.io/gorm"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/logger"
)

// Status represents the Telegram client status.
type Status string

// Status constants define the possible states of the Telegram client.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusError        Status = "ERROR"
)

// ErrQRInProgress is returned when a second QR login is started.
var ErrQRInProgress = errors.New("QR login already in progress")

// ClientFactory is a function that creates a telegram client.
type ClientFactory func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error)

// QRClientFactory is a function that creates a raw telegram client for QR auth.
type QRClientFactory func(cfg *config.Config) (*QRClientBundle, error)

// Manager owns the session and the underlying protocol client.
type Manager struct {
	client *gotgproto.Client
	db     *gorm.DB // session store
	cfg    *config.Config
	log    *logger.Logger

	status Status
	mu     sync.RWMutex

	clientFactory   ClientFactory
	qrClientFactory QRClientFactory

	qrInProgress atomic.Bool
	qrCancel     context.CancelFunc
	qrMu         sync.Mutex
}

// NewManager creates a new Telegram Manager backed by the session database.
func NewManager(cfg *config.Config, db *gorm.DB) *Manager {
	return &Manager{
		db:              db,
		cfg:             cfg,
		log:             logger.Get().Component("telegram"),
		status:          StatusInitializing,
		clientFactory:   NewPersistentClient,
		qrClientFactory: NewQRClient,
	}
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// SetQRClientFactory allows overriding the QR client creation logic (e.g. for testing).
func (m *Manager) SetQRClientFactory(f QRClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrClientFactory = f
}

// GetStatus returns the current Telegram client status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetClient returns the underlying Telegram client.
func (m *Manager) GetClient() *gotgproto.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Init connects with the stored session. A string session from the
// environment takes precedence over the session table. Without any session
// the manager stays unauthorized and Init returns nil.
func (m *Manager) Init(ctx context.Context) error {
	m.setStatus(StatusInitializing)

	m.mu.RLock()
	factory := m.clientFactory
	m.mu.RUnlock()

	if m.cfg.TGSessionStr != "" {
		factory = NewStringSessionClient
	} else {
		data, err := m.loadSessionRow()
		if err != nil {
			m.log.Warn().Err(err).Msg("telegram: stored session is unreadable, run tg-auth again")
			m.setStatus(StatusUnauthorized)
			return nil
		}
		if data == nil || len(data.AuthKey) == 0 {
			m.log.Info().Msg("telegram: no session in database, run tg-auth first")
			m.setStatus(StatusUnauthorized)
			return nil
		}
		m.log.Debug().Int("dc", data.DC).Msg("telegram: using stored session")
	}

	client, err := factory(ctx, m.cfg, m.db)
	if err != nil {
		m.log.Warn().Err(err).Msg("telegram: failed to initialize client, switching to unauthorized mode")
		m.setStatus(StatusUnauthorized)
		return nil
	}

	m.mu.Lock()
	m.client = client
	m.status = StatusReady
	m.mu.Unlock()

	m.log.Info().Msg("telegram: client is ready")
	return nil
}

// IsQRInProgress returns true if a QR login flow is currently in progress.
func (m *Manager) IsQRInProgress() bool {
	return m.qrInProgress.Load()
}

// StartQR runs the QR login flow, blocking until login succeeds or ctx is canceled.
// onQRCode receives every login URL; tokens rotate, so it may be called several times.
func (m *Manager) StartQR(ctx context.Context, onQRCode func(url string)) error {
	if m.GetStatus() == StatusReady {
		return fmt.Errorf("already logged in")
	}

	m.qrMu.Lock()
	if m.qrInProgress.Load() {
		m.qrMu.Unlock()
		return ErrQRInProgress
	}
	qrCtx, cancel := context.WithCancel(ctx)
	m.qrCancel = cancel
	m.qrInProgress.Store(true)
	m.qrMu.Unlock()

	defer m.CancelQR()

	m.mu.RLock()
	factory := m.qrClientFactory
	m.mu.RUnlock()

	bundle, err := factory(m.cfg)
	if err != nil {
		return fmt.Errorf("create QR client: %w", err)
	}

	var sessionData *session.Data
	err = bundle.Client.Run(qrCtx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, err := bundle.Client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			m.log.Info().Msg("telegram: QR token generated")
			onQRCode(token.URL())
			return nil
		})
		if err != nil {
			return err
		}

		loader := session.Loader{Storage: bundle.Storage}
		sessionData, err = loader.Load(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("QR auth flow failed: %w", err)
	}
	if sessionData == nil {
		return fmt.Errorf("session data is nil after successful auth")
	}

	m.log.Info().Msg("telegram: QR auth success, saving session")
	if err := m.saveSession(sessionData); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return m.Init(ctx)
}

// CancelQR cancels any ongoing QR login flow.
func (m *Manager) CancelQR() {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()

	if m.qrCancel != nil {
		m.qrCancel()
		m.qrCancel = nil
	}
	m.qrInProgress.Store(false)
}

func (m *Manager) saveSession(data *session.Data) error {
	sess, err := sessionRow(data)
	if err != nil {
		return err
	}
	if err := m.db.AutoMigrate(sess); err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	// version is the primary key, Save upserts
	return m.db.Save(sess).Error
}

// Stop stops the Telegram client.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Stop()
		m.client = nil
	}
}
