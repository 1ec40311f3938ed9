package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// errors
var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoRun          = errors.New("no run has finished yet")
)

// RunJob represents an active run
type RunJob struct {
	ID        uuid.UUID
	StartedAt time.Time
	Options   RunOptions
}

// Runner defines the interface for the collection logic
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*models.RunSnapshot, error)
	GetTelegramStatus() telegram.Status
}

// RunManager manages runs started over HTTP
// ensures only one run is active at a time
// thread-safe
type RunManager struct {
	mu       sync.Mutex
	current  *RunJob
	cancelFn context.CancelFunc
	done     chan struct{}

	last    *models.RunSnapshot
	lastErr error

	runner   Runner
	timeout  time.Duration
	onFinish func(*models.RunSnapshot)
	log      *logger.Logger
}

// NewRunManager creates a new run manager. timeout bounds each run, 0 means none.
func NewRunManager(runner Runner, timeout time.Duration, log *logger.Logger) *RunManager {
	if log == nil {
		log = logger.Get()
	}
	return &RunManager{
		runner:  runner,
		timeout: timeout,
		log:     log,
	}
}

// SetOnFinish registers a callback for every finished snapshot.
func (m *RunManager) SetOnFinish(fn func(*models.RunSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = fn
}

// Start starts a new run
// returns ErrAlreadyRunning if a run is active
func (m *RunManager) Start(_ context.Context, opts RunOptions) (*RunJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrAlreadyRunning
	}

	// the run outlives the HTTP request that started it
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), m.timeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	m.cancelFn = cancel

	job := &RunJob{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Options:   opts,
	}
	job.Options.RunID = job.ID.String()
	m.current = job
	m.done = make(chan struct{})

	go m.run(runCtx, job, m.done)

	return job, nil
}

// Stop cancels the active run. The run still finalizes a partial snapshot.
// safe to call when no run is active
func (m *RunManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelFn != nil {
		m.cancelFn()
	}
}

// Wait blocks until the active run, if any, has finished.
func (m *RunManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the active run
// returns nil if no run is active
func (m *RunManager) Current() *RunJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the snapshot of the latest finished run.
func (m *RunManager) Last() (*models.RunSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return nil, m.lastErr
	}
	if m.last == nil {
		return nil, ErrNoRun
	}
	return m.last, nil
}

// run executes the job
// this is called in a goroutine
func (m *RunManager) run(ctx context.Context, job *RunJob, done chan struct{}) {
	snap, err := m.runner.Run(ctx, job.Options)
	if err != nil {
		m.log.Error().Err(err).Str("run_id", job.Options.RunID).Msg("run failed")
	}

	m.mu.Lock()
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.current = nil
	m.cancelFn = nil
	m.lastErr = err
	if snap != nil {
		m.last = snap
	}
	onFinish := m.onFinish
	m.mu.Unlock()

	if snap != nil && onFinish != nil {
		onFinish(snap)
	}
	close(done)
}

// GetTelegramStatus returns the current Telegram connection status
func (m *RunManager) GetTelegramStatus() telegram.Status {
	if m.runner == nil {
		return "UNKNOWN"
	}
	return m.runner.GetTelegramStatus()
}
