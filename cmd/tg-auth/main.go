// Command tg-auth creates the Telegram session used by harvester.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

const (
	methodTData = iota + 1
	methodPhone
	methodQR
)

func main() {
	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool creates the session harvester reads channels with")
	fmt.Println()

	cfg, err := config.Load("")
	if err != nil {
		fail("load config", err)
	}
	if err := logger.Init(logger.Options{Level: "warn"}); err != nil {
		fail("init logger", err)
	}

	reader := bufio.NewReader(os.Stdin)

	accounts, tdataPath := findDesktopAccounts(reader)
	method := chooseMethod(reader, len(accounts) > 0, tdataPath, len(accounts))

	cfg.TGApiID, cfg.TGApiHash = apiCredentials(reader, cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.TGSessionFile), 0755); err != nil {
		fail("create session dir", err)
	}

	var client *gotgproto.Client
	switch method {
	case methodTData:
		client, err = authWithTData(cfg, accounts, reader)
	case methodPhone:
		client, err = authWithPhone(cfg, reader)
	default:
		client, err = authWithQR(cfg)
	}
	if err != nil {
		fail("authentication", err)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		fail("export session", err)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	if method != methodTData {
		fmt.Printf("session saved to %s\n", cfg.TGSessionFile)
	}
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nset it as TG_SESSION_STRING to run without the session file")
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

func fail(step string, err error) {
	fmt.Printf("error: %s: %v\n", step, err)
	os.Exit(1)
}

// findDesktopAccounts looks for Telegram Desktop data in the default location,
// then in a path typed by the user.
func findDesktopAccounts(reader *bufio.Reader) ([]tdesktop.Account, string) {
	tdataPath := desktopDataPath()
	accounts, err := tdesktop.Read(tdataPath, nil)
	if err == nil && len(accounts) > 0 {
		return accounts, tdataPath
	}

	fmt.Printf("default path not found: %s\n", tdataPath)
	fmt.Print("enter telegram desktop path (or press enter to skip): ")
	customPath, _ := reader.ReadString('\n')
	customPath = strings.TrimSpace(customPath)
	if customPath == "" {
		return nil, ""
	}
	if !strings.HasSuffix(customPath, "tdata") {
		customPath = filepath.Join(customPath, "tdata")
	}
	accounts, err = tdesktop.Read(customPath, nil)
	if err != nil || len(accounts) == 0 {
		return nil, ""
	}
	return accounts, customPath
}

func chooseMethod(reader *bufio.Reader, hasDesktop bool, tdataPath string, n int) int {
	fmt.Println()
	if hasDesktop {
		fmt.Printf("detected %d telegram desktop session(s) at: %s\n\n", n, tdataPath)
	}
	fmt.Println("choose authentication method:")
	if hasDesktop {
		fmt.Println("  1. use telegram desktop session")
	}
	fmt.Println("  2. phone number and login code")
	fmt.Println("  3. scan a QR code with the mobile app")

	def := methodQR
	if hasDesktop {
		def = methodTData
	}
	fmt.Printf("\nenter choice [%d]: ", def)

	choice, _ := reader.ReadString('\n')
	switch strings.TrimSpace(choice) {
	case "1":
		if hasDesktop {
			return methodTData
		}
	case "2":
		return methodPhone
	case "3":
		return methodQR
	}
	return def
}

// desktopDataPath returns the Telegram Desktop data directory of this OS.
func desktopDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// apiCredentials takes the api id and hash from the config or asks for them.
func apiCredentials(reader *bufio.Reader, cfg *config.Config) (int, string) {
	apiID, apiHash := cfg.TGApiID, cfg.TGApiHash

	if apiID == 0 {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		s, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			fail("invalid api_id", err)
		}
		apiID = id
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}
	return apiID, apiHash
}

func authWithTData(cfg *config.Config, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	account := accounts[0]
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram accounts, select account number [1]: ", len(accounts))
		choice, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && n >= 1 && n <= len(accounts) {
			account = accounts[n-1]
		}
	}

	fmt.Println("\nauthenticating with telegram desktop session...")
	device := telegram.Device()
	return gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(account).Name("tdata_session"),
			DisableCopyright: true,
			InMemory:         true,
			Device:           &device,
		},
	)
}

// authWithPhone logs in with a code and writes the session straight into the session file.
func authWithPhone(cfg *config.Config, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")
	device := telegram.Device()
	return gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(cfg.TGSessionFile)),
			DisableCopyright: true,
			Device:           &device,
		},
	)
}

// authWithQR renders rotating login tokens in the terminal until one is scanned.
func authWithQR(cfg *config.Config) (*gotgproto.Client, error) {
	db, err := telegram.OpenSessionDB(cfg.TGSessionFile)
	if err != nil {
		return nil, err
	}
	manager := telegram.NewManager(cfg, db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("\nopen Telegram > Settings > Devices > Link Desktop Device and scan:")
	err = manager.StartQR(ctx, func(url string) {
		fmt.Println()
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println("waiting for scan (the code refreshes on expiry)...")
	})
	if err != nil {
		return nil, err
	}

	client := manager.GetClient()
	if client == nil {
		return nil, fmt.Errorf("session saved but the client did not start")
	}
	return client, nil
}
