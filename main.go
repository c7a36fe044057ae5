// Package main provides the entry point for ovpnctl.
// ovpnctl is a terminal OpenVPN client for Linux that drives sessions
// through OpenVPN's management interface.
//
// Features:
//   - Import and manage OpenVPN configuration bundles
//   - Foreground connections with live session events
//   - Secure credential storage using the system keyring
//   - Connection history in a local database
//   - Interactive terminal interface
//
// Usage:
//
//	ovpnctl [options]
//
// Environment:
//
//	The application requires OpenVPN to be installed on the system and
//	uses pkexec to start it with elevated privileges.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/yllada/ovpnctl/cli"
	"github.com/yllada/ovpnctl/common"
	"github.com/yllada/ovpnctl/config"
	"github.com/yllada/ovpnctl/history"
	"github.com/yllada/ovpnctl/keyring"
	"github.com/yllada/ovpnctl/tui"
	"github.com/yllada/ovpnctl/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	listConfigs   = flag.Bool("list", false, "List imported configurations")
	importConfig  = flag.String("import", "", "Import an OpenVPN config file")
	removeConfig  = flag.String("remove", "", "Remove an imported configuration")
	connectConfig = flag.String("connect", "", "Connect to a configuration in the foreground")
	showHistory   = flag.Bool("history", false, "Show recent connection sessions")
	historyLimit  = flag.Int("history-limit", 20, "Number of history entries to show")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("ovpnctl v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load configuration, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}

	logLevel := cfg.LoggerLevel()
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if _, err := exec.LookPath(cfg.OpenVPNBinary); err != nil {
		common.LogError("OpenVPN is not installed on the system")
		fmt.Fprintln(os.Stderr, "Error: OpenVPN is not installed on the system.")
		os.Exit(1)
	}

	store, err := vpn.NewConfigStore()
	if err != nil {
		fatal(err)
	}
	creds, err := keyring.NewStore()
	if err != nil {
		fatal(err)
	}
	recorder, err := history.Open()
	if err != nil {
		fatal(err)
	}
	defer recorder.Close()

	if *listConfigs || *importConfig != "" || *removeConfig != "" || *connectConfig != "" || *showHistory {
		runCLI(ctx, cfg, store, creds, recorder)
		return
	}

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	if err := tui.Run(cfg, store, creds, recorder); err != nil {
		fatal(err)
	}
}

// runCLI handles command-line interface operations.
func runCLI(ctx context.Context, cfg *config.Config, store *vpn.ConfigStore, creds common.CredentialStore, recorder *history.Recorder) {
	app := cli.New(cfg, store, creds, recorder)

	var cliErr error
	switch {
	case *listConfigs:
		cliErr = app.List()
	case *importConfig != "":
		cliErr = app.Import(*importConfig)
	case *removeConfig != "":
		cliErr = app.Remove(*removeConfig)
	case *connectConfig != "":
		cliErr = app.Connect(ctx, *connectConfig)
	case *showHistory:
		cliErr = app.History(*historyLimit)
	}

	if cliErr != nil {
		fatal(cliErr)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// setupSignalHandler cancels the context on SIGINT/SIGTERM so a
// foreground connection can shut the session down cleanly.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, shutting down", sig)
		cancel()
	}()
}
