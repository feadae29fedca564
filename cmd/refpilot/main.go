// refpilot is a command-line client for AI completion providers: GitHub
// Copilot over the device authorization flow, and local Ollama or
// OpenAI-compatible servers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"refpilot/internal/config"
	"refpilot/internal/vault"
)

func main() {
	// Optional .env for development; a missing file is fine.
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("refpilot"),
		kong.Description("Chat with GitHub Copilot or local model servers."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	configPath := cli.Config
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	kctx.FatalIfErrorf(err)

	if cli.Verbose || cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	store := vault.NewFileStore(cfg.VaultPath, vaultPassphrase())
	app := newApp(cfg, store, &http.Client{Timeout: 5 * time.Minute})

	err = kctx.Run(app)
	kctx.FatalIfErrorf(err)
}

// vaultPassphrase resolves the key sealing the credential file.
// REFPILOT_VAULT_KEY wins; otherwise a machine-local default keeps the
// file unreadable when copied elsewhere.
func vaultPassphrase() string {
	if key := os.Getenv("REFPILOT_VAULT_KEY"); key != "" {
		return key
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return "refpilot:" + host + ":" + home
}
