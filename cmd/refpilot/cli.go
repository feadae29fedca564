package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"refpilot/internal/auth"
	"refpilot/internal/catalog"
	"refpilot/internal/chat"
	"refpilot/internal/config"
	"refpilot/internal/local"
	"refpilot/internal/vault"
	"refpilot/pkg/models"
	"refpilot/pkg/utils"
)

// CLI is the root command structure.
type CLI struct {
	Config  string `short:"c" help:"Path to config file" type:"path"`
	Verbose bool   `short:"v" help:"Verbose (debug) logging"`

	Login  LoginCmd  `cmd:"" help:"Sign in to GitHub Copilot via the device flow"`
	Logout LogoutCmd `cmd:"" help:"Forget all stored credentials"`
	Status StatusCmd `cmd:"" help:"Show credential and local server status"`
	Models ModelsCmd `cmd:"" help:"List models available from a provider"`
	Chat   ChatCmd   `cmd:"" help:"Send a one-shot chat prompt"`
}

const (
	providerCopilot = "copilot"
	probeTimeout    = 3 * time.Second
)

// LoginCmd runs the device authorization flow and stores the resulting
// credentials.
type LoginCmd struct {
	Force bool `help:"Re-authenticate even if already signed in"`
}

func (cmd *LoginCmd) Run(ctx context.Context, app *app) error {
	if !cmd.Force && app.auth.HasValidSession() {
		fmt.Println("Already signed in. Use --force to re-authenticate.")
		return nil
	}

	result, err := app.auth.Authenticate(ctx,
		func(userCode, verificationURI string) {
			fmt.Printf("Open %s and enter the code %s\n", verificationURI, userCode)
		},
		func(status auth.Status) {
			if status == auth.StatusWaiting {
				fmt.Print(".")
			}
		})
	fmt.Println()
	if err != nil {
		return err
	}

	if result.User != nil && result.User.Login != "" {
		fmt.Printf("Signed in as %s\n", result.User.Login)
	} else {
		fmt.Println("Signed in.")
	}
	return nil
}

// LogoutCmd wipes the vault.
type LogoutCmd struct{}

func (cmd *LogoutCmd) Run(ctx context.Context, app *app) error {
	app.auth.Disconnect()
	fmt.Println("Signed out; stored credentials removed.")
	return nil
}

// StatusCmd reports what credentials are stored and whether the local
// servers respond.
type StatusCmd struct{}

func (cmd *StatusCmd) Run(ctx context.Context, app *app) error {
	if rec, ok := app.vault.Load(auth.RealmAccessToken); ok {
		fmt.Printf("GitHub access token:   %s (stored %s)\n",
			utils.MaskToken(rec.Secret), rec.StoredAt.Local().Format(time.RFC822))
	} else {
		fmt.Println("GitHub access token:   not stored (run `refpilot login`)")
	}

	if rec, ok := app.vault.Load(auth.RealmSessionToken); ok {
		line := fmt.Sprintf("Copilot session token: %s", utils.MaskToken(rec.Secret))
		if exp, known := rec.ExpiresAt(); known {
			if time.Now().After(exp) {
				line += " (expired; refreshed on next request)"
			} else {
				line += fmt.Sprintf(" (valid until %s)", exp.Local().Format(time.RFC822))
			}
		}
		fmt.Println(line)
	} else {
		fmt.Println("Copilot session token: not stored")
	}

	for _, p := range []local.Provider{local.ProviderOllama, local.ProviderOpenAICompat} {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		status := app.local.CheckConnection(probeCtx, p)
		cancel()
		if status.Connected {
			fmt.Printf("%-22s connected (%d models)\n", string(p)+":", len(status.Models))
		} else {
			fmt.Printf("%-22s not reachable\n", string(p)+":")
		}
	}
	return nil
}

// ModelsCmd lists the models a provider can serve.
type ModelsCmd struct {
	Provider string `help:"Provider to query" default:"copilot" enum:"copilot,ollama,openai-compat"`
}

func (cmd *ModelsCmd) Run(ctx context.Context, app *app) error {
	if cmd.Provider == providerCopilot {
		for _, id := range app.catalog.Models(ctx) {
			fmt.Println(id)
		}
		return nil
	}

	status := app.local.CheckConnection(ctx, local.Provider(cmd.Provider))
	if !status.Connected {
		return fmt.Errorf("%s not reachable: %s", cmd.Provider, status.Err)
	}
	for _, id := range status.Models {
		fmt.Println(id)
	}
	return nil
}

// ChatCmd sends one prompt and prints the completion.
type ChatCmd struct {
	Prompt []string `arg:"" help:"Prompt text"`

	Provider    string   `help:"Provider to use" default:"copilot" enum:"copilot,ollama,openai-compat"`
	Model       string   `short:"m" help:"Model to request (defaults to the configured model)"`
	System      string   `help:"Optional system message"`
	Image       []string `short:"i" help:"Image file(s) to attach" type:"existingfile"`
	Stream      bool     `help:"Stream the response as it arrives" default:"true" negatable:""`
	Temperature *float64 `help:"Sampling temperature"`
	MaxTokens   int      `help:"Completion length cap"`
}

func (cmd *ChatCmd) Run(ctx context.Context, app *app) error {
	msgs, err := cmd.buildMessages()
	if err != nil {
		return err
	}

	model := cmd.Model
	if model == "" {
		model = app.cfg.Model
	}
	temperature := cmd.Temperature
	if temperature == nil {
		temperature = app.cfg.Temperature
	}
	maxTokens := cmd.MaxTokens
	if maxTokens == 0 {
		maxTokens = app.cfg.MaxTokens
	}

	var onChunk func(delta, accumulated string)
	if cmd.Stream {
		onChunk = func(delta, accumulated string) { fmt.Print(delta) }
	}

	var content string
	if cmd.Provider == providerCopilot {
		result, err := app.chat.Chat(ctx, chat.Request{
			Model:       model,
			Messages:    msgs,
			Stream:      cmd.Stream,
			OnChunk:     onChunk,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return err
		}
		content = result.Content
	} else {
		result, err := app.local.Chat(ctx, local.Request{
			Provider:    local.Provider(cmd.Provider),
			Model:       model,
			Messages:    msgs,
			Stream:      cmd.Stream,
			OnChunk:     onChunk,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return err
		}
		content = result.Content
	}

	if cmd.Stream {
		fmt.Println()
	} else {
		fmt.Println(content)
	}
	return nil
}

func (cmd *ChatCmd) buildMessages() ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	if cmd.System != "" {
		msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Text: cmd.System})
	}

	user := models.ChatMessage{Role: models.RoleUser, Text: strings.Join(cmd.Prompt, " ")}
	for _, path := range cmd.Image {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		user.Images = append(user.Images, models.ImageAttachment{
			MIMEType: mimeTypeForFile(path),
			Data:     data,
		})
	}
	return append(msgs, user), nil
}

func mimeTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// app bundles the wired-up clients the commands run against.
type app struct {
	cfg     *config.Config
	vault   *vault.Vault
	auth    *auth.Authenticator
	catalog *catalog.Resolver
	chat    *chat.Client
	local   *local.Client
}

func newApp(cfg *config.Config, store vault.SecretStore, httpClient *http.Client) *app {
	v := vault.New(store)
	a := auth.New(v)
	resolver := catalog.New(httpClient, a)
	return &app{
		cfg:     cfg,
		vault:   v,
		auth:    a,
		catalog: resolver,
		chat:    chat.NewClient(httpClient, a, resolver),
		local:   local.NewClient(httpClient, cfg.OllamaURL, cfg.OpenAICompatURL),
	}
}
