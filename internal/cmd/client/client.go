// Package client parses chat client flags and composes the terminal session.
package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/dingychat/dingychat-go/internal/authclient"
	"github.com/dingychat/dingychat-go/internal/chat"
	"github.com/dingychat/dingychat-go/internal/credentials"
	entrypoint "github.com/dingychat/dingychat-go/internal/platform/cmd"
	"github.com/dingychat/dingychat-go/internal/tui"
)

// Config holds chat client configuration.
type Config struct {
	ServerURL       string `env:"DINGYCHAT_SERVER_URL"       envDefault:"ws://localhost:4000/ws"`
	APIBaseURL      string `env:"DINGYCHAT_API_BASE_URL"     envDefault:"http://localhost:4000"`
	DefaultRoom     string `env:"DINGYCHAT_DEFAULT_ROOM"`
	CredentialsPath string `env:"DINGYCHAT_CREDENTIALS_PATH" envDefault:"dingychat.db"`
	Username        string `env:"DINGYCHAT_USERNAME"`

	Password string
	Register bool
	Logout   bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "chat server WebSocket URL")
	fs.StringVar(&cfg.APIBaseURL, "api-base-url", cfg.APIBaseURL, "auth service base URL")
	fs.StringVar(&cfg.DefaultRoom, "room", cfg.DefaultRoom, "room joined after connecting")
	fs.StringVar(&cfg.CredentialsPath, "credentials", cfg.CredentialsPath, "credential store path")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "account username")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "account password")
	fs.BoolVar(&cfg.Register, "register", cfg.Register, "create the account before logging in")
	fs.BoolVar(&cfg.Logout, "logout", cfg.Logout, "clear stored credentials and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run resolves a session and drives the terminal UI until the user quits.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceClient, func(ctx context.Context) error {
		store, err := credentials.Open(cfg.CredentialsPath)
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}
		defer store.Close()

		if cfg.Logout {
			if err := store.Clear(ctx); err != nil {
				return fmt.Errorf("clear credentials: %w", err)
			}
			log.Printf("client: credentials cleared")
			return nil
		}

		auth, err := authclient.New(cfg.APIBaseURL)
		if err != nil {
			return fmt.Errorf("build auth client: %w", err)
		}

		creds, err := resolveSession(ctx, cfg, auth, store)
		if err != nil {
			return err
		}

		room := cfg.DefaultRoom
		if room == "" {
			room = auth.FreeRoom(ctx)
		}

		client, err := chat.New(chat.Config{
			ServerURL:   cfg.ServerURL,
			Username:    creds.Username,
			Color:       creds.Color,
			DefaultRoom: room,
		})
		if err != nil {
			return fmt.Errorf("build chat client: %w", err)
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := client.Run(runCtx); err != nil {
				log.Printf("client: run loop: %v", err)
			}
		}()

		if rooms, err := auth.Rooms(ctx, creds.Token); err != nil {
			log.Printf("client: fetch room directory: %v", err)
		} else if err := client.SeedRooms(rooms); err != nil {
			log.Printf("client: seed rooms: %v", err)
		}

		// A failed handshake is not fatal: the UI surfaces the error state
		// with its retry affordance.
		if err := client.Connect(ctx, creds.Token); err != nil {
			log.Printf("client: connect: %v", err)
		}

		ui, err := tui.New(tui.Config{
			Client: client,
			Token:  creds.Token,
			OnLogout: func() {
				if err := store.Clear(context.Background()); err != nil {
					log.Printf("client: clear credentials: %v", err)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("build terminal ui: %w", err)
		}
		defer ui.Close()

		return ui.Run(ctx)
	})
}

// resolveSession prefers fresh CLI credentials over the stored session.
func resolveSession(ctx context.Context, cfg Config, auth *authclient.Client, store *credentials.Store) (credentials.Credentials, error) {
	if cfg.Username != "" && cfg.Password != "" {
		var (
			session authclient.Session
			err     error
		)
		if cfg.Register {
			session, err = auth.Register(ctx, cfg.Username, cfg.Password)
		} else {
			session, err = auth.Login(ctx, cfg.Username, cfg.Password)
		}
		if err != nil {
			return credentials.Credentials{}, err
		}
		creds := credentials.Credentials{
			Token:    session.Token,
			Username: cfg.Username,
			Color:    session.Color,
		}
		if err := store.Save(ctx, creds); err != nil {
			return credentials.Credentials{}, fmt.Errorf("save credentials: %w", err)
		}
		return creds, nil
	}

	creds, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return credentials.Credentials{}, errors.New("no stored session: log in with -username and -password")
		}
		return credentials.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	if authclient.TokenStale(creds.Token, time.Now()) {
		if err := store.Clear(ctx); err != nil {
			return credentials.Credentials{}, fmt.Errorf("clear stale credentials: %w", err)
		}
		return credentials.Credentials{}, errors.New("stored session expired: log in with -username and -password")
	}
	return creds, nil
}
