// Package app wires the client components for one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/pslog"

	"taskchat/internal/chat"
	"taskchat/internal/config"
	"taskchat/internal/credstore"
	"taskchat/internal/gateway"
	"taskchat/internal/service"
	"taskchat/internal/session"
	"taskchat/internal/tasks"
)

var (
	_ service.Sessions     = (*session.Manager)(nil)
	_ service.Tasks        = (*tasks.Synchronizer)(nil)
	_ service.Conversation = (*chat.Manager)(nil)
)

// Options overrides parts of the wiring. The zero value builds everything
// from config.
type Options struct {
	// Store replaces the store selected by config. It is closed with the App.
	Store credstore.Store

	// HTTPClient replaces the client built from config.
	HTTPClient *http.Client

	Now   func() time.Time
	NewID func() string
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Store    credstore.Store
	Sessions *session.Manager
	Gateway  *gateway.Gateway
	Tasks    *tasks.Synchronizer
	Chat     *chat.Manager
	Log      pslog.Logger
}

// New opens the credential store, restores the stored session and builds the
// task and conversation managers on top of it. The logger comes from ctx.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := pslog.Ctx(ctx)

	store := opts.Store
	if store == nil {
		if cfg.Store.Driver != config.DriverMemory {
			if err := cfg.EnsureDir(); err != nil {
				return nil, fmt.Errorf("create config directory: %w", err)
			}
		}
		var err error
		store, err = credstore.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	transport := gateway.NewTransport(gateway.Options{
		BaseURL:    cfg.BaseURL,
		HTTPClient: client,
		Logger:     log,
	})

	sessions := session.New(store, transport, log)
	sess, err := sessions.Bootstrap(ctx)
	if err != nil {
		log.Warn("session bootstrap incomplete", "err", err)
	}
	log.Debug("session restored", "session", sess.Status.String())

	gw := gateway.New(transport, sessions)
	conv, err := chat.New(ctx, chat.Config{
		Gateway:  gw,
		Sessions: sessions,
		Store:    store,
		Logger:   log,
		Now:      opts.Now,
		NewID:    opts.NewID,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Gateway:  gw,
		Tasks:    tasks.New(gw, sessions, log),
		Chat:     conv,
		Log:      log,
	}, nil
}

// Close detaches the managers and closes the store.
func (a *App) Close() error {
	a.Tasks.Close()
	a.Chat.Close()
	if err := a.Store.Close(); err != nil && !errors.Is(err, credstore.ErrClosed) {
		return err
	}
	return nil
}
