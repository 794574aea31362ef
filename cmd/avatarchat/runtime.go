package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/normanking/avatarchat/internal/avatar"
	"github.com/normanking/avatarchat/internal/backend"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/logging"
	"github.com/normanking/avatarchat/internal/transcript"
)

// loadConfig reads the configuration, writing the defaults on first run.
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if loader.Path() != "" {
		if _, statErr := os.Stat(loader.Path()); statErr == nil {
			return loader, cfg, nil
		}
	}

	if path == "" {
		path = filepath.Join(config.GetConfigDir(), "config.yaml")
	}
	if err := config.Save(cfg, path); err != nil {
		return nil, nil, fmt.Errorf("write default config: %w", err)
	}
	fmt.Fprintln(os.Stderr, dimStyle.Render("Wrote default configuration to "+path))

	loader = config.NewLoader(path)
	cfg, err = loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func openArchive(cfg *config.Config) (*transcript.SQLiteStore, error) {
	if !cfg.Transcript.Enabled {
		return nil, nil
	}
	archive, err := transcript.NewSQLiteStore(cfg.Transcript.Path)
	if err != nil {
		return nil, fmt.Errorf("open transcript archive: %w", err)
	}
	return archive, nil
}

// app holds the components shared by serve and chat.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	logger  *logging.Logger
	events  *bus.EventBus
	archive *transcript.SQLiteStore
	store   *conversation.Store
	avatar  *avatar.Controller

	closers []func()
}

func newApp(cfgPath string, console bool) (*app, error) {
	loader, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(&logging.Config{
		Dir:     cfg.Log.Dir,
		Level:   logging.LogLevel(cfg.Log.Level),
		Console: console && cfg.Log.Console,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		loader: loader,
		cfg:    cfg,
		logger: logger,
		events: bus.NewEventBus(),
	}
	a.closers = append(a.closers, func() { logger.Close() })

	archive, err := openArchive(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if archive != nil {
		a.archive = archive
		a.closers = append(a.closers, func() { archive.Close() })
	}

	zl := logger.Zerolog()
	client := backend.NewClient(&backend.ClientConfig{
		BaseURL:      cfg.Backend.BaseURL,
		GreetingPath: cfg.Backend.GreetingPath,
		ChatPath:     cfg.Backend.ChatPath,
		Timeout:      cfg.Backend.Timeout,
		UserAgent:    cfg.Backend.UserAgent,
	}, zl)

	opts := []conversation.Option{
		conversation.WithErrorMessage(cfg.Conversation.ErrorMessage),
		conversation.WithRetry(cfg.Conversation.RetryAttempts, cfg.Conversation.RetryBackoff),
		conversation.WithRequireIdle(cfg.Conversation.RequireIdle),
		conversation.WithEventBus(a.events),
	}
	if a.archive != nil {
		opts = append(opts, conversation.WithRecorder(a.archive))
	}
	a.store = conversation.NewStore(client, zl, opts...)
	a.closers = append(a.closers, func() { a.store.Close() })

	a.avatar = avatar.NewController(
		avatar.WithBlinkInterval(cfg.Avatar.BlinkInterval),
		avatar.WithCameraZoomed(cfg.Avatar.CameraZoomed),
		avatar.WithEventBus(a.events),
	)
	a.store.Subscribe(a.avatar.Follow())

	// Conversation milestones go to the log history shown by /api/logs.
	a.events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeReplyActivated,
		bus.EventTypeReplyPlayed,
		bus.EventTypeExchangeFailed,
	}, func(e bus.Event) {
		logger.Debug("conversation", string(e.Type), e.Data)
	})
	a.events.Subscribe(bus.EventTypeSessionEnded, func(e bus.Event) {
		logger.Info("app", "Session ended", e.Data)
	})

	// Runs before the store and logger close, so the summary is written.
	a.closers = append(a.closers, func() {
		st := a.store.State()
		a.events.PublishSync(bus.Event{Type: bus.EventTypeSessionEnded, Data: map[string]any{
			"session":  a.store.SessionID(),
			"messages": len(st.History),
		}})
		a.events.Clear()
	})

	logger.Info("app", "Session started", map[string]any{
		"session": a.store.SessionID(),
		"backend": cfg.Backend.BaseURL,
		"config":  loader.Path(),
	})
	return a, nil
}

func (a *app) avatarRenderer() *avatar.Renderer {
	return avatar.NewRenderer(a.avatar, a.cfg.Avatar.CharsPerSec, a.logger.Zerolog())
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
