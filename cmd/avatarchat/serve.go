package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/logging"
	"github.com/normanking/avatarchat/internal/playback"
	"github.com/normanking/avatarchat/internal/server"
	"github.com/normanking/avatarchat/internal/speech"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web front-end",
		Long:  "Start the HTTP and websocket server that drives the browser avatar.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return runServe(a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := a.logger.Zerolog()

	var filter *speech.Filter
	if a.cfg.Speech.FilterFillers {
		filter = speech.NewFilter(nil)
	}

	hub := server.NewHub(zl)
	web := server.NewRenderer(hub, server.WithSkipSilent(a.cfg.Playback.SkipSilent))
	renderer := playback.Tee(web, a.avatarRenderer())
	coord := playback.NewCoordinator(a.store, renderer, zl,
		playback.WithMaxDuration(a.cfg.Playback.MaxDuration))

	deps := server.Deps{
		Conversation: a.store,
		Greeter:      a.store,
		Completer:    coord,
		Hub:          hub,
		Avatar:       a.avatar,
		Logs:         a.logger,
		Filter:       filter,
		Bus:          a.events,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	srv := server.New(a.cfg.Server, deps, zl)

	a.loader.Watch(func(cfg *config.Config, e fsnotify.Event) {
		a.logger.SetLevel(logging.LogLevel(cfg.Log.Level))
		a.logger.Info("config", "Configuration reloaded", map[string]any{
			"file":  e.Name,
			"level": cfg.Log.Level,
		})
	})

	a.avatar.Start()
	defer a.avatar.Stop()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Println(successStyle.Render("✓ avatarchat listening on " + a.cfg.Server.Addr))
	fmt.Println(dimStyle.Render("  session " + a.store.SessionID()))

	select {
	case <-ctx.Done():
		a.logger.Info("app", "Shutting down", nil)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
