package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/playback"
	"github.com/normanking/avatarchat/internal/tui"
)

func newChatCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the avatar in the terminal",
		Long:  "Open the terminal chat. Replies are spoken by the avatar's lip-sync timeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Console logging would draw over the full-screen UI.
			a, err := newApp(*cfgPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(a)
		},
	}
}

func runChat(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := playback.NewCoordinator(a.store, a.avatarRenderer(), a.logger.Zerolog(),
		playback.WithMaxDuration(a.cfg.Playback.MaxDuration))

	a.avatar.Start()
	defer a.avatar.Stop()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	go a.store.Greet(ctx)

	err := tui.Run(ctx, a.store, a.avatar)
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
