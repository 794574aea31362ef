package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/transcript"
)

func newHistoryCmd(cfgPath *string) *cobra.Command {
	var format string
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Browse archived conversations",
		Long:  "List archived sessions, or print one session's transcript by ID or ID prefix.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Transcript.Enabled {
				return fmt.Errorf("transcript archive is disabled (transcript.enabled)")
			}

			archive, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer archive.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if len(args) == 0 {
				sessions, err := archive.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				return printSessions(format, sessions)
			}

			id, err := resolveSession(ctx, archive, args[0])
			if err != nil {
				return err
			}
			msgs, err := archive.Messages(ctx, id)
			if err != nil {
				return err
			}
			return printTranscript(format, id, msgs)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list (0 for all)")
	return cmd
}

// resolveSession finds the session whose ID equals or starts with prefix.
func resolveSession(ctx context.Context, archive *transcript.SQLiteStore, prefix string) (string, error) {
	sessions, err := archive.ListSessions(ctx, 0)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, s := range sessions {
		if s.ID == prefix {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, prefix) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		if best := fuzzy.FindFrom(strings.ToLower(prefix), sessionSource(sessions)); len(best) > 0 {
			return "", fmt.Errorf("session not found: %s (did you mean %s?)", prefix, sessions[best[0].Index].ID)
		}
		return "", fmt.Errorf("session not found: %s", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("session prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// sessionSource wraps sessions for fuzzy matching
type sessionSource []transcript.SessionSummary

func (s sessionSource) String(i int) string {
	return strings.ToLower(s[i].ID)
}

func (s sessionSource) Len() int {
	return len(s)
}

func printSessions(format string, sessions []transcript.SessionSummary) error {
	switch format {
	case "json":
		return writeJSON(sessions)
	case "yaml":
		return writeYAML(sessions)
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if len(sessions) == 0 {
		fmt.Println(dimStyle.Render("No conversations archived yet. Run 'avatarchat serve' or 'avatarchat chat'."))
		return nil
	}

	fmt.Println(titleStyle.Render("Conversations"))
	fmt.Println()
	for _, s := range sessions {
		fmt.Printf("%s %s\n", successStyle.Render("●"), s.ID)
		fmt.Printf("  %s\n", dimStyle.Render(fmt.Sprintf("%d messages | started %s | updated %s",
			s.MessageCount,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"))))
		fmt.Println()
	}
	return nil
}

func printTranscript(format, id string, msgs []conversation.Message) error {
	switch format {
	case "json":
		return writeJSON(msgs)
	case "yaml":
		return writeYAML(msgs)
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	fmt.Println(titleStyle.Render("Conversation " + id))
	fmt.Println()
	for _, m := range msgs {
		who := "avatar"
		if m.Role == conversation.RoleUser {
			who = "you"
		}
		line := fmt.Sprintf("%3d %-6s %s", m.Sequence, who, m.Content)
		switch {
		case m.Synthetic:
			fmt.Println(errorStyle.Render(line))
		case m.Role == conversation.RoleUser:
			fmt.Println(line)
		default:
			fmt.Println(successStyle.Render(line) + " " + dimStyle.Render(string(m.Playback)))
		}
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
