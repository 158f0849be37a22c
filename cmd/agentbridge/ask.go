package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"phobos.org.uk/agentbridge/internal/client"
	"phobos.org.uk/agentbridge/internal/config"
	"phobos.org.uk/agentbridge/internal/conversation"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAskCmd() *cobra.Command {
	var (
		url       string
		token     string
		sessionID string
		closeDone bool
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run one turn on a serving bridge",
		Long:  "Open (or reuse) a session on a running bridge, run one turn and print the reply. The session stays open for follow-up turns unless --close is given.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(url, token)
			ctx := cmd.Context()

			sess, err := c.Open(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("opening session: %w", err)
			}

			res, err := c.RunTurn(ctx, sess.SessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if res.Text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s stop_reason: %s (round trips: %d, tokens: %d)\n",
				sess.SessionID, res.StopReason, res.RoundTrips, res.Tokens)

			if closeDone {
				if err := c.Close(ctx, sess.SessionID); err != nil {
					return fmt.Errorf("closing session: %w", err)
				}
			}
			if res.StopReason == conversation.StopError {
				return fmt.Errorf("turn failed: %s", res.Error)
			}
			return nil
		},
	}
	defaultURL := fmt.Sprintf("http://%s:%d", config.DefaultBind, config.DefaultPort)
	cmd.Flags().StringVar(&url, "url", envOrDefault("AGENTBRIDGE_URL", defaultURL), "Bridge URL (env AGENTBRIDGE_URL)")
	cmd.Flags().StringVar(&token, "token", os.Getenv("AGENTBRIDGE_TOKEN"), "Bearer token (env AGENTBRIDGE_TOKEN)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (minted when empty)")
	cmd.Flags().BoolVar(&closeDone, "close", false, "Terminate the session after the turn")
	return cmd
}
