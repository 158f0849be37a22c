package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"phobos.org.uk/agentbridge/internal/bridge"
	"phobos.org.uk/agentbridge/internal/conversation"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		sessionID string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one turn in a fresh session and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")

			logOut := io.Discard
			if verbose {
				logOut = cmd.ErrOrStderr()
			}
			log := newLogger(cfg, logOut)

			var opts []bridge.Option
			if verbose {
				opts = append(opts, bridge.WithObserver(progress(cmd)))
			}
			b := bridge.New(cfg, log, opts...)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				b.Shutdown(ctx)
			}()

			h, err := b.Open(sessionID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := b.RunTurn(ctx, h.SessionID(), prompt)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Text != "" {
				fmt.Fprintln(out, res.Text)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "stop_reason: %s (round trips: %d, tokens: %d, tool calls: %d, %s)\n",
				res.StopReason, res.RoundTrips, res.Tokens, res.ToolCalls, res.Duration.Round(time.Millisecond))

			if res.StopReason == conversation.StopError {
				return fmt.Errorf("turn failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (minted when empty)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr and show tool calls as they happen")
	return cmd
}

// progress prints tool activity to stderr.
func progress(cmd *cobra.Command) conversation.Observer {
	w := cmd.ErrOrStderr()
	return func(u conversation.Update) {
		switch u.Kind {
		case conversation.UpdateToolCall:
			fmt.Fprintf(w, "-> %s %s\n", u.Call.Name, string(u.Call.Arguments))
		case conversation.UpdateToolResult:
			fmt.Fprintf(w, "<- %s %s\n", u.Result.ID, u.Result.Status)
		}
	}
}
