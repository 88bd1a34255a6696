package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikaelTHEoret/mastermind"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

func newChatCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID string
		noMemory  bool
		system    string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or converse line by line on stdin",
		Long: "With a message argument, sends it once and prints the reply. Without one, " +
			"reads one message per line from stdin and keeps the conversation history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(ctx context.Context, s *session) error {
				c := &chatter{client: s.client, sessionID: sessionID, skipMemory: noMemory}
				if system != "" {
					c.history = append(c.history, types.SystemMessage(system))
				}

				out := cmd.OutOrStdout()
				if len(args) > 0 {
					reply, err := c.send(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					fmt.Fprintln(out, reply)
					return nil
				}

				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					reply, err := c.send(ctx, line)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, reply)
				}
				return scanner.Err()
			})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "conversation session id for compaction")
	cmd.Flags().BoolVar(&noMemory, "no-memory", false, "skip memory retrieval and compaction")
	cmd.Flags().StringVar(&system, "system", "", "system prompt prepended to the conversation")
	return cmd
}

// chatter keeps the running history of an interactive conversation.
type chatter struct {
	client     *mastermind.Client
	sessionID  string
	skipMemory bool
	history    []types.Message
}

func (c *chatter) send(ctx context.Context, text string) (string, error) {
	messages := append(append([]types.Message(nil), c.history...), types.UserMessage(text))
	resp, err := c.client.Chat(ctx, &mastermind.ChatRequest{
		Messages:   messages,
		SessionID:  c.sessionID,
		SkipMemory: c.skipMemory,
	})
	if err != nil {
		return "", err
	}
	c.history = append(messages, resp.Message)
	return resp.Message.Content, nil
}
