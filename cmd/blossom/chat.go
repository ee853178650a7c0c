package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petalhq/blossom/bot"
	"github.com/petalhq/blossom/convo"
	"github.com/petalhq/blossom/policy"
)

// newChatCmd is the one-shot path: a single owner turn from the
// terminal, no Telegram involved. Useful for persona and key checks.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one message as the owner and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(flagOrViperString(cmd, "text", ""))
			if text == "" {
				data, err := os.ReadFile("/dev/stdin")
				if err == nil {
					text = strings.TrimSpace(string(data))
				}
			}
			if text == "" {
				return fmt.Errorf("missing --text (or stdin)")
			}

			keys := flagOrViperStringArray(cmd, "api-key", "api_keys")
			clean := keys[:0]
			for _, k := range keys {
				if strings.TrimSpace(k) != "" {
					clean = append(clean, k)
				}
			}
			keys = clean
			if len(keys) == 0 {
				return fmt.Errorf("api_keys is required (at least one key)")
			}

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			p, err := personaFromViper()
			if err != nil {
				return err
			}

			pool := poolFromViper(keys, logger)

			const identity = "local"
			var reply string
			sendFn := func(id, text string) {
				if id == identity {
					reply = text
				}
			}

			gate := policy.NewGate(identity, sendFn, policy.WithLogger(logger))
			orch := bot.New(gate, convo.NewMemStore(convo.DefaultMaxMessages), pool, sendFn, bot.Config{
				Model:        strings.TrimSpace(flagOrViperString(cmd, "model", "model")),
				MaxTokens:    viper.GetInt("llm.max_tokens"),
				Temperature:  viper.GetFloat64("llm.temperature"),
				SystemPrompt: p.SystemPrompt,
				FallbackText: p.FallbackText,
				FillerWords:  p.FillerWords,
			},
				bot.WithLogger(logger),
				bot.WithIntents(p.IntentTable()),
			)

			timeout := flagOrViperDuration(cmd, "timeout", "telegram.task_timeout")
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			orch.OnMessage(ctx, identity, text)
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().String("text", "", "Message to send (if empty, reads from stdin).")
	cmd.Flags().StringArray("api-key", nil, "Provider API key(s), rotated on failure.")
	cmd.Flags().String("model", "", "Model name for completions.")
	cmd.Flags().Duration("timeout", 60*time.Second, "Turn timeout.")

	return cmd
}
