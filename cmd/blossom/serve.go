package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petalhq/blossom/bot"
	"github.com/petalhq/blossom/convo"
	"github.com/petalhq/blossom/policy"
)

type telegramJob struct {
	Identity string
	ChatID   int64
	Text     string
}

type telegramChatWorker struct {
	Jobs chan telegramJob
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot (long polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}

			token := strings.TrimSpace(flagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
			if token == "" {
				return fmt.Errorf("telegram.bot_token is required")
			}
			ownerID := strings.TrimSpace(flagOrViperString(cmd, "owner-id", "owner_id"))
			if ownerID == "" {
				return fmt.Errorf("owner_id is required")
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

			model := strings.TrimSpace(flagOrViperString(cmd, "model", "model"))
			historyMax := flagOrViperInt(cmd, "history-max-messages", "history.max_messages")
			if historyMax <= 0 {
				historyMax = convo.DefaultMaxMessages
			}
			pollTimeout := flagOrViperDuration(cmd, "telegram-poll-timeout", "telegram.poll_timeout")
			if pollTimeout <= 0 {
				pollTimeout = 30 * time.Second
			}
			taskTimeout := flagOrViperDuration(cmd, "telegram-task-timeout", "telegram.task_timeout")
			if taskTimeout <= 0 {
				taskTimeout = 60 * time.Second
			}
			maxConc := flagOrViperInt(cmd, "telegram-max-concurrency", "telegram.max_concurrency")
			if maxConc <= 0 {
				maxConc = 3
			}
			sem := make(chan struct{}, maxConc)

			baseURL := strings.TrimSpace(viper.GetString("telegram.base_url"))
			if baseURL == "" {
				baseURL = "https://api.telegram.org"
			}

			p, err := personaFromViper()
			if err != nil {
				return err
			}

			store, backend, err := storeFromViper(historyMax)
			if err != nil {
				// A broken store must not keep the bot offline. Fall back to
				// the in-process store and keep serving.
				logger.Warn("store_backend_unavailable",
					"backend", backend,
					"error", err.Error(),
				)
				store = convo.NewMemStore(historyMax)
				backend = "memory"
			}

			pool := poolFromViper(keys, logger)

			httpClient := &http.Client{Timeout: 60 * time.Second}
			api := newTelegramAPI(httpClient, baseURL, token)

			me, err := api.getMe(context.Background())
			if err != nil {
				return err
			}
			botUser := me.Username
			botID := me.ID

			// Identities are Telegram user ids, but replies go to chats.
			// Remember which chat each identity last wrote from.
			var (
				routeMu sync.Mutex
				routes  = make(map[string]int64)
			)
			chatFor := func(identity string) (int64, bool) {
				routeMu.Lock()
				chatID, ok := routes[identity]
				routeMu.Unlock()
				if ok {
					return chatID, true
				}
				n, err := strconv.ParseInt(identity, 10, 64)
				if err != nil {
					return 0, false
				}
				return n, true
			}
			sendFn := func(identity, text string) {
				chatID, ok := chatFor(identity)
				if !ok {
					logger.Warn("telegram_route_unknown", "identity", identity)
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := api.sendMessageChunked(ctx, chatID, text); err != nil {
					logger.Warn("telegram_send_error", "chat_id", chatID, "error", err.Error())
				}
			}

			gate := policy.NewGate(ownerID, sendFn,
				policy.WithTexts(p.OfflineText, p.CalmText),
				policy.WithDelay(viper.GetDuration("policy.offline_delay")),
				policy.WithLogger(logger),
			)

			orch := bot.New(gate, store, pool, sendFn, bot.Config{
				Model:        model,
				MaxTokens:    viper.GetInt("llm.max_tokens"),
				Temperature:  viper.GetFloat64("llm.temperature"),
				HistoryLimit: historyMax,
				SystemPrompt: p.SystemPrompt,
				FallbackText: p.FallbackText,
				FillerWords:  p.FillerWords,
			},
				bot.WithLogger(logger),
				bot.WithIntents(p.IntentTable()),
			)

			var (
				mu      sync.Mutex
				workers = make(map[int64]*telegramChatWorker)
				offset  int64
			)

			logger.Info("telegram_start",
				"base_url", baseURL,
				"bot_username", botUser,
				"bot_id", botID,
				"store_backend", backend,
				"keys", len(keys),
				"model", model,
				"poll_timeout", pollTimeout.String(),
				"task_timeout", taskTimeout.String(),
				"max_concurrency", maxConc,
			)

			getOrStartWorkerLocked := func(chatID int64) *telegramChatWorker {
				if w, ok := workers[chatID]; ok && w != nil {
					return w
				}
				w := &telegramChatWorker{Jobs: make(chan telegramJob, 16)}
				workers[chatID] = w

				go func(w *telegramChatWorker) {
					for job := range w.Jobs {
						// Global concurrency limit.
						sem <- struct{}{}
						func() {
							defer func() { <-sem }()

							if job.Identity == ownerID {
								_ = api.sendChatAction(context.Background(), job.ChatID, "typing")
							}

							ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
							orch.OnMessage(ctx, job.Identity, job.Text)
							cancel()
						}()
					}
				}(w)

				return w
			}

			for {
				updates, nextOffset, err := api.getUpdates(context.Background(), offset, pollTimeout)
				if err != nil {
					logger.Warn("telegram_get_updates_error", "error", err.Error())
					time.Sleep(1 * time.Second)
					continue
				}
				offset = nextOffset

				for _, u := range updates {
					msg := u.Message
					if msg == nil || msg.Chat == nil || msg.From == nil || msg.From.IsBot {
						continue
					}
					chatID := msg.Chat.ID
					identity := identityOf(msg.From.ID)
					text := strings.TrimSpace(msg.Text)
					if text == "" {
						continue
					}

					routeMu.Lock()
					routes[identity] = chatID
					routeMu.Unlock()

					chatType := strings.ToLower(strings.TrimSpace(msg.Chat.Type))
					isGroup := chatType == "group" || chatType == "supergroup"
					isOwner := identity == ownerID

					if isGroup {
						if !shouldReplyInGroup(msg, botUser, botID, ownerID) {
							logger.Debug("telegram_group_ignored", "chat_id", chatID, "type", chatType)
							continue
						}
						text = stripBotMention(text, botUser)
						if text == "" {
							continue
						}
					}

					cmdWord, _ := splitCommand(text)
					switch c := normalizeSlashCommand(cmdWord); {
					case c == "/start" && isOwner:
						sendFn(identity, p.GreetingText)
						continue
					case c == "/id" && isOwner:
						sendFn(identity, fmt.Sprintf("chat_id=%d user_id=%s", chatID, identity))
						continue
					case c == "/reset" && isOwner:
						if orch.ResetHistory(context.Background(), identity) {
							sendFn(identity, "ok (reset)")
						} else {
							sendFn(identity, "reset is not supported by this store")
						}
						continue
					case c == "/revive" && isOwner:
						pool.Revive()
						sendFn(identity, "ok (revived)")
						continue
					}

					// Enqueue to per-chat worker (per chat serial, across
					// chats parallel). Non-owner text goes through too so
					// the gate can run its sequence.
					mu.Lock()
					w := getOrStartWorkerLocked(chatID)
					mu.Unlock()
					logger.Info("telegram_task_enqueued",
						"chat_id", chatID,
						"type", chatType,
						"owner", isOwner,
						"text_len", len(text),
					)
					w.Jobs <- telegramJob{Identity: identity, ChatID: chatID, Text: text}
				}
			}
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("owner-id", "", "Telegram user id of the owner.")
	cmd.Flags().StringArray("api-key", nil, "Provider API key(s), rotated on failure.")
	cmd.Flags().String("model", "", "Model name for completions.")
	cmd.Flags().Int("history-max-messages", convo.DefaultMaxMessages, "Max history messages kept per identity.")
	cmd.Flags().Duration("telegram-poll-timeout", 30*time.Second, "Long polling timeout for getUpdates.")
	cmd.Flags().Duration("telegram-task-timeout", 60*time.Second, "Per-message processing timeout.")
	cmd.Flags().Int("telegram-max-concurrency", 3, "Max number of chats processed concurrently.")

	return cmd
}
