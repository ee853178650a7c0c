package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/petalhq/blossom/convo"
	"github.com/petalhq/blossom/dispatch"
	"github.com/petalhq/blossom/persona"
	"github.com/petalhq/blossom/providers/openai"
)

func personaFromViper() (persona.Config, error) {
	path := strings.TrimSpace(viper.GetString("persona.file"))
	if path == "" {
		return persona.Default(), nil
	}
	return persona.Load(path)
}

// poolFromViper builds the credential pool: one OpenAI-compatible client
// per configured key, plus the optional secondary tier.
func poolFromViper(keys []string, logger *slog.Logger) *dispatch.Pool {
	endpoint := strings.TrimSpace(viper.GetString("endpoint"))
	requestTimeout := viper.GetDuration("llm.request_timeout")

	creds := make([]dispatch.Credential, 0, len(keys))
	for i, key := range keys {
		client := openai.New(endpoint, strings.TrimSpace(key))
		if requestTimeout > 0 {
			client.HTTP.Timeout = requestTimeout
		}
		creds = append(creds, dispatch.Credential{
			Label:  fmt.Sprintf("key#%d", i+1),
			Client: client,
		})
	}

	opts := []dispatch.Option{
		dispatch.WithFailureThreshold(viper.GetInt("dispatch.failure_threshold")),
		dispatch.WithSuspendDuration(viper.GetDuration("dispatch.suspend_duration")),
		dispatch.WithLogger(logger),
	}
	if requestTimeout > 0 {
		opts = append(opts, dispatch.WithCallTimeout(requestTimeout+time.Second))
	}

	if secondaryKey := strings.TrimSpace(viper.GetString("secondary.api_key")); secondaryKey != "" {
		secondary := openai.New(strings.TrimSpace(viper.GetString("secondary.endpoint")), secondaryKey)
		if requestTimeout > 0 {
			secondary.HTTP.Timeout = requestTimeout
		}
		opts = append(opts, dispatch.WithSecondary(secondary))
	}

	return dispatch.NewPool(creds, opts...)
}

// storeFromViper selects the conversation store backend. Backend
// failures are returned so the caller can soft-degrade to memory.
func storeFromViper(maxMessages int) (convo.Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(viper.GetString("store.backend")))
	switch backend {
	case "", "memory":
		return convo.NewMemStore(maxMessages), "memory", nil
	case "file":
		path := strings.TrimSpace(viper.GetString("store.path"))
		if path == "" {
			path = "blossom-history"
		}
		return convo.NewFileStore(path, maxMessages), "file", nil
	case "sqlite":
		dsn := strings.TrimSpace(viper.GetString("store.dsn"))
		if dsn == "" {
			dsn = convo.SQLiteDSN("blossom.sqlite")
		}
		s, err := convo.OpenSQLiteStore(dsn, maxMessages)
		if err != nil {
			return nil, "sqlite", err
		}
		return s, "sqlite", nil
	case "redis":
		s, err := convo.NewRedisStore(convo.RedisConfig{
			Addr:     viper.GetString("store.redis.addr"),
			Username: viper.GetString("store.redis.username"),
			Password: viper.GetString("store.redis.password"),
			DB:       viper.GetInt("store.redis.db"),
		}, maxMessages)
		if err != nil {
			return nil, "redis", err
		}
		return s, "redis", nil
	default:
		return nil, backend, fmt.Errorf("unknown store.backend: %s", backend)
	}
}
