package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Provider
	viper.SetDefault("endpoint", "https://api.groq.com/openai")
	viper.SetDefault("model", "llama-3.1-8b-instant")
	viper.SetDefault("llm.request_timeout", 20*time.Second)
	viper.SetDefault("llm.max_tokens", 120)
	viper.SetDefault("llm.temperature", 0.65)
	viper.SetDefault("secondary.endpoint", "https://api.openai.com")
	viper.SetDefault("secondary.api_key", "")

	// Credential pool
	viper.SetDefault("dispatch.failure_threshold", 2)
	viper.SetDefault("dispatch.suspend_duration", 30*time.Minute)

	// Conversation history
	viper.SetDefault("history.max_messages", 30)
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.path", "")
	viper.SetDefault("store.dsn", "")
	viper.SetDefault("store.redis.addr", "127.0.0.1:6379")
	viper.SetDefault("store.redis.username", "")
	viper.SetDefault("store.redis.password", "")
	viper.SetDefault("store.redis.db", 0)

	// Access policy
	viper.SetDefault("policy.offline_delay", 3*time.Second)

	// Persona
	viper.SetDefault("persona.file", "")

	// Telegram transport
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.task_timeout", 60*time.Second)
	viper.SetDefault("telegram.max_concurrency", 3)
}
