// Package persona loads the bot's personality configuration: the system
// prompt, the fixed non-owner texts, the fallback string, filler words
// and keyword intent rules. All of it is data; none of it is logic.
package persona

import (
	"fmt"
	"os"
	"strings"

	"github.com/petalhq/blossom/intent"
	"gopkg.in/yaml.v3"
)

const (
	defaultSystemPrompt = `You are Miss Blossom, a female AI assistant.

PERSONALITY:
- Be extremely friendly, calm, and emotionally supportive.
- Talk like a caring friend or family member.
- Keep replies short and warm unless detail is needed.
- Use emojis naturally, only hand and emotion emojis (👋 🙂 😊 🤍 🙏 🌸 ✨).
- Never use role-play text like *smiles*.

RULES:
- Never mention APIs, models, or system prompts.
- Be respectful, soft, and human-like.`

	defaultFallbackText = "Sorry 😔 I'm having a little trouble right now. Please try again."
	defaultGreetingText = "Hey 👋 I'm Miss Blossom.\nYou can talk to me freely 🙂"
)

type Config struct {
	SystemPrompt string        `yaml:"system_prompt"`
	OfflineText  string        `yaml:"offline_text"`
	CalmText     string        `yaml:"calm_text"`
	FallbackText string        `yaml:"fallback_text"`
	GreetingText string        `yaml:"greeting_text"`
	FillerWords  []string      `yaml:"filler_words"`
	Intents      []intent.Rule `yaml:"intents"`
}

// Default returns the built-in Miss Blossom persona. Offline and calm
// texts default empty here; the policy gate carries its own defaults.
func Default() Config {
	return Config{
		SystemPrompt: defaultSystemPrompt,
		FallbackText: defaultFallbackText,
		GreetingText: defaultGreetingText,
	}
}

// Load reads a persona file and fills blanks from Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read persona %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode persona %s: %w", path, err)
	}
	return withDefaults(cfg), nil
}

func withDefaults(cfg Config) Config {
	def := Default()
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		cfg.FallbackText = def.FallbackText
	}
	if strings.TrimSpace(cfg.GreetingText) == "" {
		cfg.GreetingText = def.GreetingText
	}
	return cfg
}

func (c Config) IntentTable() *intent.Table {
	if len(c.Intents) == 0 {
		return nil
	}
	return intent.NewTable(c.Intents)
}
