package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultHasFallback(t *testing.T) {
	cfg := Default()
	if strings.TrimSpace(cfg.FallbackText) == "" {
		t.Fatalf("default fallback text is empty")
	}
	if !strings.Contains(cfg.SystemPrompt, "Miss Blossom") {
		t.Fatalf("default system prompt missing persona name")
	}
}

func TestLoadFillsBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	doc := "offline_text: \"gone\"\n" +
		"intents:\n" +
		"  - name: greeting\n" +
		"    keywords: [\"good morning\"]\n" +
		"    reply: \"Morning 🙂\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.OfflineText != "gone" {
		t.Fatalf("OfflineText = %q", cfg.OfflineText)
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" || strings.TrimSpace(cfg.FallbackText) == "" {
		t.Fatalf("defaults not filled: %+v", cfg)
	}

	table := cfg.IntentTable()
	if table == nil {
		t.Fatalf("IntentTable = nil")
	}
	if reply, ok := table.Match("good morning"); !ok || reply != "Morning 🙂" {
		t.Fatalf("Match = (%q, %v)", reply, ok)
	}
}

func TestIntentTableNilWhenEmpty(t *testing.T) {
	if Default().IntentTable() != nil {
		t.Fatalf("IntentTable should be nil without rules")
	}
}
