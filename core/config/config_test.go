package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got %v", err)
	}
	if cfg.Bus.QueueCapacity != 1000 {
		t.Fatalf("expected default queue capacity, got %d", cfg.Bus.QueueCapacity)
	}
	if cfg.Interruption.VADThreshold != 0.01 {
		t.Fatalf("expected default vad threshold, got %g", cfg.Interruption.VADThreshold)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bus:
  queue_capacity: 50
conversation:
  conversation_timeout: 2m
interruption:
  vad_threshold: 0.05
health:
  services:
    - name: llm
      url: http://localhost:11434/api/tags
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.Bus.QueueCapacity != 50 {
		t.Fatalf("expected overridden queue capacity, got %d", cfg.Bus.QueueCapacity)
	}
	if cfg.Conversation.ConversationTimeout != 2*time.Minute {
		t.Fatalf("expected 2m conversation timeout, got %s", cfg.Conversation.ConversationTimeout)
	}
	if cfg.Conversation.ContextBufferSize != 100 {
		t.Fatalf("expected untouched default buffer size, got %d", cfg.Conversation.ContextBufferSize)
	}
	if len(cfg.Health.Services) != 1 || cfg.Health.Services[0].Name != "llm" {
		t.Fatalf("expected one llm service, got %+v", cfg.Health.Services)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		message string
	}{
		{"zero queue", "bus:\n  queue_capacity: 0\n", "queue_capacity"},
		{"threshold too high", "interruption:\n  vad_threshold: 1.5\n", "vad_threshold"},
		{"unnamed service", "health:\n  services:\n    - url: http://x\n", "need a name"},
		{"service without url", "health:\n  services:\n    - name: rag\n", "needs a url"},
		{"bad resource limit", "health:\n  resources:\n    cpu_percent: 250\n", "cpu_percent"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bus: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error for malformed yaml")
	}
}
