package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", dir)
	path := filepath.Join(dir, "rovas.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROVAS_STORAGE_PATH", filepath.Join(dir, "state", "rovas.bolt"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tracking.InactivityTolerance != 30 {
		t.Errorf("tolerance = %d, want 30", cfg.Tracking.InactivityTolerance)
	}
	if cfg.Tracking.Tolerance() != 30*time.Second {
		t.Errorf("Tolerance() = %v", cfg.Tracking.Tolerance())
	}
	if !cfg.Tracking.UnpaidEditor {
		t.Error("unpaid_editor should default to true")
	}
	if cfg.Report.Classification != 1645 || cfg.Report.FeeRate != 0.03 {
		t.Errorf("unexpected report defaults: %+v", cfg.Report)
	}
	if cfg.Report.ConnectorProject(false) != 35259 || cfg.Report.ConnectorProject(true) != 24682 {
		t.Errorf("unexpected connector projects: %+v", cfg.Report)
	}
	if cfg.API.MaxRetries != 5 || cfg.API.Timeout != "10s" {
		t.Errorf("unexpected api defaults: %+v", cfg.API)
	}
	if _, err := os.Stat(filepath.Join(dir, "state")); err != nil {
		t.Errorf("storage directory not created: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
api:
  developer: true
  timeout: 3s
tracking:
  inactivity_tolerance: 90
  watch_paths:
    - $DIR/data
  restore_previous: add
storage:
  path: $DIR/rovas.bolt
logging:
  format: text
`)
	t.Setenv("ROVAS_TRACKING_UNPAID_EDITOR", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.API.Developer || cfg.API.Timeout != "3s" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Tracking.InactivityTolerance != 90 {
		t.Errorf("tolerance = %d, want 90", cfg.Tracking.InactivityTolerance)
	}
	if len(cfg.Tracking.WatchPaths) != 1 || !strings.HasSuffix(cfg.Tracking.WatchPaths[0], "/data") {
		t.Errorf("watch_paths = %v", cfg.Tracking.WatchPaths)
	}
	if cfg.Tracking.RestorePrevious != "add" {
		t.Errorf("restore_previous = %q", cfg.Tracking.RestorePrevious)
	}
	if cfg.Tracking.UnpaidEditor {
		t.Error("environment should override unpaid_editor")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
}

func TestToleranceClamped(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "zero", value: "0", want: MinToleranceSeconds},
		{name: "negative", value: "-10", want: MinToleranceSeconds},
		{name: "in range", value: "120", want: 120},
		{name: "too large", value: "1000", want: MaxToleranceSeconds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "tracking:\n  inactivity_tolerance: "+tt.value+"\nstorage:\n  path: $DIR/rovas.bolt\n")
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Tracking.InactivityTolerance != tt.want {
				t.Errorf("tolerance = %d, want %d", cfg.Tracking.InactivityTolerance, tt.want)
			}
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "proof url without verb", body: "report:\n  proof_url: https://example.org/\n", wantErr: "proof_url"},
		{name: "proof url with two verbs", body: "report:\n  proof_url: https://example.org/%d/%d\n", wantErr: "proof_url"},
		{name: "restore previous", body: "tracking:\n  restore_previous: maybe\n", wantErr: "restore_previous"},
		{name: "storage type", body: "storage:\n  type: sqlite\n", wantErr: "storage type"},
		{name: "api timeout", body: "api:\n  timeout: soon\n", wantErr: "api timeout"},
		{name: "fee rate", body: "report:\n  fee_rate: 2\n", wantErr: "fee rate"},
		{name: "logging format", body: "logging:\n  format: xml\n", wantErr: "logging format"},
		{name: "history retention", body: "storage:\n  path: $DIR/rovas.bolt\n  history_retention: forever\n", wantErr: "history retention"},
		{name: "negative history retention", body: "storage:\n  path: $DIR/rovas.bolt\n  history_retention: -1h\n", wantErr: "history retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if !strings.Contains(body, "storage:") {
				body += "storage:\n  path: $DIR/rovas.bolt\n"
			}
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		t.Setenv("ROVAS_API_KEY", " key ")
		t.Setenv("ROVAS_API_TOKEN", "token")
		t.Setenv("ROVAS_PROJECT_ID", "42")

		creds, ok := CredentialsFromEnv()
		if !ok {
			t.Fatal("expected credentials")
		}
		if creds.APIKey != "key" || creds.APIToken != "token" || creds.ProjectID != 42 {
			t.Errorf("creds = %+v", creds)
		}
	})

	t.Run("incomplete", func(t *testing.T) {
		t.Setenv("ROVAS_API_KEY", "key")
		t.Setenv("ROVAS_API_TOKEN", "")
		t.Setenv("ROVAS_PROJECT_ID", "42")

		if _, ok := CredentialsFromEnv(); ok {
			t.Error("expected no credentials")
		}
	})
}

func TestWatchReloadsTolerance(t *testing.T) {
	path := writeConfig(t, "tracking:\n  inactivity_tolerance: 30\nstorage:\n  path: $DIR/rovas.bolt\n")

	changes := make(chan *Config, 4)
	if err := Watch(path, zerolog.Nop(), func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	body := "tracking:\n  inactivity_tolerance: 60\nstorage:\n  path: " + filepath.Join(filepath.Dir(path), "rovas.bolt") + "\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Tracking.InactivityTolerance == 60 {
				return
			}
		case <-deadline:
			t.Fatal("configuration change was not observed")
		}
	}
}

func TestDefaultsAndKeys(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.ControlPort != 8765 || cfg.Storage.Type != "bolt" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Server, cfg.Storage)
	}

	keys := map[string]bool{}
	for _, k := range Keys() {
		keys[k] = true
	}
	for _, want := range []string{"tracking.inactivity_tolerance", "report.proof_url", "storage.redis.host", "logging.format"} {
		if !keys[want] {
			t.Errorf("Keys() is missing %q", want)
		}
	}
}

func TestHistoryRetention(t *testing.T) {
	tests := map[string]time.Duration{
		"":      0,
		"0s":    0,
		"720h":  720 * time.Hour,
		"-1h":   0,
		"never": 0,
	}
	for in, want := range tests {
		if got := (StorageConfig{HistoryRetention: in}).Retention(); got != want {
			t.Errorf("Retention(%q) = %v, want %v", in, got, want)
		}
	}

	if got := Defaults().Storage.Retention(); got != 0 {
		t.Errorf("default retention = %v, want 0", got)
	}
}

func TestLoadUser(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("HOME", base)
	t.Setenv("ROVAS_STORAGE_PATH", "")

	dir, err := UserDir()
	if err != nil {
		t.Fatalf("UserDir() error = %v", err)
	}
	if filepath.Base(dir) != "rovas" {
		t.Errorf("UserDir() = %q, want a rovas directory", dir)
	}

	cfg, err := LoadUser(filepath.Join(dir, "config.yaml"), dir)
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if want := filepath.Join(dir, "rovas.bolt"); cfg.Storage.Path != want {
		t.Errorf("storage path = %q, want %q", cfg.Storage.Path, want)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("user directory not created: %v", err)
	}

	// A path from the file still wins.
	path := writeConfig(t, "storage:\n  path: $DIR/elsewhere.bolt\n")
	cfg, err = LoadUser(path, dir)
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if filepath.Base(cfg.Storage.Path) != "elsewhere.bolt" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
}
