package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./data/db/documents.db"
watch:
  directories: ["./dev/sample"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "documents.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "dev", "sample")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], wantWatch)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("default request timeout: got %s", cfg.Server.RequestTimeout)
	}
	if cfg.Embedding.Provider != "hashing" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("default embedding: got %+v", cfg.Embedding)
	}
	if cfg.Embedding.OpenAI.APIKeyEnv != "CARELENS_OPENAI_API_KEY" {
		t.Errorf("default api key env: got %s", cfg.Embedding.OpenAI.APIKeyEnv)
	}
	if cfg.Store.DefaultLimit != 5 || cfg.Store.MaxLimit != 1000 {
		t.Errorf("default store limits: got %+v", cfg.Store)
	}
	if cfg.Query.SearchLimit != 200 || cfg.Query.RecentSessions != 3 {
		t.Errorf("default query settings: got %+v", cfg.Query)
	}
	if cfg.Ingest.ChunkSize != 200 || cfg.Ingest.ChunkOverlap != 40 {
		t.Errorf("default ingest settings: got %+v", cfg.Ingest)
	}
	if len(cfg.Watch.Extensions) != 8 || cfg.Watch.Extensions[0] != ".csv" || cfg.Watch.Extensions[1] != ".xlsx" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if cfg.Watch.Recursive != nil {
		t.Error("recursive should stay unset without directories")
	}
}

func TestLoad_durationsAndSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  request_timeout: 5s
embedding:
  provider: openai
  openai:
    model: "nomic-embed-text"
    timeout: 2m
query:
  recent_sessions: 5
ingest:
  chunk_size: 120
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("request timeout = %s", cfg.Server.RequestTimeout)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.OpenAI.Model != "nomic-embed-text" || cfg.Embedding.OpenAI.Timeout != 2*time.Minute {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Query.RecentSessions != 5 || cfg.Query.SearchLimit != 200 {
		t.Errorf("query = %+v", cfg.Query)
	}
	if cfg.Ingest.ChunkSize != 120 || cfg.Ingest.ChunkOverlap != 40 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CARELENS_PORT", "9191")
	t.Setenv("CARELENS_DEBUG", "true")
	t.Setenv("CARELENS_EMBEDDING_PROVIDER", "mock")
	cfg := &Config{}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9191 || !cfg.Debug || cfg.Embedding.Provider != "mock" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("CARELENS_PORT", "not-a-port")
	if err := ApplyEnv(&Config{}); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8081}
	if s.Addr() != "0.0.0.0:8081" {
		t.Errorf("Addr() = %s", s.Addr())
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/docs"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("true_returns_true", func(t *testing.T) {
		v := true
		w := &WatchConfig{Recursive: &v}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
