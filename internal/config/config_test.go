package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COMMUNITIES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "file" || cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Scheduler.PollInterval != time.Minute || cfg.Scheduler.RefreshEvery != 6*time.Hour {
		t.Fatalf("unexpected scheduler defaults %+v", cfg.Scheduler)
	}
	if cfg.Quorum.TiePolicy != "approve" || cfg.Quorum.EffectMaxRetries != 3 {
		t.Fatalf("unexpected quorum defaults %+v", cfg.Quorum)
	}
	if len(cfg.Communities) != 0 {
		t.Fatalf("missing communities file means none")
	}
}

func TestLoadPostgresFromParts(t *testing.T) {
	t.Setenv("COMMUNITIES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "council")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("POSTGRES_DB", "governance")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres, got %s", cfg.StoreDriver)
	}
	if cfg.DatabaseDSN != "postgres://council:s3cret@db:5432/governance?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", cfg.DatabaseDSN)
	}
	if cfg.Storage.Endpoint != "minio:9000" {
		t.Fatalf("MINIO_* should back STORAGE_*, got %q", cfg.Storage.Endpoint)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("COMMUNITIES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SCHEDULER_POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SCHEDULER_POLL_INTERVAL") {
		t.Fatalf("expected poll interval error, got %v", err)
	}
	t.Setenv("SCHEDULER_POLL_INTERVAL", "30s")
	t.Setenv("STORE_DRIVER", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestLoadCommunities(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "communities.yaml")
	t.Setenv("TRIBUNAL_JID", "120363000000000002@g.us")
	body := `communities:
  - id: " 120363000000000001@g.us "
    name: Book club
    tribunal: ${TRIBUNAL_JID}
    winnersGroup: 120363000000000003@g.us
    automated: ["5511999990000"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := LoadCommunities(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one community, got %d", len(list))
	}
	c := list[0]
	if c.ID != "120363000000000001@g.us" || c.Tribunal != "120363000000000002@g.us" || c.WinnersGroup == "" || len(c.Automated) != 1 {
		t.Fatalf("unexpected community %+v", c)
	}

	dup := "communities:\n  - id: a@g.us\n  - id: a@g.us\n"
	if err := os.WriteFile(path, []byte(dup), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCommunities(path); err == nil {
		t.Fatalf("duplicate ids must be rejected")
	}
}
