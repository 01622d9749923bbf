package main

import (
	"bytes"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeli-parts/partsbot/internal/config"
	"github.com/zeli-parts/partsbot/internal/scheduler"
	"github.com/zeli-parts/partsbot/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := config.New()
	v.Set("app.owner_number", "50760001111")
	cfg, err := config.Decode(v)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	return cfg
}

func TestParseFlagsOverridesConfig(t *testing.T) {
	flags, err := parseFlags([]string{
		"-state-dir", "/tmp/pb",
		"-api-addr", ":9090",
		"-transport", "whatsmeow",
		"-qr-output", "/tmp/qr.txt",
		"-numeric-code",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := testConfig(t)
	applyFlags(cfg, flags)

	if cfg.App.StateDir != "/tmp/pb" || cfg.App.APIAddr != ":9090" || cfg.App.Transport != "whatsmeow" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.WhatsApp.QROutput != "/tmp/qr.txt" || !cfg.WhatsApp.NumericCode {
		t.Errorf("whatsapp = %+v", cfg.WhatsApp)
	}
}

func TestEmptyFlagsKeepConfig(t *testing.T) {
	flags, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := testConfig(t)
	want := cfg.App
	applyFlags(cfg, flags)
	if cfg.App != want {
		t.Errorf("app changed: %+v", cfg.App)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	if _, err := parseFlags([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("err = %v", err)
	}
}

func TestDefaultDSNs(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.StateDir = "/var/lib/pb"

	if got := databaseDSN(cfg); got != filepath.Join("/var/lib/pb", DefaultDBFileName) {
		t.Errorf("database dsn = %q", got)
	}
	if got := whatsAppDSN(cfg); got != "file:/var/lib/pb/whatsapp.db?_foreign_keys=on" {
		t.Errorf("whatsapp dsn = %q", got)
	}

	cfg.Database.DSN = "postgres://u:p@db/parts"
	cfg.WhatsApp.DBDSN = "postgres://u:p@db/wa"
	if databaseDSN(cfg) != cfg.Database.DSN || whatsAppDSN(cfg) != cfg.WhatsApp.DBDSN {
		t.Error("configured DSNs must win")
	}
}

func TestBackendSelection(t *testing.T) {
	cfg := testConfig(t)

	sessions, err := newSessionStore(cfg, nil, nil)
	if err != nil {
		t.Fatalf("memory sessions: %v", err)
	}
	if _, ok := sessions.(*session.MemoryStore); !ok {
		t.Errorf("sessions = %T", sessions)
	}
	cfg.Session.Backend = "redis"
	if _, err := newSessionStore(cfg, nil, nil); err == nil {
		t.Error("redis sessions without a client should fail")
	}

	sched, err := newScheduler(cfg, nil)
	if err != nil {
		t.Fatalf("memory scheduler: %v", err)
	}
	if _, ok := sched.(*scheduler.MemoryScheduler); !ok {
		t.Errorf("scheduler = %T", sched)
	}
	cfg.Scheduler.Backend = "asynq"
	cfg.Redis.Addr = ""
	if _, err := newScheduler(cfg, nil); err == nil {
		t.Error("asynq without redis should fail")
	}
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	if !strings.Contains(buf.String(), "WhatsApp auto parts desk") {
		t.Errorf("banner = %q", buf.String())
	}
}
