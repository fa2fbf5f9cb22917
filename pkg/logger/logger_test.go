package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesAuditRecords(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app.log")
	auditLog := filepath.Join(dir, "audit", "deployments.log")

	err := Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("deployer").Debug("stage", slog.String("stage", "connected"))
	Audit().Info("contract deployed", slog.String("address", "0xabc"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(appLog)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode app log %q: %v", content, err)
	}
	if record["component"] != "deployer" || record["stage"] != "connected" {
		t.Fatalf("unexpected app record %v", record)
	}

	audit, err := os.ReadFile(auditLog)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), `"address":"0xabc"`) {
		t.Fatalf("unexpected audit log %q", audit)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatal("expected error for audit without path")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil)).With(slog.String("request_id", "req-1"))

	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Fatalf("expected request scoped logger, got %q", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger fallback")
	}
}

func TestAuditWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := newAuditWriter(AuditConfig{Path: path, MaxSizeMB: 1})
	defer w.Close()

	if w.MaxBackups != defaultMaxBackups || w.MaxAge != defaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", w)
	}

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 2; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("unexpected size %d for current file", info.Size())
	}
	backups, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %v", backups)
	}
	if info, err := os.Stat(backups[0]); err != nil || info.Size() != int64(len(chunk)) {
		t.Fatalf("unexpected backup %s: %v", backups[0], err)
	}
}
