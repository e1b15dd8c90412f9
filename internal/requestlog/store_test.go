package requestlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteWriteAndReadBack(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "requests.db")
	w, err := NewSQLiteWriter(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	entry := Entry{
		Model:            "qwen3-8b",
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
		LatencySeconds:   0.5,
		Cached:           false,
		CreatedAt:        time.Now().UTC(),
	}
	if err := w.Write(context.Background(), entry); err != nil {
		t.Fatalf("write: %v", err)
	}

	var model string
	var total int
	var cached bool
	row := w.db.QueryRow(`SELECT model, total_tokens, cached FROM request_logs`)
	if err := row.Scan(&model, &total, &cached); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if model != "qwen3-8b" || total != 30 || cached {
		t.Fatalf("unexpected row: %s %d %v", model, total, cached)
	}
}

func TestSQLiteWriteErrorEntry(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "requests.db")
	w, err := NewSQLiteWriter(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if err := w.Write(context.Background(), Entry{Model: "m", ErrorMessage: "inference failed: boom"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg string
	if err := w.db.QueryRow(`SELECT error_message FROM request_logs`).Scan(&msg); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if msg != "inference failed: boom" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNoopWriter(t *testing.T) {
	if err := (NoopWriter{}).Write(context.Background(), Entry{}); err != nil {
		t.Fatalf("noop writer must never fail: %v", err)
	}
}
