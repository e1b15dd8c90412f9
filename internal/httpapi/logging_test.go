package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"bogus": LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRequestLogLevelOverrides(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/generate?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override: got %d", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/generate?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("legacy query override: got %d", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/generate", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override: got %d", got)
	}
}

func TestLoggingLineWriterSplitsLines(t *testing.T) {
	lw := &loggingLineWriter{}
	n, err := lw.Write([]byte("{\"token\":\"a\"}\n{\"tok"))
	if err != nil || n != 19 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	// The partial line stays buffered until its newline arrives.
	if string(lw.buf) != "{\"tok" {
		t.Fatalf("unexpected buffer: %q", lw.buf)
	}
	if _, err := lw.Write([]byte("en\":\"b\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(lw.buf) != 0 {
		t.Fatalf("buffer not drained: %q", lw.buf)
	}
}
