package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestSetupRenamesKeys(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	defer log.SetOutput(os.Stderr)

	buf := &bytes.Buffer{}
	logger, closer := SetupWithOptions("crowdsaled", "test", Options{Writer: buf})
	defer closer.Close()
	logger.Info("sale finalized", slog.Bool("goalReached", true))
	log.Printf("bridged %d", 7)

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(entries), buf.String())
	}
	first := entries[0]
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := first[key]; !ok {
			t.Fatalf("missing key %q in %v", key, first)
		}
	}
	if first["severity"] != "INFO" || first["message"] != "sale finalized" || first["service"] != "crowdsaled" {
		t.Fatalf("unexpected entry %v", first)
	}
	if entries[1]["message"] != "bridged 7" || entries[1]["service"] != "crowdsaled" {
		t.Fatalf("std log bridge entry %v", entries[1])
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "crowdsaled.log")
	buf := &bytes.Buffer{}
	logger, closer := SetupWithOptions("crowdsaled", "", Options{Writer: buf, File: path, MaxSizeMB: 1})
	logger.Warn("refund transfer failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "refund transfer failed") {
		t.Fatalf("file missing entry: %s", raw)
	}
	if strings.Contains(string(raw), `"env"`) {
		t.Fatalf("empty env should be omitted: %s", raw)
	}
}

func TestMaskFieldRedactsToken(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewHandler(buf, nil))

	token := "s3cret-bearer"
	logger.Info("admin configured", MaskField("bearer_token", token), MaskField("reason", "startup"))

	if bytes.Contains(buf.Bytes(), []byte(token)) {
		t.Fatalf("log output leaked token: %s", buf.Bytes())
	}
	entries := decodeLines(t, buf.Bytes())
	if entries[0]["bearer_token"] != RedactedValue {
		t.Fatalf("expected redacted token, got %v", entries[0]["bearer_token"])
	}
	if entries[0]["reason"] != "startup" {
		t.Fatalf("allowlisted key was masked: %v", entries[0]["reason"])
	}
	if IsAllowlisted("bearer_token") {
		t.Fatalf("bearer_token should not be allowlisted: %v", RedactionAllowlist())
	}
	if MaskValue("") != "" || MaskValue("x") != RedactedValue {
		t.Fatalf("MaskValue mismatch")
	}
}

func TestMaskDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://sale:hunter2@db:5432/receipts?sslmode=disable": "postgres://sale:" + RedactedValue + "@db:5432/receipts?sslmode=disable",
		"host=db user=sale password=hunter2 dbname=receipts":       "host=db user=sale password=" + RedactedValue + " dbname=receipts",
		"host=db password='hunter 2' dbname=receipts":              "host=db password=" + RedactedValue + " dbname=receipts",
		"./crowdsale-data/receipts.db":                             "./crowdsale-data/receipts.db",
	}
	for dsn, want := range cases {
		if got := MaskDSN(dsn); got != want {
			t.Fatalf("MaskDSN(%q) = %q, want %q", dsn, got, want)
		}
	}
}
