package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/gridline/internal/config"
	"github.com/foxzi/gridline/internal/history"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/tlsutil"
)

func TestReadTargets(t *testing.T) {
	got, err := readTargets("", nil)
	if err != nil || got != "" {
		t.Errorf("readTargets(\"\") = %q, %v", got, err)
	}

	got, err = readTargets("-", strings.NewReader("  \"Bunker\" (HD)\n"))
	if err != nil || got != `"Bunker" (HD)` {
		t.Errorf("readTargets(-) = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "targets.txt")
	if err := os.WriteFile(path, []byte("Stargate (AV)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = readTargets(path, nil)
	if err != nil || got != "Stargate (AV)" {
		t.Errorf("readTargets(file) = %q, %v", got, err)
	}

	if _, err := readTargets(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("readTargets(missing) should fail")
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"tsv", "json"} {
		if err := checkFormat(f); err != nil {
			t.Errorf("checkFormat(%q) = %v", f, err)
		}
	}
	if err := checkFormat("csv"); err == nil {
		t.Error("checkFormat(csv) should fail")
	}
}

func TestWriteBatch(t *testing.T) {
	batch := &models.Batch{
		ID:        "batch-1",
		IssueDate: "05/03/2026",
		Projects:  []models.Project{{IssueDate: "05/03/2026", ProjectName: "Bunker"}},
	}

	var buf bytes.Buffer
	if err := writeBatch(&buf, batch, "tsv"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Issue Date\tProject Name") {
		t.Errorf("unexpected TSV output: %q", buf.String())
	}

	buf.Reset()
	if err := writeBatch(&buf, batch, "json"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"projectName": "Bunker"`) {
		t.Errorf("unexpected JSON output: %s", buf.String())
	}

	buf.Reset()
	if err := writeBatch(&buf, &models.Batch{}, "tsv"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty batch wrote %q", buf.String())
	}
}

func TestWriteOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	err := writeOutput(path, func(w io.Writer) error {
		_, err := w.Write([]byte("data"))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "data" {
		t.Errorf("file content = %q", data)
	}
}

func TestFindBatch(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "gridline.db"), 5)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"abc12345-0001", "abc12345-0002", "def67890-0001"} {
		b := &models.Batch{ID: id, Timestamp: now.Add(time.Duration(i) * time.Second), IssueDate: "05/03/2026"}
		if err := store.Add(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	b, err := findBatch(ctx, store, "abc12345-0002")
	if err != nil || b.ID != "abc12345-0002" {
		t.Errorf("exact id: %v, %v", b, err)
	}

	b, err = findBatch(ctx, store, "def6")
	if err != nil || b.ID != "def67890-0001" {
		t.Errorf("prefix: %v, %v", b, err)
	}

	if _, err := findBatch(ctx, store, "abc"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("ambiguous prefix error = %v", err)
	}
	if _, err := findBatch(ctx, store, "zzz"); err == nil {
		t.Error("unknown id should fail")
	}
}

func TestPrintSummaries(t *testing.T) {
	var buf bytes.Buffer
	printSummaries(&buf, []models.BatchSummary{
		{ID: "1a2b3c4d5e6f", IssueDate: "05/03/2026", FileName: "pw.pdf", ProjectCount: 12, ContactCount: 30},
	})
	out := buf.String()
	if !strings.Contains(out, "1a2b3c4d ") || strings.Contains(out, "1a2b3c4d5e") {
		t.Errorf("id should be truncated: %s", out)
	}
	if !strings.Contains(out, "pw.pdf") {
		t.Errorf("missing file name: %s", out)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := parseStatus(""); err != nil || s != "" {
		t.Errorf("parseStatus(\"\") = %q, %v", s, err)
	}
	if s, err := parseStatus("deferred"); err != nil || s != queue.StatusDeferred {
		t.Errorf("parseStatus(deferred) = %q, %v", s, err)
	}
	if _, err := parseStatus("sending"); err == nil {
		t.Error("parseStatus(sending) should fail")
	}
}

func TestPrintRateLimits(t *testing.T) {
	var buf bytes.Buffer
	printRateLimits(&buf, config.RateLimitConfig{
		Enabled:   true,
		DefaultIP: &config.LimitValues{RunsPerHour: 10},
		APIKeys: map[string]*config.LimitValues{
			"secret-team-key": {RunsPerDay: 100},
		},
	})

	out := buf.String()
	if strings.Contains(out, "secret-team-key") {
		t.Error("API keys should be masked")
	}
	if !strings.Contains(out, "secr…-key") {
		t.Errorf("masked key missing: %s", out)
	}
	if !strings.Contains(out, "unlimited") {
		t.Errorf("zero limits should read unlimited: %s", out)
	}

	buf.Reset()
	printRateLimits(&buf, config.RateLimitConfig{})
	if !strings.Contains(buf.String(), "Rate limiting is disabled") {
		t.Errorf("disabled output: %s", buf.String())
	}
}

func TestCertStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		info tlsutil.CertificateInfo
		want string
	}{
		{tlsutil.CertificateInfo{NotAfter: now.Add(90 * 24 * time.Hour), DaysLeft: 90}, "OK"},
		{tlsutil.CertificateInfo{NotAfter: now.Add(10 * 24 * time.Hour), DaysLeft: 10}, "RENEWAL NEEDED"},
		{tlsutil.CertificateInfo{NotAfter: now.Add(-48 * time.Hour), DaysLeft: -2}, "EXPIRED"},
	}
	for _, tt := range tests {
		if got := certStatus(tt.info); got != tt.want {
			t.Errorf("certStatus(%d days) = %q, want %q", tt.info.DaysLeft, got, tt.want)
		}
	}
}
