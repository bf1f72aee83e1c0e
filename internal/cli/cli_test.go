package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/media-ingest/internal/auth"
	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/media"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{75 * time.Second, "1:15"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2:03:04"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name string
		res  ingest.Result
		want string
	}{
		{"done", ingest.Result{Status: ingest.StatusDone, Fetched: 3, Saved: 5}, "saved 5"},
		{"nothing new", ingest.Result{Status: ingest.StatusNothingNew}, "no new media"},
		{"failed", ingest.Result{Status: ingest.StatusFailed, State: ingest.StateFailed, Err: errors.New("boom")}, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PrintResult(&buf, tt.res)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q missing %q", buf.String(), tt.want)
			}
		})
	}
}

func TestPrintItems(t *testing.T) {
	parent := "album-1"
	desc := strings.Repeat("x", 100)
	items := []media.Item{
		{MediaID: "child-1", MediaType: media.TypeImage, ParentMediaID: &parent, Description: &desc,
			PublishTimestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{MediaID: "album-1", MediaType: media.TypeCarouselAlbum,
			PublishTimestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	var buf bytes.Buffer
	if err := PrintItems(&buf, items); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "album-1") || !strings.HasSuffix(lines[1], "...") {
		t.Errorf("child row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "CAROUSEL_ALBUM") {
		t.Errorf("album row = %q", lines[2])
	}
}

func TestPromptForValue(t *testing.T) {
	var out bytes.Buffer
	if got := PromptForValue(strings.NewReader("  17841400000\n"), &out, "User ID", ""); got != "17841400000" {
		t.Errorf("got %q", got)
	}
	if got := PromptForValue(strings.NewReader("\n"), &out, "User ID", "me"); got != "me" {
		t.Errorf("got %q", got)
	}
	if got := PromptForValue(strings.NewReader(""), &out, "User ID", "me"); got != "me" {
		t.Errorf("EOF: got %q", got)
	}
}

func TestResolveDBPath(t *testing.T) {
	dir := t.TempDir()
	path, err := ResolveDBPath(filepath.Join(dir, "nested", "media.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if got, _ := ResolveDBPath(":memory:"); got != ":memory:" {
		t.Errorf("memory path = %q", got)
	}
}

func TestHint(t *testing.T) {
	if Hint(fmt.Errorf("run: %w", auth.ErrNoCredential)) == "" {
		t.Error("expected hint for missing credential")
	}
	if Hint(errors.New("other")) != "" {
		t.Error("unexpected hint")
	}
}
