package experiment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogbookLineFormat(t *testing.T) {
	got := formatLine(time.Date(2024, 3, 1, 13, 45, 9, 0, time.UTC), "pump off image acquired")
	want := "2024-03-01 13:45:09 | pump off image acquired\n"
	if got != want {
		t.Errorf("got %q, expected %q", got, want)
	}
}

func TestLogbookStartTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.log")
	l := NewLogbook(path)
	if err := l.Start("first run"); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("leftover entry"); err != nil {
		t.Fatal(err)
	}
	if err := l.Start("second run"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	if strings.Contains(content, "first run") || strings.Contains(content, "leftover entry") {
		t.Errorf("Start did not truncate, contents %q", content)
	}
	if !strings.HasSuffix(content, " | second run\n") {
		t.Errorf("unexpected contents %q", content)
	}
}

func TestLogbookAppendAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.log")
	l := NewLogbook(path)
	if err := l.Start("header"); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"one", "two", "three"} {
		if err := l.Append(msg); err != nil {
			t.Fatal(err)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	for i, want := range []string{"header", "one", "two", "three"} {
		if !strings.HasSuffix(lines[i], " | "+want) {
			t.Errorf("line %d is %q, expected suffix %q", i, lines[i], want)
		}
	}
}
