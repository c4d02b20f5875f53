package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsConversion(t *testing.T) {
	svc := NewService()
	cases := []struct {
		path string
		want bool
	}{
		{"walkthrough.mov", true},
		{"walkthrough.MOV", true},
		{"/data/uploads/abc/clip.Mov", true},
		{"walkthrough.mp4", false},
		{"walkthrough.mp3", false},
		{"movfile", false},
	}
	for _, tc := range cases {
		if got := svc.NeedsConversion(tc.path); got != tc.want {
			t.Fatalf("NeedsConversion(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCheckOutput(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.mp4")
	if err := checkOutput(missing); !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed for missing file, got %v", err)
	}

	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if err := checkOutput(empty); !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed for empty file, got %v", err)
	}

	ok := filepath.Join(dir, "ok.mp4")
	if err := os.WriteFile(ok, []byte("data"), 0o644); err != nil {
		t.Fatalf("write ok file: %v", err)
	}
	if err := checkOutput(ok); err != nil {
		t.Fatalf("checkOutput: %v", err)
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("a\nb\nc\n"); got != "c" {
		t.Fatalf("lastLine = %q", got)
	}
	if got := lastLine(""); got != "" {
		t.Fatalf("lastLine empty = %q", got)
	}
}
