package speech

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript writes an executable shell script standing in for gtts-cli or
// ffmpeg.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
}

func TestGTTS_Synthesize(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")

	gtts := writeScript(t, dir, "gtts-cli", `echo "$@" > `+argsFile+`
printf 'ID3-fake-mp3'`)
	// Echo stdin back with a prefix so the test can see the MP3 reached ffmpeg
	ffmpeg := writeScript(t, dir, "ffmpeg", `printf 'PCM:'
cat`)

	engine := NewGTTS(GTTSConfig{
		GTTSBinary:        gtts,
		FFmpegBinary:      ffmpeg,
		RequestsPerMinute: 6000,
	})

	pcm, err := engine.Synthesize(context.Background(), "  một con chó  ", "vi")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if want := []byte("PCM:ID3-fake-mp3"); !bytes.Equal(pcm, want) {
		t.Errorf("Synthesize = %q, want %q", pcm, want)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("gtts-cli was not invoked: %v", err)
	}
	if got := strings.TrimSpace(string(args)); got != "một con chó -l vi -o -" {
		t.Errorf("gtts-cli args = %q", got)
	}
}

func TestGTTS_SlowFlag(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")

	gtts := writeScript(t, dir, "gtts-cli", `echo "$@" > `+argsFile+`
printf 'mp3'`)
	ffmpeg := writeScript(t, dir, "ffmpeg", `cat`)

	engine := NewGTTS(GTTSConfig{GTTSBinary: gtts, FFmpegBinary: ffmpeg, Slow: true, RequestsPerMinute: 6000})
	if _, err := engine.Synthesize(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "--slow") || !strings.Contains(string(args), "-l en") {
		t.Errorf("gtts-cli args = %q, want --slow and default language", args)
	}
}

func TestGTTS_InputValidation(t *testing.T) {
	engine := NewGTTS(GTTSConfig{GTTSBinary: "/nonexistent", FFmpegBinary: "/nonexistent"})

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrEmptyText},
		{"whitespace", "   \n", ErrEmptyText},
		{"too long", strings.Repeat("a", maxTextSize+1), ErrTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Synthesize(context.Background(), tt.text, "vi")
			if !errors.Is(err, tt.want) {
				t.Errorf("Synthesize returned %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGTTS_Failures(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	okGTTS := writeScript(t, dir, "gtts-ok", `printf 'mp3'`)
	okFFmpeg := writeScript(t, dir, "ffmpeg-ok", `cat`)

	tests := []struct {
		name    string
		gtts    string
		ffmpeg  string
		wantErr string
	}{
		{
			name:    "gtts-cli exits non-zero",
			gtts:    writeScript(t, dir, "gtts-fail", `echo "429 Too Many Requests" >&2; exit 1`),
			ffmpeg:  okFFmpeg,
			wantErr: "429 Too Many Requests",
		},
		{
			name:    "gtts-cli prints nothing",
			gtts:    writeScript(t, dir, "gtts-empty", `exit 0`),
			ffmpeg:  okFFmpeg,
			wantErr: "no MP3 output",
		},
		{
			name:    "ffmpeg prints nothing",
			gtts:    okGTTS,
			ffmpeg:  writeScript(t, dir, "ffmpeg-empty", `cat >/dev/null`),
			wantErr: "no PCM output",
		},
		{
			name:    "missing binary",
			gtts:    filepath.Join(dir, "does-not-exist"),
			ffmpeg:  okFFmpeg,
			wantErr: "MP3 generation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewGTTS(GTTSConfig{GTTSBinary: tt.gtts, FFmpegBinary: tt.ffmpeg, RequestsPerMinute: 6000})
			_, err := engine.Synthesize(context.Background(), "hello", "vi")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestGTTS_Timeout(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	gtts := writeScript(t, dir, "gtts-cli", `exec sleep 5`)
	ffmpeg := writeScript(t, dir, "ffmpeg", `cat`)

	engine := NewGTTS(GTTSConfig{
		GTTSBinary:        gtts,
		FFmpegBinary:      ffmpeg,
		SynthesisTimeout:  100 * time.Millisecond,
		RequestsPerMinute: 6000,
	})

	start := time.Now()
	_, err := engine.Synthesize(context.Background(), "hello", "vi")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestGTTS_Validate(t *testing.T) {
	engine := NewGTTS(GTTSConfig{GTTSBinary: "definitely-not-gtts-cli-xyz"})
	if err := engine.Validate(); err == nil {
		t.Error("Validate should fail when gtts-cli is missing")
	}
}
