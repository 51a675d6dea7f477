package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/zbimage/captiond/internal/config"
	"github.com/zbimage/captiond/internal/contentkey"
	"github.com/zbimage/captiond/internal/store"
	"github.com/zbimage/captiond/internal/sweeper"
)

func TestDefaultConfigFileLoads(t *testing.T) {
	t.Setenv("CAPTIOND_AUTH_TOKEN", "")

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}

	c, err := config.Load(v)
	if err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}

	want := config.DefaultConfig()
	if c.Listen != want.Listen || c.Cache.Ceiling != want.Cache.Ceiling ||
		c.Playback.JobTimeout != 2*time.Minute || c.Speech.Language != "vi" {
		t.Errorf("default config file disagrees with DefaultConfig: %+v", c)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"abc":             "****",
		"zbimage":         "zb****ge",
		"sk-1234567890ab": "sk****ab",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrintEntries(t *testing.T) {
	cfg = config.DefaultConfig()

	st, err := store.New(afero.NewMemMapFs(), "/cache")
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	defer st.Close()

	key := contentkey.Identify([]byte("dog"))
	if err := st.Put(key, store.Record{SourceText: "a dog", TranslatedText: "một con chó"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := st.PutAudio(key, []byte("pcm")); err != nil {
		t.Fatalf("PutAudio failed: %v", err)
	}

	entries, err := st.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	var buf bytes.Buffer
	printEntries(&buf, st, entries)
	out := buf.String()

	if !strings.Contains(out, key.Short()) {
		t.Errorf("output missing key:\n%s", out)
	}
	if !strings.Contains(out, "một con chó") {
		t.Errorf("output missing caption:\n%s", out)
	}
	if !strings.Contains(out, "2 entries") {
		t.Errorf("output missing summary:\n%s", out)
	}
}

// lockedStore holds a file that cannot be removed
type lockedStore struct{}

func (lockedStore) ListCount() (int, error) { return 11, nil }

func (lockedStore) ClearAll() (int, error) {
	return 0, fmt.Errorf("remove busy.txt: %w", store.ErrUnavailable)
}

func TestStartupClearFailureKeepsServing(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs)

	sw := sweeper.New(lockedStore{}, sweeper.Config{Logger: log.New(io.Discard)})
	if startupClear(sw, logger) {
		t.Fatal("startupClear reported success for a failing store")
	}
	if sw.State() == sweeper.StateStopped {
		t.Error("sweeper stopped after a failed startup clear")
	}
	if !strings.Contains(logs.String(), "Startup cache clear failed") {
		t.Errorf("failure not logged:\n%s", logs.String())
	}

	ok, err := sw.Sweep()
	if ok || !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Sweep = %v, %v; want the store error again", ok, err)
	}
}

func TestStartupClearEmptiesCache(t *testing.T) {
	st, err := store.New(afero.NewMemMapFs(), "/cache")
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	defer st.Close()
	if err := st.Put(contentkey.Identify([]byte("dog")), store.Record{SourceText: "a dog", TranslatedText: "một con chó"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	sw := sweeper.New(st, sweeper.Config{Logger: log.New(io.Discard)})
	if !startupClear(sw, log.New(io.Discard)) {
		t.Fatal("startupClear failed")
	}
	if n, _ := st.ListCount(); n != 0 {
		t.Errorf("ListCount after startup clear = %d, want 0", n)
	}
}
