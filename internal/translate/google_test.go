package translate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"golang.org/x/text/language"
)

func TestGoogle_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/translate_a/single" || q.Get("client") != "gtx" ||
			q.Get("sl") != "en" || q.Get("tl") != "vi" || q.Get("dt") != "t" {
			http.Error(w, "unexpected request "+r.URL.String(), http.StatusBadRequest)
			return
		}
		if q.Get("q") != "a dog" {
			http.Error(w, "unexpected text "+q.Get("q"), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`[[["một con chó","a dog",null,null,10]],null,"en",null,null,null,1,[],[["en"],null,[1],["en"]]]`))
	}))
	defer srv.Close()

	g := NewGoogle(GoogleConfig{BaseURL: srv.URL})
	defer g.Close()

	got, err := g.Translate(context.Background(), "a dog", language.English, language.Vietnamese)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "một con chó" {
		t.Errorf("Translate = %q, want %q", got, "một con chó")
	}
}

func TestGoogle_EmptyInput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	g := NewGoogle(GoogleConfig{BaseURL: srv.URL})
	defer g.Close()

	got, err := g.Translate(context.Background(), "   ", language.English, language.Vietnamese)
	if err != nil || got != "" {
		t.Errorf("Translate = %q, %v; want empty, nil", got, err)
	}
	if calls.Load() != 0 {
		t.Error("empty input reached the server")
	}
}

func TestGoogle_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{"server error", http.StatusTooManyRequests, "slow down", false},
		{"not json", http.StatusOK, "<html></html>", true},
		{"empty array", http.StatusOK, "[]", true},
		{"no segments", http.StatusOK, "[null]", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGoogle(GoogleConfig{BaseURL: srv.URL})
			defer g.Close()

			_, err := g.Translate(context.Background(), "a dog", language.English, language.Vietnamese)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrMalformedResponse) != tt.malformed {
				t.Errorf("error = %v, malformed = %v", err, tt.malformed)
			}
		})
	}
}

func TestParseSingle_JoinsSegments(t *testing.T) {
	got, err := parseSingle(`[[["Một con chó. ","A dog. "],["Trên cỏ.","On grass."]],null,"en"]`)
	if err != nil {
		t.Fatalf("parseSingle failed: %v", err)
	}
	if got != "Một con chó. Trên cỏ." {
		t.Errorf("parseSingle = %q", got)
	}
}

func TestLangCode(t *testing.T) {
	if langCode(language.Und) != "auto" {
		t.Error("undetermined tag should map to auto")
	}
	if langCode(language.MustParse("zh-CN")) != "zh-CN" {
		t.Errorf("langCode(zh-CN) = %q", langCode(language.MustParse("zh-CN")))
	}
}
