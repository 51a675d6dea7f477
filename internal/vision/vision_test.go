package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestBLIP_Caption(t *testing.T) {
	img := testPNG(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/caption" {
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		got, _ := io.ReadAll(file)
		if !bytes.Equal(got, img) {
			http.Error(w, "image mismatch", http.StatusBadRequest)
			return
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			http.Error(w, "content type "+ct, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"caption": "  a dog \n"}`))
	}))
	defer srv.Close()

	c, err := NewBLIP(BLIPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewBLIP failed: %v", err)
	}
	defer c.Close()

	caption, err := c.Caption(context.Background(), img)
	if err != nil {
		t.Fatalf("Caption failed: %v", err)
	}
	if caption != "a dog" {
		t.Errorf("caption = %q, want %q", caption, "a dog")
	}
}

func TestBLIP_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		isEmpty bool
	}{
		{"server error json", http.StatusInternalServerError, `{"error": "model not loaded"}`, "model not loaded", false},
		{"server error text", http.StatusBadGateway, "upstream down", "upstream down", false},
		{"empty caption", http.StatusOK, `{"caption": ""}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(tt.body, "{") {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewBLIP(BLIPConfig{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("NewBLIP failed: %v", err)
			}
			defer c.Close()

			_, err = c.Caption(context.Background(), testPNG(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.isEmpty && !errors.Is(err, ErrEmptyCaption) {
				t.Errorf("error = %v, want ErrEmptyCaption", err)
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestBLIP_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := NewBLIP(BLIPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewBLIP failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Caption(ctx, testPNG(t)); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestOpenAI_Caption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "test-vision" || len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			http.Error(w, "unexpected request shape", http.StatusBadRequest)
			return
		}
		if url := req.Messages[0].Content[1].ImageURL.URL; !strings.HasPrefix(url, "data:image/png;base64,") {
			http.Error(w, "unexpected image url", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-vision",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "\"a dog on the grass\""}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-vision"})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}

	caption, err := c.Caption(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("Caption failed: %v", err)
	}
	if caption != "a dog on the grass" {
		t.Errorf("caption = %q", caption)
	}
}

func TestOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{"default is blip", Config{BLIP: BLIPConfig{BaseURL: "http://127.0.0.1:5000"}}, "*vision.BLIP", false},
		{"openai", Config{Backend: "OpenAI", OpenAI: OpenAIConfig{APIKey: "k"}}, "*vision.OpenAI", false},
		{"blip without url", Config{Backend: "blip"}, "", true},
		{"unknown", Config{Backend: "clip"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			switch c.(type) {
			case *BLIP:
				if tt.want != "*vision.BLIP" {
					t.Errorf("got BLIP, want %s", tt.want)
				}
			case *OpenAI:
				if tt.want != "*vision.OpenAI" {
					t.Errorf("got OpenAI, want %s", tt.want)
				}
			}
		})
	}
}
