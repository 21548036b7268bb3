package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

func TestDeliverSendsPayload(t *testing.T) {
	var got struct {
		Content  string `json:"content"`
		Username string `json:"username"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		if err := json.Unmarshal([]byte(r.FormValue("payload_json")), &got); err != nil {
			t.Fatalf("bad payload_json: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "Truth Social Bot", 5*time.Second)
	if err := d.Deliver(context.Background(), "hello there", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "hello there" {
		t.Errorf("content = %q, want %q", got.Content, "hello there")
	}
	if got.Username != "Truth Social Bot" {
		t.Errorf("username = %q, want %q", got.Username, "Truth Social Bot")
	}
}

func TestDeliverUploadsMedia(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake png bytes"))
	}))
	defer media.Close()

	var fileNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		for _, headers := range r.MultipartForm.File {
			for _, h := range headers {
				fileNames = append(fileNames, h.Filename)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "bot", 5*time.Second)
	attachments := []models.MediaAttachment{
		{Type: models.MediaTypeImage, URL: media.URL + "/pic"},
		{Type: "unknown", URL: media.URL + "/ignored"},
	}
	if err := d.Deliver(context.Background(), "with media", attachments); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fileNames) != 1 {
		t.Fatalf("uploaded files = %v, want exactly one", fileNames)
	}
	if !strings.HasSuffix(fileNames[0], ".png") {
		t.Errorf("filename %q missing extension from content type", fileNames[0])
	}
}

func TestDeliverRetriesOnceOn429(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"retry_after": 0.01}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "bot", 5*time.Second)
	if err := d.Deliver(context.Background(), "rate limited once", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("webhook calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestDeliverSurfacesSecond429(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after": 0.01}`))
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "bot", 5*time.Second)
	if err := d.Deliver(context.Background(), "always limited", nil); err == nil {
		t.Fatal("expected error after second 429")
	}
	if calls.Load() != 2 {
		t.Errorf("webhook calls = %d, want exactly 2 (single retry)", calls.Load())
	}
}

func TestDeliverSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "bot", 5*time.Second)
	if err := d.Deliver(context.Background(), "will fail", nil); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestDeliverSkipsEmptyMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("webhook should not be called for an empty message")
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "bot", 5*time.Second)
	if err := d.Deliver(context.Background(), "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	if got := retryAfter([]byte(`{"retry_after": 2.5}`)); got != 2500*time.Millisecond {
		t.Errorf("retryAfter = %v, want 2.5s", got)
	}
	if got := retryAfter([]byte(`not json`)); got != DefaultRetryAfter {
		t.Errorf("retryAfter fallback = %v, want %v", got, DefaultRetryAfter)
	}
}
