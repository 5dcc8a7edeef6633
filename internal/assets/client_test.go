package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{BackendURL: srv.URL, APIKey: "anon-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestUpload(t *testing.T) {
	want := Descriptor{ID: uuid.New(), ImageURL: "https://cdn.example/up.png", Sticker: true, Scary: true}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/upload-sticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Error("missing apikey header")
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("scary") != "true" {
			t.Errorf("expected scary=true, got %q", r.FormValue("scary"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "boo.png" {
			t.Errorf("unexpected filename %q", header.Filename)
		}

		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	got, err := c.Upload(context.Background(), "boo.png", strings.NewReader("png-bytes"), true)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if got.ID != want.ID || got.ImageURL != want.ImageURL {
		t.Fatalf("unexpected descriptor %+v", got)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/generate-sticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["prompt"] != "a spooky cat" {
			t.Errorf("unexpected prompt %v", body["prompt"])
		}

		_ = json.NewEncoder(w).Encode(Descriptor{ID: uuid.New(), ImageURL: "https://cdn.example/gen.png"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	got, err := c.Generate(context.Background(), "a spooky cat", false)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got.ImageURL != "https://cdn.example/gen.png" {
		t.Fatalf("unexpected descriptor %+v", got)
	}
}

func TestErrorPayloadSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "image too large"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Generate(context.Background(), "prompt", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "image too large") {
		t.Fatalf("expected server message surfaced, got %v", err)
	}
}

func TestGenericErrorWithoutPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, err := c.Generate(context.Background(), "prompt", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected generic status error, got %v", err)
	}
}
