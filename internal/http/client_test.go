package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "json" {
			t.Errorf("expected Accept header to be forwarded, got %q", r.Header.Get("Accept"))
		}
		io.WriteString(w, "[]")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	body, err := client.Get(context.Background(), server.URL, http.Header{"Accept": []string{"json"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "[]" {
		t.Errorf("expected '[]', got %q", string(data))
	}
}

func TestGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryAttempts = 5
	opts.RetryBackoff = 10 * time.Millisecond
	opts.RetryMaxBackoff = 50 * time.Millisecond

	client := NewClient(opts)
	body, err := client.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body.Close()

	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestFetchRedirectThenAuthenticate(t *testing.T) {
	data := []byte("tile archive bytes")

	var (
		mu       sync.Mutex
		authPath []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/T1.zip", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("credentials must not be sent to the original URL")
		}
		http.Redirect(w, r, "/protected/T1.zip", http.StatusFound)
	})
	mux.HandleFunc("/protected/T1.zip", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		authPath = append(authPath, r.URL.Path)
		mu.Unlock()
		if user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(data)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "T1.zip")
	client := NewClient(DefaultOptions())
	n, err := client.Fetch(context.Background(), server.URL+"/T1.zip", dest, Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), n)
	}

	if len(authPath) != 1 || authPath[0] != "/protected/T1.zip" {
		t.Errorf("expected one authenticated request to the redirect target, got %v", authPath)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestFetchWithoutRedirect(t *testing.T) {
	var authenticated int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			authenticated++
		}
		io.WriteString(w, "payload")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "T2.tar")
	client := NewClient(DefaultOptions())
	if _, err := client.Fetch(context.Background(), server.URL+"/T2.tar", dest, Credentials{Username: "u", Password: "p"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if authenticated != 1 {
		t.Errorf("expected the original URL to be requested once with auth, got %d", authenticated)
	}
}

func TestFetchDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, strings.Repeat("x", 10*1024))
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "T3.zip")
	client := NewClient(DefaultOptions())
	_, err := client.Fetch(context.Background(), server.URL+"/T3.zip", dest, Credentials{})

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if de.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", de.StatusCode)
	}
	if len(de.Body) != maxErrorBody {
		t.Errorf("expected body capped at %d, got %d", maxErrorBody, len(de.Body))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files left behind, got %d", len(entries))
	}
}

func TestFetchStreamsInChunks(t *testing.T) {
	data := make([]byte, 1024*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.ChunkSize = 64 * 1024
	client := NewClient(opts)

	dest := filepath.Join(t.TempDir(), "big.bin")
	n, err := client.Fetch(context.Background(), server.URL, dest, Credentials{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes, got %d", len(data), n)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() != int64(len(data)) {
		t.Errorf("unexpected dest: %v %v", info, err)
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Fetch(ctx, server.URL, filepath.Join(t.TempDir(), "x"), Credentials{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
