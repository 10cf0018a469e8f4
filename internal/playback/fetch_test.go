package playback

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/ambi/internal/recovery"
	tu "github.com/desertthunder/ambi/internal/testing"
)

func TestHTTPFetcher(t *testing.T) {
	tests := []struct {
		name    string
		rt      *tu.MockRoundTripper
		want    string
		wantErr bool
	}{
		{
			name: "ok",
			rt:   tu.NewMockRoundTripper(tu.Response(http.StatusOK, "RIFF"), nil),
			want: "RIFF",
		},
		{
			name:    "server error",
			rt:      tu.NewMockRoundTripper(tu.Response(http.StatusServiceUnavailable, ""), nil),
			wantErr: true,
		},
		{
			name:    "transport error",
			rt:      tu.NewMockRoundTripper(nil, errors.New("connection refused")),
			wantErr: true,
		},
		{
			name: "body read failure",
			rt: tu.NewMockRoundTripper(&http.Response{
				StatusCode: http.StatusOK,
				Body:       &tu.FCloser{},
			}, nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewHTTPFetcher("ambi-test")
			f.client.Transport = tt.rt

			data, err := f.Fetch(context.Background(), "https://cdn.test/rain.mp3")
			if tt.wantErr {
				if !errors.Is(err, recovery.ErrNetwork) {
					t.Fatalf("expected network error, got %v", err)
				}
				var op *recovery.OpError
				if !errors.As(err, &op) || op.Resource != "https://cdn.test/rain.mp3" {
					t.Errorf("expected OpError naming the resource, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("data = %q, want %q", data, tt.want)
			}
			if ua := tt.rt.Last.Header.Get("User-Agent"); ua != "ambi-test" {
				t.Errorf("User-Agent = %q", ua)
			}
		})
	}
}

func TestHTTPFetcherLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fire.wav")
	if err := os.WriteFile(path, []byte("local"), 0644); err != nil {
		t.Fatal(err)
	}

	f := NewHTTPFetcher("")
	for _, resource := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), resource)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", resource, err)
		}
		if string(data) != "local" {
			t.Errorf("Fetch(%q) = %q", resource, data)
		}
	}

	if _, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, recovery.ErrNetwork) {
		t.Errorf("missing file: expected network error, got %v", err)
	}

	if !isLocal(path) || isLocal("http://cdn.test/a.mp3") {
		t.Error("isLocal misclassified a resource")
	}
}
