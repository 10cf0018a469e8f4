package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/desertthunder/ambi/internal/shared"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := Load("", "https://cdn.example.com/sounds/")
	if err != nil {
		t.Fatalf("failed to load embedded catalog: %v", err)
	}

	if c.DefaultMode() != "nature" {
		t.Errorf("expected default mode nature, got %s", c.DefaultMode())
	}
	if got := c.Modes(); len(got) != 3 || got[0] != "focus" {
		t.Errorf("unexpected modes %v", got)
	}

	s, ok := c.Sound("nature", "rain")
	if !ok || s.DisplayName != "Rain" || !s.Looping {
		t.Errorf("unexpected rain entry %+v", s)
	}
}

func TestParseErrors(t *testing.T) {
	tc := []struct {
		name string
		doc  string
		want error
	}{
		{name: "no modes", doc: `default_mode = "x"`, want: shared.ErrInvalidConfig},
		{name: "bad toml", doc: `[[[`, want: shared.ErrInvalidConfig},
		{
			name: "missing path",
			doc:  "default_mode = \"a\"\n[modes.a]\n[[modes.a.sounds]]\nname = \"rain\"\n",
			want: shared.ErrInvalidConfig,
		},
		{
			name: "unknown default",
			doc:  "default_mode = \"b\"\n[modes.a]\n[[modes.a.sounds]]\nname = \"rain\"\npath = \"rain.mp3\"\n",
			want: shared.ErrUnknownMode,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), ""); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLocate(t *testing.T) {
	tc := []struct {
		name string
		base string
		path string
		want string
	}{
		{"http base", "https://cdn.example.com/sounds", "nature/rain.mp3", "https://cdn.example.com/sounds/nature/rain.mp3"},
		{"absolute url", "https://cdn.example.com", "http://other/x.m3u8", "http://other/x.m3u8"},
		{"directory base", "/srv/sounds", "nature/fire.mp3", filepath.Join("/srv/sounds", "nature", "fire.mp3")},
		{"file scheme base", "file:///srv/sounds", "fan.ogg", filepath.Join("/srv/sounds", "fan.ogg")},
		{"no base", "", "fan.ogg", "fan.ogg"},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			c := &Catalog{baseURL: tt.base}
			if got := c.Locate(tt.path); got != tt.want {
				t.Errorf("Locate(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolver(t *testing.T) {
	c, err := Load("", "https://cdn.example.com")
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	r, err := NewResolver(c, "", Overrides{"fire": "/home/me/fire.wav", "purr": "/home/me/cat.mp3"})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	t.Run("catalog sound", func(t *testing.T) {
		ref, err := r.Resolve("waves")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ref.Local || ref.URL != "https://cdn.example.com/nature/waves/master.m3u8" {
			t.Errorf("unexpected ref %+v", ref)
		}
	})

	t.Run("override wins", func(t *testing.T) {
		ref, err := r.Resolve("fire")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !ref.Local || ref.URL != "/home/me/fire.wav" || ref.Display != "Campfire" {
			t.Errorf("unexpected ref %+v", ref)
		}
	})

	t.Run("override-only name", func(t *testing.T) {
		if _, err := r.Resolve("purr"); err != nil {
			t.Errorf("override-only sound should resolve: %v", err)
		}
		names := r.Names()
		if names[len(names)-1] != "purr" {
			t.Errorf("expected purr listed last, got %v", names)
		}
	})

	t.Run("unknown in mode", func(t *testing.T) {
		if _, err := r.Resolve("cafe"); !errors.Is(err, shared.ErrUnknownSound) {
			t.Errorf("expected ErrUnknownSound, got %v", err)
		}
		if err := r.SetMode("focus"); err != nil {
			t.Fatalf("SetMode: %v", err)
		}
		if _, err := r.Resolve("cafe"); err != nil {
			t.Errorf("cafe should resolve in focus: %v", err)
		}
		if err := r.SetMode("space"); !errors.Is(err, shared.ErrUnknownMode) {
			t.Errorf("expected ErrUnknownMode, got %v", err)
		}
	})

	t.Run("remove override", func(t *testing.T) {
		r.SetOverride("purr", "")
		if _, err := r.Resolve("purr"); err == nil {
			t.Error("expected purr to be gone")
		}
	})
}
