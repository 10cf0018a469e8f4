package playback

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ambi/internal/recovery"
)

var (
	ErrInvalidPlaylist = fmt.Errorf("%w: invalid playlist", recovery.ErrUnsupportedFormat)
	ErrEmptyPlaylist   = fmt.Errorf("%w: playlist has no segments", recovery.ErrDecode)
)

// Variant is one rendition listed in a master playlist.
type Variant struct {
	Bandwidth int
	Codecs    string
	URI       string
}

// Segment is one media chunk of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Playlist is either a master playlist (Variants set) or a media playlist (Segments set).
type Playlist struct {
	Variants       []Variant
	Segments       []Segment
	TargetDuration time.Duration
}

// IsMaster reports whether the playlist lists variants.
func (p *Playlist) IsMaster() bool { return len(p.Variants) > 0 }

// isManifest reports whether resource names an adaptive streaming playlist.
func isManifest(resource string) bool {
	e := ext(resource)
	return e == ".m3u8" || e == ".m3u"
}

// ParsePlaylist parses an HLS playlist. Relative URIs are resolved against base.
// Variants are returned lowest bandwidth first.
func ParsePlaylist(data []byte, base string) (*Playlist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff")) != "#EXTM3U" {
		return nil, ErrInvalidPlaylist
	}

	pl := &Playlist{}
	var (
		pendingVariant *Variant
		pendingDur     time.Duration
		haveInf        bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			bw, _ := strconv.Atoi(attrs["BANDWIDTH"])
			pendingVariant = &Variant{Bandwidth: bw, Codecs: attrs["CODECS"]}
		case strings.HasPrefix(line, "#EXTINF:"):
			val, _, _ := strings.Cut(strings.TrimPrefix(line, "#EXTINF:"), ",")
			secs, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad EXTINF %q", ErrInvalidPlaylist, line)
			}
			pendingDur = time.Duration(secs * float64(time.Second))
			haveInf = true
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err == nil {
				pl.TargetDuration = time.Duration(secs) * time.Second
			}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			uri := resolveURI(base, line)
			switch {
			case pendingVariant != nil:
				pendingVariant.URI = uri
				pl.Variants = append(pl.Variants, *pendingVariant)
				pendingVariant = nil
			case haveInf:
				pl.Segments = append(pl.Segments, Segment{URI: uri, Duration: pendingDur})
				haveInf = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}

	if len(pl.Variants) == 0 && len(pl.Segments) == 0 {
		return nil, ErrEmptyPlaylist
	}
	sort.SliceStable(pl.Variants, func(i, j int) bool { return pl.Variants[i].Bandwidth < pl.Variants[j].Bandwidth })
	return pl, nil
}

// parseAttributes splits an attribute list, honoring quoted values.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for s != "" {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				val, rest = rest[1:], ""
			} else {
				val, rest = rest[1:end+1], rest[end+2:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else {
			val, rest, _ = strings.Cut(rest, ",")
		}
		attrs[strings.TrimSpace(key)] = val
		s = rest
	}
	return attrs
}

func resolveURI(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	if b, err := url.Parse(base); err == nil && (b.Scheme == "http" || b.Scheme == "https") {
		r, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(strings.TrimPrefix(base, "file://")), filepath.FromSlash(path.Clean(ref)))
}
