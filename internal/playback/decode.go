package playback

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/desertthunder/ambi/internal/recovery"
)

type codec int

const (
	codecUnknown codec = iota
	codecMP3
	codecWAV
	codecVorbis
	codecFLAC
)

// codecFor picks a decoder from the resource extension, then from magic bytes.
func codecFor(resource string, data []byte) codec {
	switch ext(resource) {
	case ".mp3":
		return codecMP3
	case ".wav", ".wave":
		return codecWAV
	case ".ogg", ".oga":
		return codecVorbis
	case ".flac":
		return codecFLAC
	}

	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return codecWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return codecVorbis
	case bytes.HasPrefix(data, []byte("fLaC")):
		return codecFLAC
	case bytes.HasPrefix(data, []byte("ID3")), len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return codecMP3
	}
	return codecUnknown
}

func ext(resource string) string {
	p := resource
	if u, err := url.Parse(resource); err == nil && u.Scheme != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// decodeAll decodes data fully into a buffer at the sink format.
func decodeAll(resource string, data []byte, out beep.Format) (*beep.Buffer, error) {
	rc := io.NopCloser(bytes.NewReader(data))

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch codecFor(resource, data) {
	case codecMP3:
		s, format, err = mp3.Decode(rc)
	case codecWAV:
		s, format, err = wav.Decode(rc)
	case codecVorbis:
		s, format, err = vorbis.Decode(rc)
	case codecFLAC:
		s, format, err = flac.Decode(rc)
	default:
		return nil, recovery.NewOpError("decode", resource, recovery.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, recovery.NewOpError("decode", resource, fmt.Errorf("%w: %v", recovery.ErrDecode, err))
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != out.SampleRate {
		src = beep.Resample(4, format.SampleRate, out.SampleRate, s)
	}

	buf := beep.NewBuffer(out)
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, recovery.NewOpError("decode", resource, fmt.Errorf("%w: %v", recovery.ErrDecode, err))
	}
	if buf.Len() == 0 {
		return nil, recovery.NewOpError("decode", resource, fmt.Errorf("%w: no samples", recovery.ErrDecode))
	}
	return buf, nil
}
