// Package transcodertest provides a scripted ffmpeg/ffprobe runner for tests.
package transcodertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FakeRunner imitates ffprobe and ffmpeg by writing the files they would produce
type FakeRunner struct {
	mu sync.Mutex

	// ProbeOutput is returned for ffprobe calls
	ProbeOutput string
	ProbeErr    error

	// SegmentsPerTier is how many segment files each rendition produces
	SegmentsPerTier int

	// FailResolution makes the conversion with this -s value fail with FailStderr
	FailResolution string
	FailStderr     string

	// FailThumbnail makes the thumbnail extraction fail
	FailThumbnail bool

	calls [][]string
}

// Probe builds ffprobe JSON for a single video stream (plus audio when requested)
func Probe(width, height int, duration float64, audio bool) string {
	streams := fmt.Sprintf(`{"codec_type":"video","codec_name":"h264","width":%d,"height":%d}`, width, height)
	if audio {
		streams += `,{"codec_type":"audio","codec_name":"aac"}`
	}
	return fmt.Sprintf(`{"format":{"filename":"src.mp4","duration":"%.3f"},"streams":[%s]}`, duration, streams)
}

// Run implements transcoder.CommandRunner
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if strings.Contains(name, "ffprobe") {
		if f.ProbeErr != nil {
			return nil, []byte("probe error"), f.ProbeErr
		}
		return []byte(f.ProbeOutput), nil, nil
	}

	output := args[len(args)-1]
	switch {
	case strings.HasSuffix(output, ".m3u8"):
		if res := argAfter(args, "-s"); f.FailResolution != "" && res == f.FailResolution {
			return nil, []byte(f.FailStderr), errors.New("exit status 1")
		}
		return nil, nil, f.writeRendition(output)
	case strings.HasSuffix(output, ".jpg"):
		if f.FailThumbnail {
			return nil, []byte("thumbnail failed"), errors.New("exit status 1")
		}
		return nil, nil, os.WriteFile(output, []byte("\xff\xd8jpeg"), 0644)
	}

	return nil, nil, fmt.Errorf("unexpected command %s %v", name, args)
}

func (f *FakeRunner) writeRendition(playlistPath string) error {
	dir := filepath.Dir(playlistPath)
	count := f.SegmentsPerTier
	if count <= 0 {
		count = 2
	}

	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("segment_%03d.ts", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ts-"+name), 0644); err != nil {
			return err
		}
		playlist.WriteString("#EXTINF:6.000000,\n" + name + "\n")
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")

	return os.WriteFile(playlistPath, []byte(playlist.String()), 0644)
}

// Calls returns a copy of every invocation, program name first
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// ConvertedResolutions lists the -s values of rendition conversions in call order
func (f *FakeRunner) ConvertedResolutions() []string {
	var out []string
	for _, call := range f.Calls() {
		if strings.HasSuffix(call[len(call)-1], ".m3u8") {
			out = append(out, argAfter(call, "-s"))
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
