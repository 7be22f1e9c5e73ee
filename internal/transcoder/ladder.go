package transcoder

import (
	"fmt"
	"strconv"
	"strings"
)

// Tier is one target rendition of the quality ladder
type Tier struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string // ffmpeg notation, e.g. "400k"
	AudioBitrate string
}

// Resolution returns the tier's frame size as WxH
func (t Tier) Resolution() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// Bandwidth returns the video bitrate in bits per second
func (t Tier) Bandwidth() int64 {
	bps, err := ParseBitrate(t.VideoBitrate)
	if err != nil {
		return 0
	}
	return bps
}

// Ladder is the fixed quality table, ascending by resolution
var Ladder = []Tier{
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: "400k", AudioBitrate: "64k"},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", AudioBitrate: "96k"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "1200k", AudioBitrate: "128k"},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2500k", AudioBitrate: "128k"},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "4500k", AudioBitrate: "192k"},
}

// SelectTiers returns the ladder entries that do not exceed the source height,
// preserving ladder order. Upscaling is never performed.
func SelectTiers(ladder []Tier, sourceHeight int) []Tier {
	selected := make([]Tier, 0, len(ladder))
	for _, tier := range ladder {
		if tier.Height > sourceHeight {
			continue
		}
		selected = append(selected, tier)
	}
	return selected
}

// ParseBitrate converts ffmpeg bitrate notation ("400k", "2.5M", "96000") to bits per second
func ParseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty bitrate")
	}

	multiplier := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = 1000
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1000 * 1000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}

	return int64(value * multiplier), nil
}
