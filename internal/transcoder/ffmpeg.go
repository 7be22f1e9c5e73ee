package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
)

// maxDiagnosticBytes bounds how much tool output is carried into an error
const maxDiagnosticBytes = 2048

// CommandRunner executes an external tool and returns its captured output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run executes the command, bound to ctx
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string, runner CommandRunner) *FFmpeg {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// SourceInfo is the subset of probe data the engine relies on
type SourceInfo struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	HasAudio bool
}

// ProbeVideo extracts metadata from a video file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	stdout, stderr, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, tail(stderr))
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Probe inspects the source and rejects inputs that cannot be converted
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*SourceInfo, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return nil, &apperrors.SourceMediaError{Path: inputPath, Reason: "unreadable", Err: err}
	}

	metadata, err := f.ProbeVideo(ctx, inputPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.SourceMediaError{Path: inputPath, Reason: "probe failed", Err: err}
	}

	info := &SourceInfo{}
	var videoDuration string
	for _, stream := range metadata.Streams {
		switch stream.CodecType {
		case "video":
			if info.Height == 0 {
				info.Width = stream.Width
				info.Height = stream.Height
				info.Codec = stream.CodecName
				videoDuration = stream.Duration
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if info.Height <= 0 {
		return nil, &apperrors.SourceMediaError{Path: inputPath, Reason: "no video stream"}
	}

	info.Duration = parseDuration(metadata.Format.Duration)
	if info.Duration <= 0 {
		info.Duration = parseDuration(videoDuration)
	}
	if info.Duration <= 0 {
		return nil, &apperrors.SourceMediaError{Path: inputPath, Reason: "zero duration"}
	}

	return info, nil
}

// SegmentOptions holds options for one HLS rendition
type SegmentOptions struct {
	InputPath      string
	OutputDir      string
	Tier           Tier
	SegmentSeconds int
	Preset         string
	HasAudio       bool
}

// Workspace file naming
const (
	MasterName     = "master.m3u8"
	PlaylistName   = "playlist.m3u8"
	SegmentPattern = "segment_%03d.ts"
	ThumbnailName  = "thumbnail.jpg"
)

// SegmentArgs builds the ffmpeg arguments for a single-tier HLS conversion
func SegmentArgs(opts SegmentOptions) []string {
	preset := opts.Preset
	if preset == "" {
		preset = "medium"
	}
	segmentSeconds := opts.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}

	args := []string{
		"-i", opts.InputPath,
		"-y",
		"-c:v", "libx264",
		"-b:v", opts.Tier.VideoBitrate,
		"-s", opts.Tier.Resolution(),
		"-preset", preset,
	}

	if opts.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", opts.Tier.AudioBitrate)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(opts.OutputDir, SegmentPattern),
		"-start_number", "0",
		filepath.Join(opts.OutputDir, PlaylistName),
	)

	return args
}

// Segment converts the source into one segmented HLS rendition
func (f *FFmpeg) Segment(ctx context.Context, opts SegmentOptions) error {
	_, stderr, err := f.runner.Run(ctx, f.ffmpegPath, SegmentArgs(opts)...)
	if err != nil {
		return toolError(ctx, opts.Tier.Name, stderr, err)
	}
	return nil
}

// ExtractThumbnail extracts a single frame at timeSeconds scaled to width x height
func (f *FFmpeg) ExtractThumbnail(ctx context.Context, inputPath, outputPath string, timeSeconds float64, width, height int) error {
	args := []string{
		"-ss", fmt.Sprintf("%.2f", timeSeconds),
		"-i", inputPath,
		"-vframes", "1",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-q:v", "3",
		"-y",
		outputPath,
	}

	_, stderr, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return toolError(ctx, "thumbnail", stderr, err)
	}

	return nil
}

// toolError classifies an ffmpeg failure
func toolError(ctx context.Context, tier string, stderr []byte, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	diagnostic := tail(stderr)
	if apperrors.IsNoSpace(err, diagnostic) {
		return &apperrors.ResourceError{Op: "transcode " + tier, Err: fmt.Errorf("%w: %s", err, diagnostic)}
	}
	return &apperrors.TranscodeError{Tier: tier, Diagnostic: diagnostic, Err: err}
}

// tail keeps the end of tool output, where ffmpeg reports the fatal error
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxDiagnosticBytes {
		s = s[len(s)-maxDiagnosticBytes:]
	}
	return s
}

func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return d
}
