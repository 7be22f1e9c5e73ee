package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/tracing"
)

// Rendition describes one converted tier inside the run workspace
type Rendition struct {
	Tier         Tier
	Dir          string
	PlaylistPath string
	Segments     []string // ordered by segment index
}

// Thumbnail describes the poster frame inside the run workspace
type Thumbnail struct {
	Path      string
	Width     int
	Height    int
	AtSeconds float64
}

// Result is everything one engine run produced
type Result struct {
	Renditions   []Rendition
	Thumbnail    Thumbnail
	MasterPath   string
	Duration     float64
	SourceHeight int
}

// Engine derives HLS renditions, a thumbnail and the master playlist from a source file
type Engine struct {
	ffmpeg *FFmpeg
	cfg    config.TranscoderConfig
	ladder []Tier
	logger *logging.Logger
}

// NewEngine creates a transcoding engine; a nil runner uses os/exec
func NewEngine(cfg config.TranscoderConfig, runner CommandRunner, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		ffmpeg: NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, runner),
		cfg:    cfg,
		ladder: Ladder,
		logger: logger,
	}
}

// ProduceRenditions converts sourcePath into workspaceDir. Any tier failure
// fails the whole run; nothing is retried here.
func (e *Engine) ProduceRenditions(ctx context.Context, sourcePath, workspaceDir string) (*Result, error) {
	info, err := e.ffmpeg.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	tiers := SelectTiers(e.ladder, info.Height)
	if len(tiers) == 0 {
		return nil, &apperrors.SourceMediaError{
			Path:   sourcePath,
			Reason: fmt.Sprintf("source height %d is below the lowest tier", info.Height),
		}
	}

	e.logger.Infof("Converting %dx%d source (%.1fs) into %d tiers", info.Width, info.Height, info.Duration, len(tiers))

	var renditions []Rendition
	if e.cfg.ParallelTiers {
		renditions, err = e.convertParallel(ctx, sourcePath, workspaceDir, info, tiers)
	} else {
		renditions, err = e.convertSequential(ctx, sourcePath, workspaceDir, info, tiers)
	}
	if err != nil {
		return nil, err
	}

	thumb, err := e.thumbnail(ctx, sourcePath, workspaceDir, info)
	if err != nil {
		return nil, err
	}

	masterPath := filepath.Join(workspaceDir, MasterName)
	if err := NewMasterPlaylist(renditions).WriteFile(masterPath); err != nil {
		return nil, &apperrors.ResourceError{Op: "write master playlist", Err: err}
	}

	return &Result{
		Renditions:   renditions,
		Thumbnail:    thumb,
		MasterPath:   masterPath,
		Duration:     info.Duration,
		SourceHeight: info.Height,
	}, nil
}

func (e *Engine) convertSequential(ctx context.Context, sourcePath, workspaceDir string, info *SourceInfo, tiers []Tier) ([]Rendition, error) {
	renditions := make([]Rendition, 0, len(tiers))
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := e.convertTier(ctx, sourcePath, workspaceDir, info, tier)
		if err != nil {
			return nil, err
		}
		renditions = append(renditions, r)
	}
	return renditions, nil
}

func (e *Engine) convertParallel(ctx context.Context, sourcePath, workspaceDir string, info *SourceInfo, tiers []Tier) ([]Rendition, error) {
	renditions := make([]Rendition, len(tiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		i, tier := i, tier
		g.Go(func() error {
			r, err := e.convertTier(gctx, sourcePath, workspaceDir, info, tier)
			if err != nil {
				return err
			}
			renditions[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return renditions, nil
}

func (e *Engine) convertTier(ctx context.Context, sourcePath, workspaceDir string, info *SourceInfo, tier Tier) (Rendition, error) {
	span, ctx := tracing.StartSpan(ctx, "transcode.tier")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "tier", tier.Name)

	start := time.Now()
	dir := filepath.Join(workspaceDir, tier.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Rendition{}, &apperrors.ResourceError{Op: "create " + tier.Name + " directory", Err: err}
	}

	err := e.ffmpeg.Segment(ctx, SegmentOptions{
		InputPath:      sourcePath,
		OutputDir:      dir,
		Tier:           tier,
		SegmentSeconds: e.cfg.SegmentSeconds,
		Preset:         e.cfg.Preset,
		HasAudio:       info.HasAudio,
	})
	if err != nil {
		tracing.LogError(span, err)
		metrics.RecordTierTranscode(tier.Name, "failed", time.Since(start).Seconds())
		return Rendition{}, err
	}

	segments, err := collectSegments(dir)
	if err != nil {
		return Rendition{}, &apperrors.ResourceError{Op: "list " + tier.Name + " segments", Err: err}
	}
	if len(segments) == 0 {
		metrics.RecordTierTranscode(tier.Name, "failed", time.Since(start).Seconds())
		return Rendition{}, &apperrors.TranscodeError{Tier: tier.Name, Diagnostic: "no segments produced"}
	}

	metrics.RecordTierTranscode(tier.Name, "completed", time.Since(start).Seconds())
	e.logger.Infof("%s conversion finished with %d segments", tier.Name, len(segments))

	return Rendition{
		Tier:         tier,
		Dir:          dir,
		PlaylistPath: filepath.Join(dir, PlaylistName),
		Segments:     segments,
	}, nil
}

func (e *Engine) thumbnail(ctx context.Context, sourcePath, workspaceDir string, info *SourceInfo) (Thumbnail, error) {
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}

	width, height := e.cfg.ThumbnailWidth, e.cfg.ThumbnailHeight
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	fraction := e.cfg.ThumbnailAt
	if fraction <= 0 {
		fraction = 0.1
	}

	thumb := Thumbnail{
		Path:      filepath.Join(workspaceDir, ThumbnailName),
		Width:     width,
		Height:    height,
		AtSeconds: info.Duration * fraction,
	}

	if err := e.ffmpeg.ExtractThumbnail(ctx, sourcePath, thumb.Path, thumb.AtSeconds, width, height); err != nil {
		return Thumbnail{}, err
	}
	if _, err := os.Stat(thumb.Path); err != nil {
		return Thumbnail{}, &apperrors.TranscodeError{Tier: "thumbnail", Diagnostic: "thumbnail not written", Err: err}
	}

	return thumb, nil
}

// collectSegments returns the tier's segment files ordered by numeric index
func collectSegments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "segment_*.ts"))
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return SegmentIndex(matches[i]) < SegmentIndex(matches[j])
	})
	return matches, nil
}

// SegmentIndex parses the index from a segment_NNN.ts file name; -1 if malformed
func SegmentIndex(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".ts")
	n, err := strconv.Atoi(strings.TrimPrefix(name, "segment_"))
	if err != nil || !strings.HasPrefix(name, "segment_") {
		return -1
	}
	return n
}
