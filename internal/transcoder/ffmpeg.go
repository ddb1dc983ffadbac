package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/hls"
)

// FFmpegConfig holds configuration for the FFmpeg transcoder.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// Timeout bounds every ffmpeg invocation. The process is killed on expiry.
	Timeout time.Duration

	// Threads is passed as -threads to keep CPU pressure bounded.
	Threads int

	VideoCodec  string
	PixelFormat string
	Profile     string
	Level       string
	Preset      string
	CRF         int

	AudioCodec    string
	AudioBitrate  string
	AudioChannels int
	AudioRateHz   int

	// HLSSegmentSeconds is the target duration of each HLS segment.
	HLSSegmentSeconds int

	// HLSSegmentFormat is "ts" (MPEG-TS) or "fmp4".
	HLSSegmentFormat string
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:        "ffmpeg",
		Timeout:           30 * time.Minute,
		Threads:           1,
		VideoCodec:        "libx264",
		PixelFormat:       "yuv420p",
		Profile:           "high",
		Level:             "4.1",
		Preset:            "veryfast",
		CRF:               23,
		AudioCodec:        "aac",
		AudioBitrate:      "128k",
		AudioChannels:     2,
		AudioRateHz:       48000,
		HLSSegmentSeconds: 8,
		HLSSegmentFormat:  "ts",
	}
}

// FFmpegTranscoder implements Transcoder using FFmpeg CLI.
type FFmpegTranscoder struct {
	config FFmpegConfig
	cmd    CommandRunner
}

// Compile-time verification that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
func NewFFmpegTranscoder(cfg FFmpegConfig, runner CommandRunner) *FFmpegTranscoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpegTranscoder{
		config: cfg,
		cmd:    runner,
	}
}

func (t *FFmpegTranscoder) RemuxFaststart(ctx context.Context, inputPath, outputPath string) error {
	if err := t.validateInput(inputPath); err != nil {
		return err
	}
	args := t.baseArgs(inputPath)
	args = append(args,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c", "copy",
		"-movflags", "+faststart",
		outputPath,
	)
	return t.run(ctx, "remux", args)
}

func (t *FFmpegTranscoder) ReencodeAudio(ctx context.Context, inputPath, outputPath string) error {
	if err := t.validateInput(inputPath); err != nil {
		return err
	}
	args := t.baseArgs(inputPath)
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a:0",
		"-c:v", "copy",
	)
	args = append(args, t.audioArgs()...)
	args = append(args, "-movflags", "+faststart", outputPath)
	return t.run(ctx, "audio reencode", args)
}

func (t *FFmpegTranscoder) FullTranscode(ctx context.Context, inputPath, outputPath string) error {
	if err := t.validateInput(inputPath); err != nil {
		return err
	}
	args := t.baseArgs(inputPath)
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", t.config.VideoCodec,
		"-profile:v", t.config.Profile,
		"-level", t.config.Level,
		"-preset", t.config.Preset,
		"-crf", strconv.Itoa(t.config.CRF),
		"-pix_fmt", t.config.PixelFormat,
	)
	args = append(args, t.audioArgs()...)
	args = append(args, "-movflags", "+faststart", outputPath)
	return t.run(ctx, "full transcode", args)
}

// BuildHLS produces index.m3u8 plus segments with ffmpeg and then writes the
// master playlist.m3u8 next to them.
func (t *FFmpegTranscoder) BuildHLS(ctx context.Context, input, outputDir string, opts HLSOptions) (*HLSOutput, error) {
	if err := t.validateInput(input); err != nil {
		return nil, err
	}
	if err := t.validateOutputDir(outputDir); err != nil {
		return nil, err
	}

	variantPath := filepath.Join(outputDir, hls.VariantName)
	args := t.buildHLSArgs(input, outputDir, variantPath, opts)
	if err := t.run(ctx, "hls build", args); err != nil {
		return nil, err
	}

	version := 3
	if t.fmp4() {
		version = 7
	}
	masterPath := filepath.Join(outputDir, hls.MasterName)
	master := hls.BuildMaster(hls.VariantName, opts.Bandwidth, version)
	if err := os.WriteFile(masterPath, []byte(master), 0644); err != nil {
		return nil, fmt.Errorf("write master playlist: %w", err)
	}

	files, err := t.collectFiles(outputDir)
	if err != nil {
		return nil, model.NewError(model.KindTranscodeFailed, fmt.Errorf("collect hls output: %w", err))
	}

	return &HLSOutput{
		MasterPath: masterPath,
		Files:      files,
	}, nil
}

func (t *FFmpegTranscoder) buildHLSArgs(input, outputDir, variantPath string, opts HLSOptions) []string {
	args := t.baseArgs(input)
	args = append(args, "-map", "0:v:0", "-map", "0:a:0?")

	if opts.CopyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", t.config.VideoCodec,
			"-preset", "ultrafast",
			"-crf", "25",
			"-pix_fmt", t.config.PixelFormat,
		)
	}
	args = append(args, t.audioArgs()...)

	segExt := "ts"
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(t.config.HLSSegmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
	)
	if t.fmp4() {
		segExt = "m4s"
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", "init.mp4",
		)
	}
	args = append(args,
		"-hls_segment_filename", filepath.Join(outputDir, "seg_%05d."+segExt),
		variantPath,
	)
	return args
}

func (t *FFmpegTranscoder) baseArgs(input string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input}
	if t.config.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(t.config.Threads))
	}
	return args
}

func (t *FFmpegTranscoder) audioArgs() []string {
	return []string{
		"-c:a", t.config.AudioCodec,
		"-b:a", t.config.AudioBitrate,
		"-ac", strconv.Itoa(t.config.AudioChannels),
		"-ar", strconv.Itoa(t.config.AudioRateHz),
	}
}

func (t *FFmpegTranscoder) fmp4() bool {
	return strings.EqualFold(t.config.HLSSegmentFormat, "fmp4")
}

// run executes ffmpeg under the configured timeout. A timeout and a non-zero
// exit both surface as transcode_failed.
func (t *FFmpegTranscoder) run(ctx context.Context, op string, args []string) error {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	if _, err := t.cmd.Run(ctx, t.config.FFmpegPath, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.Errorf(model.KindTranscodeFailed, "%s timed out after %s", op, t.config.Timeout)
		}
		if ctx.Err() != nil {
			return model.Errorf(model.KindTranscodeFailed, "%s cancelled: %w", op, ctx.Err())
		}
		return model.Errorf(model.KindTranscodeFailed, "%s: %w", op, err)
	}
	return nil
}

// validateInput checks if the input file exists and is readable.
// URLs are passed through to ffmpeg unchecked.
func (t *FFmpegTranscoder) validateInput(inputPath string) error {
	if hls.IsAbsoluteURL(inputPath) {
		return nil
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a file: %s", inputPath)
	}

	return nil
}

// validateOutputDir checks if the output directory exists.
func (t *FFmpegTranscoder) validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}

	return nil
}

// collectFiles lists the bundle files in outputDir: init and media segments
// sorted by name, then the variant playlist, then the master.
func (t *FFmpegTranscoder) collectFiles(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if hls.IsSegment(name) || name == "init.mp4" {
			segments = append(segments, filepath.Join(outputDir, name))
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments generated in output directory")
	}
	sort.Strings(segments)

	return append(segments,
		filepath.Join(outputDir, hls.VariantName),
		filepath.Join(outputDir, hls.MasterName),
	), nil
}
