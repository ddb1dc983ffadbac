package transcoder

import (
	"context"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
)

// HLSOptions selects the encoding path of an HLS rebuild.
type HLSOptions struct {
	// CopyVideo copies the H.264 video stream instead of re-encoding it.
	CopyVideo bool
	// Bandwidth is written to the generated master playlist.
	Bandwidth int
}

// HLSOutput contains the result of an HLS build.
type HLSOutput struct {
	// MasterPath is the generated master playlist (playlist.m3u8).
	MasterPath string
	// Files lists every produced file, playlists included, in upload order:
	// segments first, then the variant playlist, then the master.
	Files []string
}

// Prober reports stream information about a local file or an HTTP(S) URL.
type Prober interface {
	// Probe runs the probe tool against input. MoovBeforeMdat is only
	// filled for local files.
	Probe(ctx context.Context, input string) (*model.ProbeInfo, error)
}

// Transcoder runs the transcoder tool. Every call is bounded by the
// configured timeout and returns a transcode_failed error on non-zero exit.
type Transcoder interface {
	// RemuxFaststart copies both streams into a new container with the
	// moov atom moved to the front.
	RemuxFaststart(ctx context.Context, inputPath, outputPath string) error

	// ReencodeAudio copies video and re-encodes audio to the AAC target.
	ReencodeAudio(ctx context.Context, inputPath, outputPath string) error

	// FullTranscode re-encodes video to the H.264 target and audio to AAC.
	FullTranscode(ctx context.Context, inputPath, outputPath string) error

	// BuildHLS produces a single-variant HLS bundle from input (a local path
	// or a URL) inside outputDir, which must exist.
	BuildHLS(ctx context.Context, input, outputDir string, opts HLSOptions) (*HLSOutput, error)
}
