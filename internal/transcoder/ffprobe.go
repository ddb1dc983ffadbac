package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/hls"
)

// FFprobe implements Prober with the ffprobe JSON writer.
type FFprobe struct {
	path    string
	timeout time.Duration
	cmd     CommandRunner
}

var _ Prober = (*FFprobe)(nil)

// NewFFprobe creates a prober. An empty path defaults to "ffprobe".
func NewFFprobe(path string, timeout time.Duration, runner CommandRunner) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFprobe{path: path, timeout: timeout, cmd: runner}
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	CodecTag    string `json:"codec_tag_string"`
	PixFmt      string `json:"pix_fmt"`
	Disposition struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

func (p *FFprobe) Probe(ctx context.Context, input string) (*model.ProbeInfo, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.cmd.Run(ctx, p.path,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		input,
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, model.Errorf(model.KindProbeFailed, "ffprobe timed out after %s", p.timeout)
		}
		return nil, model.NewError(model.KindProbeFailed, err)
	}

	info, err := parseProbeOutput(out)
	if err != nil {
		return nil, err
	}

	if !hls.IsAbsoluteURL(input) {
		f, err := os.Open(input)
		if err != nil {
			return nil, model.NewError(model.KindProbeFailed, fmt.Errorf("open for atom scan: %w", err))
		}
		defer f.Close()
		info.MoovBeforeMdat = MoovBeforeMdat(f)
	}
	return info, nil
}

func parseProbeOutput(out []byte) (*model.ProbeInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return nil, model.NewError(model.KindProbeFailed, fmt.Errorf("decode ffprobe output: %w", err))
	}

	info := &model.ProbeInfo{}
	for _, s := range po.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo || s.Disposition.AttachedPic == 1 {
				continue
			}
			info.HasVideo = true
			info.VideoCodec = codecName(s)
			info.PixelFormat = s.PixFmt
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = codecName(s)
		}
	}

	if !info.HasVideo && !info.HasAudio {
		return nil, model.Errorf(model.KindProbeFailed, "no audio or video streams")
	}
	return info, nil
}

func codecName(s probeStream) string {
	if s.CodecName != "" {
		return s.CodecName
	}
	return s.CodecTag
}
