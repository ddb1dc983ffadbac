package usecase

import (
	"strings"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
)

// Classify derives the fixes a source video needs from its probe and
// stored metadata. head may be nil.
func Classify(info *model.ProbeInfo, head *model.ObjectHead, targetPixelFormat string) model.Classification {
	var c model.Classification
	if info == nil {
		return c
	}

	vcodec := strings.ToLower(info.VideoCodec)
	if (vcodec != "h264" && vcodec != "avc1") || !strings.EqualFold(info.PixelFormat, targetPixelFormat) {
		c.NeedsFullTranscode = true
	}

	acodec := strings.ToLower(info.AudioCodec)
	if info.HasAudio && acodec != "aac" && acodec != "mp4a" {
		c.NeedsAudioReencode = true
	}

	switch {
	case info.MoovBeforeMdat != nil:
		c.NeedsFaststartRemux = !*info.MoovBeforeMdat
	default:
		c.NeedsFaststartRemux = !head.Faststart()
	}
	return c
}

// chooseAction picks the most conservative MP4 plan for c.
func chooseAction(c model.Classification, faststartMeta bool) model.MP4Action {
	switch {
	case c.NeedsFullTranscode:
		return model.ActionFullTranscode
	case c.NeedsAudioReencode:
		return model.ActionReencodeAudio
	case c.NeedsFaststartRemux:
		return model.ActionRemuxFaststart
	case !faststartMeta:
		return model.ActionSetFaststartMetadata
	default:
		return model.ActionSkipAlreadyOK
	}
}
