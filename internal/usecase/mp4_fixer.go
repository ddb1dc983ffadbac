package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
	"github.com/hszk-dev/vidmaint/internal/transcoder"
)

// atomScanBytes is how much of a remote object is read to locate moov/mdat.
const atomScanBytes = 64 << 10

// MP4FixerConfig holds configuration for the MP4 fixer.
type MP4FixerConfig struct {
	TargetPixelFormat string
	PresignTTL        time.Duration
}

// FixOutput is the outcome of an applied MP4 fix.
type FixOutput struct {
	Result *model.MP4Result
	// LocalPath is a local copy of the object as stored after the fix.
	LocalPath string
}

// MP4Fixer makes a source video browser friendly: H.264/yuv420p video,
// AAC audio and the moov atom ahead of mdat.
type MP4Fixer struct {
	storage    repository.ObjectStorage
	prober     transcoder.Prober
	transcoder transcoder.Transcoder
	cfg        MP4FixerConfig
}

// NewMP4Fixer creates a new MP4Fixer.
func NewMP4Fixer(storage repository.ObjectStorage, prober transcoder.Prober, tc transcoder.Transcoder, cfg MP4FixerConfig) *MP4Fixer {
	if cfg.TargetPixelFormat == "" {
		cfg.TargetPixelFormat = "yuv420p"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	return &MP4Fixer{
		storage:    storage,
		prober:     prober,
		transcoder: tc,
		cfg:        cfg,
	}
}

// Plan classifies key without changing it. The object is probed over HTTP,
// CDN URL first and presigned URL second. A probe failure is reported in
// the result rather than returned.
func (f *MP4Fixer) Plan(ctx context.Context, key string) (*model.MP4Result, error) {
	head, err := f.storage.Head(ctx, key)
	if err != nil {
		return nil, storageErr(err)
	}
	if head == nil {
		return nil, model.Errorf(model.KindStorageNotFound, "object %s does not exist", key)
	}

	res := &model.MP4Result{}
	info, err := f.probeRemote(ctx, key, res)
	if err != nil {
		res.ProbeError = err.Error()
		return res, nil
	}

	if b, err := f.storage.ReadHead(ctx, key, atomScanBytes); err == nil {
		info.MoovBeforeMdat = transcoder.MoovBeforeMdat(bytes.NewReader(b))
	}

	cls := Classify(info, head, f.cfg.TargetPixelFormat)
	res.Probe = info
	res.Classification = &cls
	res.Action = chooseAction(cls, head.Faststart())
	return res, nil
}

func (f *MP4Fixer) probeRemote(ctx context.Context, key string, res *model.MP4Result) (*model.ProbeInfo, error) {
	candidates := []string{f.storage.PublicURL(key)}
	if u, err := f.storage.PresignedGet(ctx, key, f.cfg.PresignTTL); err == nil {
		candidates = append(candidates, u)
	}

	var lastErr error
	for _, u := range candidates {
		res.ProbedURLs = append(res.ProbedURLs, u)
		info, err := f.prober.Probe(ctx, u)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, model.NewError(model.KindProbeFailed, lastErr)
}

// Fix downloads key into workDir, applies the chosen plan and writes the
// result back to the same key with ACL public-read and faststart=true.
func (f *MP4Fixer) Fix(ctx context.Context, key, workDir string) (*FixOutput, error) {
	head, err := f.storage.Head(ctx, key)
	if err != nil {
		return nil, storageErr(err)
	}
	if head == nil {
		return nil, model.Errorf(model.KindStorageNotFound, "object %s does not exist", key)
	}

	srcPath := filepath.Join(workDir, "source.mp4")
	if err := f.storage.DownloadFile(ctx, key, srcPath); err != nil {
		return nil, storageErr(fmt.Errorf("download %s: %w", key, err))
	}

	info, err := f.prober.Probe(ctx, srcPath)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.NewError(model.KindProbeFailed, err)
		}
		return nil, err
	}

	cls := Classify(info, head, f.cfg.TargetPixelFormat)
	res := &model.MP4Result{
		Probe:          info,
		Classification: &cls,
		Action:         chooseAction(cls, head.Faststart()),
	}
	out := &FixOutput{Result: res, LocalPath: srcPath}

	opts := repository.PutOptions{
		ContentType:  model.ContentTypeMP4,
		ACL:          model.ACLPublicRead,
		UserMetadata: model.MergeMetadata(head.UserMetadata, map[string]string{model.MetaFaststart: "true"}),
	}

	switch res.Action {
	case model.ActionSkipAlreadyOK:
		return out, nil

	case model.ActionSetFaststartMetadata:
		if err := f.setMetadata(ctx, key, srcPath, opts); err != nil {
			return nil, err
		}
		return out, nil
	}

	dstPath := filepath.Join(workDir, "fixed.mp4")
	if err := f.transcode(ctx, res.Action, srcPath, dstPath); err != nil {
		return nil, err
	}
	if err := f.storage.UploadFile(ctx, key, dstPath, opts); err != nil {
		return nil, storageErr(fmt.Errorf("upload fixed mp4: %w", err))
	}

	slog.Info("mp4 fixed", "key", key, "action", res.Action)
	out.LocalPath = dstPath
	return out, nil
}

// setMetadata copies key onto itself with replaced metadata. Stores that
// ignore the REPLACE directive are detected by re-reading the metadata and
// fall back to a full upload of the local copy.
func (f *MP4Fixer) setMetadata(ctx context.Context, key, localPath string, opts repository.PutOptions) error {
	if err := f.storage.Copy(ctx, key, key, opts); err != nil {
		return storageErr(fmt.Errorf("copy-in-place metadata: %w", err))
	}

	head, err := f.storage.Head(ctx, key)
	if err != nil {
		return fmt.Errorf("verify metadata: %w", err)
	}
	if head.Faststart() {
		return nil
	}

	slog.Warn("store kept old metadata on copy, re-uploading", "key", key)
	if err := f.storage.UploadFile(ctx, key, localPath, opts); err != nil {
		return fmt.Errorf("re-upload with metadata: %w", err)
	}
	return nil
}

func (f *MP4Fixer) transcode(ctx context.Context, action model.MP4Action, src, dst string) error {
	var (
		op  string
		run func(ctx context.Context, in, out string) error
	)
	switch action {
	case model.ActionRemuxFaststart:
		op, run = metrics.OpRemux, f.transcoder.RemuxFaststart
	case model.ActionReencodeAudio:
		op, run = metrics.OpAudio, f.transcoder.ReencodeAudio
	default:
		op, run = metrics.OpFull, f.transcoder.FullTranscode
	}

	start := time.Now()
	err := run(ctx, src, dst)
	metrics.TranscodeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.NewError(model.KindTranscodeFailed, err)
		}
		return err
	}
	return nil
}
