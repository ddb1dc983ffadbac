package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/hls"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
	"github.com/hszk-dev/vidmaint/internal/transcoder"
)

// HLSRepairerConfig holds configuration for HLS validation and repair.
type HLSRepairerConfig struct {
	// SegmentHeadLimit bounds how many leading segments are checked. Zero checks all.
	SegmentHeadLimit    int
	MinSegmentSizeBytes int64
	FixACLPublicRead    bool
	// FixACLMaxFiles bounds how many files get an ACL check per run. Zero checks all.
	FixACLMaxFiles    int
	RequireAudioCheck bool
	// InputViaURL passes the CDN URL to the transcoder instead of a local file.
	InputViaURL bool
	Bandwidth   int
	PresignTTL  time.Duration
}

// RepairInput describes one HLS check or repair.
type RepairInput struct {
	Key     string
	WorkDir string
	// LocalSource is an optional local copy of Key.
	LocalSource    string
	SourceHasAudio bool
	// CopyVideo enables the stream-copy fast path for rebuilds.
	CopyVideo bool
	DryRun    bool
}

// HLSRepairer validates a source video's canonical HLS bundle, rebuilds it
// when broken, and keeps the video's legacy alias pointed at it.
type HLSRepairer struct {
	storage    repository.ObjectStorage
	prober     transcoder.Prober
	transcoder transcoder.Transcoder
	cfg        HLSRepairerConfig
}

// NewHLSRepairer creates a new HLSRepairer.
func NewHLSRepairer(storage repository.ObjectStorage, prober transcoder.Prober, tc transcoder.Transcoder, cfg HLSRepairerConfig) *HLSRepairer {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	return &HLSRepairer{
		storage:    storage,
		prober:     prober,
		transcoder: tc,
		cfg:        cfg,
	}
}

// bundleCheck is the outcome of validating a bundle.
type bundleCheck struct {
	// reason is empty for a healthy bundle.
	reason string
	// files are the keys verified to exist, master first.
	files    []string
	warnings []string
}

// Repair checks the bundle of in.Key and rebuilds it when broken. In
// dry-run nothing is written.
func (r *HLSRepairer) Repair(ctx context.Context, in RepairInput) (*model.HLSResult, error) {
	b := hls.PlanBundle(in.Key)
	res := &model.HLSResult{
		Status:          model.HLSOK,
		CanonicalPrefix: b.CanonicalPrefix,
		LegacyPrefix:    b.LegacyPrefix,
	}

	chk, err := r.check(ctx, b, in.SourceHasAudio)
	if err != nil {
		return nil, err
	}
	res.Warnings = chk.warnings

	switch {
	case chk.reason != "" && in.DryRun:
		res.Status = model.HLSWouldRebuild
		res.Reason = chk.reason
	case chk.reason != "":
		slog.Info("rebuilding hls", "key", in.Key, "reason", chk.reason)
		if err := r.rebuild(ctx, b, in); err != nil {
			return nil, err
		}
		res.Status = model.HLSStatusForReason(chk.reason)
		res.Reason = chk.reason
	default:
		files := chk.files
		points, _, err := r.aliasPointsHere(ctx, b)
		if err != nil {
			return nil, err
		}
		if points {
			// right after the master so FixACLMaxFiles never cuts it
			files = append([]string{files[0], b.LegacyMaster()}, files[1:]...)
		}
		fixed, warnings := r.fixACL(ctx, files, in.DryRun)
		res.ACLFixed = fixed
		res.Warnings = append(res.Warnings, warnings...)
	}

	written, err := r.ensureAlias(ctx, b, in.DryRun)
	if err != nil {
		return nil, err
	}
	res.AliasWritten = written
	if in.DryRun && written {
		res.AliasWritten = false
		res.Warnings = append(res.Warnings, "legacy alias would be rewritten")
	}
	return res, nil
}

func (r *HLSRepairer) check(ctx context.Context, b hls.Bundle, sourceHasAudio bool) (*bundleCheck, error) {
	chk := &bundleCheck{}
	masterKey := b.CanonicalMaster()

	head, err := r.storage.Head(ctx, masterKey)
	if err != nil {
		return nil, storageErr(err)
	}
	if head == nil {
		chk.reason = model.ReasonMissingMaster
		if points, _, err := r.aliasPointsHere(ctx, b); err != nil {
			return nil, err
		} else if points {
			chk.reason = model.ReasonAliasTargetMissing
		}
		return chk, nil
	}

	master, err := r.readPlaylist(ctx, masterKey)
	if err != nil {
		return nil, err
	}
	if master == nil {
		chk.reason = model.ReasonMissingMaster
		return chk, nil
	}
	chk.files = append(chk.files, masterKey)

	variantKey, variant := masterKey, master
	if master.IsMaster() {
		variantKey, variant, err = r.firstVariant(ctx, masterKey, master.Variants)
		if err != nil {
			return nil, err
		}
		if variant == nil {
			chk.reason = model.ReasonMissingVariant
			return chk, nil
		}
		chk.files = append(chk.files, variantKey)
	}

	if len(variant.Segments) == 0 {
		chk.reason = model.ReasonMissingSegment
		return chk, nil
	}

	if variant.InitSegment != "" {
		initKey, ok := r.refKey(variantKey, variant.InitSegment)
		h, err := r.head(ctx, initKey, ok)
		if err != nil {
			return nil, err
		}
		if h == nil {
			chk.reason = model.ReasonMissingSegment
			return chk, nil
		}
		chk.files = append(chk.files, initKey)
	}

	segments := variant.Segments
	if limit := r.cfg.SegmentHeadLimit; limit > 0 && len(segments) > limit {
		segments = segments[:limit]
	}
	var firstSegment string
	for _, seg := range segments {
		segKey, ok := r.refKey(variantKey, seg)
		h, err := r.head(ctx, segKey, ok)
		if err != nil {
			return nil, err
		}
		if h == nil {
			chk.reason = model.ReasonMissingSegment
			return chk, nil
		}
		if h.Size < r.cfg.MinSegmentSizeBytes {
			chk.reason = model.ReasonTooSmallSegment
			return chk, nil
		}
		if firstSegment == "" {
			firstSegment = segKey
		}
		chk.files = append(chk.files, segKey)
	}

	if r.cfg.RequireAudioCheck && sourceHasAudio {
		hasAudio, err := r.segmentHasAudio(ctx, firstSegment)
		switch {
		case err != nil:
			chk.warnings = append(chk.warnings, "audio check skipped: "+err.Error())
		case !hasAudio:
			chk.reason = model.ReasonNoAudio
		}
	}
	return chk, nil
}

// readPlaylist returns nil when body is not a playlist.
func (r *HLSRepairer) readPlaylist(ctx context.Context, key string) (*hls.Playlist, error) {
	body, err := r.storage.GetText(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, storageErr(err)
	}
	p, err := hls.Parse(body)
	if err != nil {
		return nil, nil
	}
	return p, nil
}

// firstVariant returns the first referenced variant that exists and parses.
func (r *HLSRepairer) firstVariant(ctx context.Context, masterKey string, refs []string) (string, *hls.Playlist, error) {
	for _, ref := range refs {
		key, ok := r.refKey(masterKey, ref)
		h, err := r.head(ctx, key, ok)
		if err != nil {
			return "", nil, err
		}
		if h == nil {
			continue
		}
		p, err := r.readPlaylist(ctx, key)
		if err != nil {
			return "", nil, err
		}
		if p != nil {
			return key, p, nil
		}
	}
	return "", nil, nil
}

// refKey maps a playlist reference to a bucket key. ok is false for
// absolute URLs outside the bucket.
func (r *HLSRepairer) refKey(playlistKey, ref string) (string, bool) {
	if hls.IsAbsoluteURL(ref) {
		key, err := r.storage.KeyFromURLOrKey(ref)
		return key, err == nil
	}
	return hls.ResolveRef(playlistKey, ref), true
}

func (r *HLSRepairer) head(ctx context.Context, key string, ok bool) (*model.ObjectHead, error) {
	if !ok {
		return nil, nil
	}
	h, err := r.storage.Head(ctx, key)
	if err != nil {
		return nil, storageErr(err)
	}
	return h, nil
}

func (r *HLSRepairer) segmentHasAudio(ctx context.Context, segKey string) (bool, error) {
	u, err := r.storage.PresignedGet(ctx, segKey, r.cfg.PresignTTL)
	if err != nil {
		return false, err
	}
	info, err := r.prober.Probe(ctx, u)
	if err != nil {
		return false, err
	}
	return info.HasAudio, nil
}

// fixACL grants public-read on private files, the legacy alias included when
// it forwards here. It stops at the first answer showing the store cannot
// report ACLs.
func (r *HLSRepairer) fixACL(ctx context.Context, files []string, dryRun bool) (int, []string) {
	if !r.cfg.FixACLPublicRead {
		return 0, nil
	}
	if max := r.cfg.FixACLMaxFiles; max > 0 && len(files) > max {
		files = files[:max]
	}

	var warnings []string
	fixed := 0
	for _, key := range files {
		public, err := r.storage.IsPublicRead(ctx, key)
		if errors.Is(err, repository.ErrACLUnsupported) || errors.Is(err, repository.ErrAccessDenied) {
			slog.Warn("acl check skipped", "key", key, "error", err)
			return fixed, append(warnings, "acl check skipped: "+err.Error())
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("acl check %s: %v", key, err))
			continue
		}
		if public {
			continue
		}
		if dryRun {
			warnings = append(warnings, "private: "+key)
			continue
		}
		if err := r.storage.PutACL(ctx, key, model.ACLPublicRead); err != nil {
			warnings = append(warnings, fmt.Sprintf("acl fix %s: %v", key, err))
			continue
		}
		fixed++
	}
	return fixed, warnings
}

// aliasPointsHere reports whether the legacy master exists and forwards to
// this bundle's canonical master.
func (r *HLSRepairer) aliasPointsHere(ctx context.Context, b hls.Bundle) (points, exists bool, err error) {
	head, err := r.storage.Head(ctx, b.LegacyMaster())
	if err != nil {
		return false, false, storageErr(err)
	}
	if head == nil {
		return false, false, nil
	}

	body, err := r.storage.GetText(ctx, b.LegacyMaster())
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return false, false, nil
		}
		return false, false, storageErr(err)
	}
	target, err := hls.AliasTarget(body)
	if err != nil {
		return false, true, nil
	}
	key, err := r.storage.KeyFromURLOrKey(target)
	if err != nil {
		return false, true, nil
	}
	return key == b.CanonicalMaster(), true, nil
}

// ensureAlias writes this video's legacy master as an alias of its
// canonical master unless it already is one. No other key is touched.
func (r *HLSRepairer) ensureAlias(ctx context.Context, b hls.Bundle, dryRun bool) (bool, error) {
	points, _, err := r.aliasPointsHere(ctx, b)
	if err != nil {
		return false, err
	}
	if points {
		return false, nil
	}
	if dryRun {
		return true, nil
	}

	body := hls.BuildAlias(r.storage.PublicURL(b.CanonicalMaster()))
	if err := r.storage.PutText(ctx, b.LegacyMaster(), body, model.ContentTypePlaylist); err != nil {
		return false, storageErr(fmt.Errorf("write legacy alias: %w", err))
	}
	return true, nil
}

func (r *HLSRepairer) rebuild(ctx context.Context, b hls.Bundle, in RepairInput) error {
	input := in.LocalSource
	switch {
	case r.cfg.InputViaURL:
		input = r.storage.PublicURL(in.Key)
	case input == "":
		input = filepath.Join(in.WorkDir, "hls-source.mp4")
		if err := r.storage.DownloadFile(ctx, in.Key, input); err != nil {
			return storageErr(fmt.Errorf("download %s: %w", in.Key, err))
		}
	}

	outDir := filepath.Join(in.WorkDir, "hls")
	out, err := r.build(ctx, input, outDir, in.CopyVideo)
	if err != nil && in.CopyVideo {
		slog.Warn("hls stream copy failed, re-encoding", "key", in.Key, "error", err)
		out, err = r.build(ctx, input, outDir, false)
	}
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.NewError(model.KindTranscodeFailed, err)
		}
		return err
	}

	for _, f := range out.Files {
		key := b.CanonicalPrefix + filepath.Base(f)
		opts := repository.PutOptions{
			ContentType: hls.ContentTypeFor(f),
			ACL:         model.ACLPublicRead,
		}
		if err := r.storage.UploadFile(ctx, key, f, opts); err != nil {
			return storageErr(fmt.Errorf("upload %s: %w", key, err))
		}
	}
	return nil
}

func (r *HLSRepairer) build(ctx context.Context, input, outDir string, copyVideo bool) (*transcoder.HLSOutput, error) {
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("reset hls output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create hls output dir: %w", err)
	}

	start := time.Now()
	out, err := r.transcoder.BuildHLS(ctx, input, outDir, transcoder.HLSOptions{
		CopyVideo: copyVideo,
		Bandwidth: r.cfg.Bandwidth,
	})
	metrics.TranscodeDuration.WithLabelValues(metrics.OpHLS).Observe(time.Since(start).Seconds())
	return out, err
}
