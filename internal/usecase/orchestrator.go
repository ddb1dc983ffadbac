package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
	"github.com/hszk-dev/vidmaint/internal/keys"
)

// ProcessRequest is the input of one Orchestrator run.
type ProcessRequest struct {
	Key          string
	DryRun       bool
	DeleteOldKey bool
}

// OrchestratorConfig holds configuration for the Orchestrator.
type OrchestratorConfig struct {
	LockTTL time.Duration
	TempDir string
}

// Orchestrator runs the full maintenance pipeline for one source video:
// rename to the canonical key, MP4 fix, HLS repair, reference rewrite and
// optional deletion of the old key.
type Orchestrator struct {
	storage  repository.ObjectStorage
	coord    repository.Coordinator
	rewriter repository.ReferenceRewriter
	fixer    *MP4Fixer
	repairer *HLSRepairer
	cfg      OrchestratorConfig
	now      func() time.Time
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	storage repository.ObjectStorage,
	coord repository.Coordinator,
	rewriter repository.ReferenceRewriter,
	fixer *MP4Fixer,
	repairer *HLSRepairer,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Orchestrator{
		storage:  storage,
		coord:    coord,
		rewriter: rewriter,
		fixer:    fixer,
		repairer: repairer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Process runs the pipeline for req.Key and returns its result record.
// Failures are reported in the record; the returned record is never nil.
func (o *Orchestrator) Process(ctx context.Context, req ProcessRequest) *model.Result {
	start := o.now()
	res := &model.Result{
		OldKey:       req.Key,
		DryRun:       req.DryRun,
		DeleteOldKey: req.DeleteOldKey,
		Rename:       model.RenameResult{Status: model.RenameSkipped},
		StartedAt:    start.UTC(),
	}
	locks := &lockSet{coord: o.coord, ttl: o.cfg.LockTTL}
	defer func() {
		o.finish(ctx, res, start)
		locks.releaseAll(ctx)
	}()

	switch {
	case model.IsHLSPath(req.Key):
		res.Skip(model.KindHLSPath)
		return res
	case !model.IsMP4(req.Key):
		res.Skip(model.KindNotMP4)
		return res
	}

	if err := locks.acquire(ctx, req.Key); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			metrics.LockContentionTotal.Inc()
			res.Skip(model.KindLocked)
			return res
		}
		res.Fail(fmt.Errorf("acquire lock: %w", err))
		return res
	}

	if err := o.run(ctx, req, res, locks); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			metrics.LockContentionTotal.Inc()
			res.Skip(model.KindLocked)
			return res
		}
		res.Fail(err)
		return res
	}
	if req.DryRun {
		res.Status = model.StatusDryRun
	} else {
		res.Status = model.StatusOK
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, req ProcessRequest, res *model.Result, locks *lockSet) error {
	head, err := o.storage.Head(ctx, req.Key)
	if err != nil {
		return storageErr(err)
	}
	if head == nil {
		return model.Errorf(model.KindStorageNotFound, "object %s does not exist", req.Key)
	}

	// Different old keys can share a canonical key. Holding it keeps the
	// existence check and the copy atomic with respect to other workers.
	if canonical := keys.Canonicalize(req.Key); canonical != req.Key && !req.DryRun {
		if err := locks.acquire(ctx, canonical); err != nil {
			if errors.Is(err, repository.ErrLockHeld) {
				return fmt.Errorf("canonical key %s: %w", canonical, err)
			}
			return fmt.Errorf("acquire lock on %s: %w", canonical, err)
		}
	}

	newKey, reused, err := o.targetKey(ctx, req.Key)
	if err != nil {
		return err
	}
	res.NewKey = newKey
	res.Rename.Reused = reused
	renamed := newKey != req.Key

	if req.DryRun {
		return o.plan(ctx, req, res, renamed)
	}

	workDir, err := os.MkdirTemp(o.cfg.TempDir, "vidmaint-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if renamed && !reused {
		opts := repository.PutOptions{
			ContentType:  head.ContentType,
			ACL:          model.ACLPublicRead,
			UserMetadata: model.MergeMetadata(head.UserMetadata, map[string]string{
				model.MetaOriginSHA1: keys.ShortHash(req.Key, 40),
			}),
		}
		if opts.ContentType == "" {
			opts.ContentType = model.ContentTypeMP4
		}
		if err := o.storage.Copy(ctx, req.Key, newKey, opts); err != nil {
			return storageErr(fmt.Errorf("copy to %s: %w", newKey, err))
		}
		slog.Info("copied to canonical key", "key", req.Key, "new_key", newKey)
	}
	if renamed {
		res.Rename.Status = model.RenameCopied
	}

	fix, err := o.fixer.Fix(ctx, newKey, workDir)
	if err != nil {
		return err
	}
	res.MP4 = fix.Result

	hasAudio := fix.Result.Probe != nil && fix.Result.Probe.HasAudio
	hlsRes, err := o.repairer.Repair(ctx, RepairInput{
		Key:            newKey,
		WorkDir:        workDir,
		LocalSource:    fix.LocalPath,
		SourceHasAudio: hasAudio,
		CopyVideo:      true,
	})
	if err != nil {
		return err
	}
	res.HLS = hlsRes

	if !renamed {
		return nil
	}

	rw, err := o.rewriter.Rewrite(ctx, req.Key, newKey, false)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.NewError(model.KindDBRewriteFailed, err)
		}
		return err
	}
	res.Rewrite = rw

	if req.DeleteOldKey {
		if err := o.storage.Delete(ctx, req.Key); err != nil {
			slog.Warn("failed to delete old key", "key", req.Key, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", model.KindDeleteOldFailed, err))
		} else {
			res.OldKeyDeleted = true
		}
	}
	return nil
}

// plan fills res with what an apply run would do. The MP4 is classified
// at the old key because the new key does not exist yet.
func (o *Orchestrator) plan(ctx context.Context, req ProcessRequest, res *model.Result, renamed bool) error {
	res.WouldApplyToKey = res.NewKey
	if renamed {
		res.Rename.Status = model.RenamePlanned
	}

	mp4, err := o.fixer.Plan(ctx, req.Key)
	if err != nil {
		return err
	}
	res.MP4 = mp4

	hasAudio := mp4.Probe != nil && mp4.Probe.HasAudio
	hlsRes, err := o.repairer.Repair(ctx, RepairInput{
		Key:            res.NewKey,
		SourceHasAudio: hasAudio,
		DryRun:         true,
	})
	if err != nil {
		return err
	}
	res.HLS = hlsRes

	if renamed {
		rw, err := o.rewriter.Rewrite(ctx, req.Key, res.NewKey, true)
		if err != nil {
			if model.KindOf(err) == model.KindInternal {
				err = model.NewError(model.KindDBRewriteFailed, err)
			}
			return err
		}
		res.Rewrite = rw
	}
	return nil
}

// targetKey returns the canonical key for key. An existing canonical object
// is reused when it was copied from key, otherwise the collision suffix is
// applied. A suffixed key taken by a different origin is an error.
func (o *Orchestrator) targetKey(ctx context.Context, key string) (string, bool, error) {
	canonical := keys.Canonicalize(key)
	if canonical == key {
		return key, false, nil
	}

	head, err := o.storage.Head(ctx, canonical)
	if err != nil {
		return "", false, storageErr(err)
	}
	if head == nil {
		return canonical, false, nil
	}
	origin := keys.ShortHash(key, 40)
	if head.MetaValue(model.MetaOriginSHA1) == origin {
		return canonical, true, nil
	}

	suffixed := keys.WithCollisionSuffix(canonical, key)
	head, err = o.storage.Head(ctx, suffixed)
	if err != nil {
		return "", false, storageErr(err)
	}
	if head == nil {
		return suffixed, false, nil
	}
	if head.MetaValue(model.MetaOriginSHA1) != origin {
		return "", false, model.Errorf(model.KindInternal, "collision key %s holds an object copied from elsewhere", suffixed)
	}
	return suffixed, true, nil
}

// lockSet holds the keys locked by one Process call.
type lockSet struct {
	coord repository.Coordinator
	ttl   time.Duration
	held  []heldLock
}

type heldLock struct {
	key  string
	lock repository.Lock
}

func (s *lockSet) acquire(ctx context.Context, key string) error {
	lock, err := s.coord.AcquireLock(ctx, key, s.ttl)
	if err != nil {
		return err
	}
	s.held = append(s.held, heldLock{key: key, lock: lock})
	return nil
}

// releaseAll releases in reverse acquisition order.
func (s *lockSet) releaseAll(ctx context.Context) {
	for i := len(s.held) - 1; i >= 0; i-- {
		h := s.held[i]
		if err := h.lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to release lock", "key", h.key, "error", err)
		}
	}
	s.held = nil
}

func (o *Orchestrator) finish(ctx context.Context, res *model.Result, start time.Time) {
	res.DurationMS = o.now().Sub(start).Milliseconds()
	metrics.ObserveResult(res)

	if err := o.coord.AppendAudit(context.WithoutCancel(ctx), res); err != nil {
		slog.Warn("failed to append audit record", "key", res.OldKey, "error", err)
	}

	attrs := []any{
		"key", res.OldKey,
		"new_key", res.NewKey,
		"status", res.Status,
		"dry_run", res.DryRun,
		"duration_ms", res.DurationMS,
	}
	if res.MP4 != nil {
		attrs = append(attrs, "action", res.MP4.Action)
	}
	if res.Status == model.StatusError {
		slog.Error("video maintenance failed", append(attrs, "error_kind", res.ErrorKind, "error", res.Error)...)
		return
	}
	slog.Info("video maintenance finished", attrs...)
}
