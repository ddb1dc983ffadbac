package coord

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func newTestCoordinator(t *testing.T, auditMax int) (*RedisCoordinator, *miniredis.Miniredis) {
	client, mr := setupTestRedis(t)
	return NewRedisCoordinator(client, Config{KeyPrefix: "vm:", AuditMaxEntries: auditMax, ProgressTTL: time.Hour}), mr
}

func TestRedisCoordinator_AcquireLock(t *testing.T) {
	c, mr := newTestCoordinator(t, 0)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "courses/a.mp4", 30*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if ttl := mr.TTL("vm:lock:courses/a.mp4"); ttl != 30*time.Minute {
		t.Errorf("TTL = %v, want 30m", ttl)
	}

	if _, err := c.AcquireLock(ctx, "courses/a.mp4", 30*time.Minute); !errors.Is(err, repository.ErrLockHeld) {
		t.Fatalf("second AcquireLock err = %v, want ErrLockHeld", err)
	}

	// A different key is independent.
	other, err := c.AcquireLock(ctx, "courses/b.mp4", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock other key: %v", err)
	}
	defer other.Release(ctx)

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists("vm:lock:courses/a.mp4") {
		t.Error("lock key still present after release")
	}
	// Release is idempotent.
	if err := lock.Release(ctx); err != nil {
		t.Errorf("second Release: %v", err)
	}

	if _, err := c.AcquireLock(ctx, "courses/a.mp4", time.Minute); err != nil {
		t.Errorf("AcquireLock after release: %v", err)
	}
}

func TestRedisCoordinator_LockExpiry(t *testing.T) {
	c, mr := newTestCoordinator(t, 0)
	ctx := context.Background()

	stale, err := c.AcquireLock(ctx, "a.mp4", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	fresh, err := c.AcquireLock(ctx, "a.mp4", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after expiry: %v", err)
	}

	// The expired holder must not release the new holder's lock.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if !mr.Exists("vm:lock:a.mp4") {
		t.Fatal("stale holder deleted the new lock")
	}
	if err := fresh.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRedisCoordinator_ScanCursor(t *testing.T) {
	c, _ := newTestCoordinator(t, 0)
	ctx := context.Background()

	got, err := c.ScanCursor(ctx)
	if err != nil || got != "" {
		t.Fatalf("ScanCursor on empty store = %q, %v", got, err)
	}

	if err := c.SetScanCursor(ctx, "tok-2"); err != nil {
		t.Fatalf("SetScanCursor: %v", err)
	}
	if got, _ := c.ScanCursor(ctx); got != "tok-2" {
		t.Errorf("ScanCursor = %q, want tok-2", got)
	}

	if err := c.ClearScanCursor(ctx); err != nil {
		t.Fatalf("ClearScanCursor: %v", err)
	}
	if got, _ := c.ScanCursor(ctx); got != "" {
		t.Errorf("ScanCursor after clear = %q", got)
	}
}

func TestRedisCoordinator_Audit(t *testing.T) {
	c, _ := newTestCoordinator(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := &model.Result{Status: model.StatusOK, OldKey: fmt.Sprintf("v%d.mp4", i)}
		if err := c.AppendAudit(ctx, r); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, err := c.RecentAudit(ctx, 0)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	want := []string{"v4.mp4", "v3.mp4", "v2.mp4"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i, key := range want {
		if got[i].OldKey != key {
			t.Errorf("record[%d] = %q, want %q", i, got[i].OldKey, key)
		}
	}

	got, err = c.RecentAudit(ctx, 1)
	if err != nil || len(got) != 1 || got[0].OldKey != "v4.mp4" {
		t.Errorf("RecentAudit(1) = %v, %v", got, err)
	}
}

func TestRedisCoordinator_Progress(t *testing.T) {
	c, mr := newTestCoordinator(t, 0)
	ctx := context.Background()

	if _, err := c.Progress(ctx, "missing"); !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}

	p := &repository.RunProgress{
		RunID:   "run-1",
		Current: "b.mp4",
		Done:    1,
		Total:   2,
		Results: []*model.Result{{Status: model.StatusOK, OldKey: "a.mp4"}},
	}
	if err := c.SaveProgress(ctx, p); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if ttl := mr.TTL("vm:run:run-1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	got, err := c.Progress(ctx, "run-1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if got.Done != 1 || got.Total != 2 || got.Current != "b.mp4" || len(got.Results) != 1 {
		t.Errorf("progress = %+v", got)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := c.Progress(ctx, "run-1"); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("expired progress err = %v", err)
	}
}
