// Package app connects the infrastructure clients and assembles the
// maintenance pipeline from configuration. It is shared by the worker, the
// API server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vidmaint/internal/config"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/coord"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/postgres"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/queue"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/storage"
	"github.com/hszk-dev/vidmaint/internal/transcoder"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

// NewLogger returns a JSON logger writing to w at the named level.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OpenStorage connects the bucket client.
func OpenStorage(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:    cfg.Storage.Endpoint,
		EndpointURL: cfg.Storage.EndpointURL,
		PublicHost:  cfg.Storage.PublicHost,
		Region:      cfg.Storage.Region,
		AccessKey:   cfg.Storage.AccessKey,
		SecretKey:   cfg.Storage.SecretKey,
		Bucket:      cfg.Storage.Bucket,
		UseSSL:      cfg.Storage.UseSSL,
		MaxRetries:  cfg.Storage.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}
	return client, nil
}

// OpenRedis connects Redis and returns the client with a coordinator on top.
// The caller closes the client.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, *coord.RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := coord.NewRedisCoordinator(client, coord.Config{
		KeyPrefix:       cfg.Redis.KeyPrefix,
		AuditMaxEntries: cfg.Worker.AuditMaxEntries,
		ProgressTTL:     cfg.Worker.ProgressTTL,
	})
	return client, c, nil
}

// OpenQueue connects RabbitMQ.
func OpenQueue(ctx context.Context, cfg *config.Config) (*queue.Client, error) {
	client, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return client, nil
}

// OpenPostgres connects the platform database.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	client, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return client, nil
}

// FFmpegConfig translates the transcode and HLS settings.
func FFmpegConfig(cfg *config.Config) transcoder.FFmpegConfig {
	return transcoder.FFmpegConfig{
		FFmpegPath:        cfg.Transcode.FFmpegPath,
		Timeout:           cfg.Transcode.Timeout(),
		Threads:           cfg.Transcode.Threads,
		VideoCodec:        cfg.Transcode.TargetVideoCodec,
		PixelFormat:       cfg.Transcode.TargetPixelFormat,
		Profile:           cfg.Transcode.H264Profile,
		Level:             cfg.Transcode.H264Level,
		Preset:            cfg.Transcode.VideoPreset,
		CRF:               cfg.Transcode.VideoCRF,
		AudioCodec:        cfg.Transcode.TargetAudioCodec,
		AudioBitrate:      cfg.Transcode.AudioBitrate,
		AudioChannels:     cfg.Transcode.AudioChannels,
		AudioRateHz:       cfg.Transcode.AudioRateHz,
		HLSSegmentSeconds: cfg.HLS.SegmentSeconds,
		HLSSegmentFormat:  cfg.HLS.SegmentFormat,
	}
}

// HLSRepairerConfig translates the HLS settings.
func HLSRepairerConfig(cfg *config.Config) usecase.HLSRepairerConfig {
	return usecase.HLSRepairerConfig{
		SegmentHeadLimit:    cfg.HLS.SegmentHeadLimit,
		MinSegmentSizeBytes: cfg.HLS.MinSegmentSizeBytes,
		FixACLPublicRead:    cfg.HLS.FixACLPublicRead,
		FixACLMaxFiles:      cfg.HLS.FixACLMaxFiles,
		RequireAudioCheck:   cfg.HLS.RequireAudioCheck,
		InputViaURL:         cfg.HLS.InputViaURL,
		Bandwidth:           cfg.HLS.Bandwidth,
		PresignTTL:          cfg.Storage.PresignTTL,
	}
}

// NewOrchestrator assembles the per-video pipeline. Transcoder processes
// run through nice(1) at the configured niceness.
func NewOrchestrator(cfg *config.Config, store *storage.Client, coordinator *coord.RedisCoordinator, pg *postgres.Client) *usecase.Orchestrator {
	runner := transcoder.ExecRunner{Nice: cfg.Transcode.Nice}
	prober := transcoder.NewFFprobe(cfg.Transcode.FFprobePath, cfg.Transcode.Timeout(), runner)
	tc := transcoder.NewFFmpegTranscoder(FFmpegConfig(cfg), runner)

	fixer := usecase.NewMP4Fixer(store, prober, tc, usecase.MP4FixerConfig{
		TargetPixelFormat: cfg.Transcode.TargetPixelFormat,
		PresignTTL:        cfg.Storage.PresignTTL,
	})
	repairer := usecase.NewHLSRepairer(store, prober, tc, HLSRepairerConfig(cfg))

	catalog := postgres.NewCatalog(pg.Pool(), cfg.Rewrite.Schema)
	rewriter := postgres.NewRewriter(pg.Pool(), catalog, cfg.Storage.PublicHost)

	return usecase.NewOrchestrator(store, coordinator, rewriter, fixer, repairer, usecase.OrchestratorConfig{
		LockTTL: cfg.Worker.LockTTL,
		TempDir: cfg.Worker.TempDir,
	})
}

// SchedulerConfig translates the scheduler settings.
func SchedulerConfig(cfg *config.Config) usecase.SchedulerConfig {
	return usecase.SchedulerConfig{
		BatchSize:             cfg.Scheduler.BatchSize,
		ListPageSize:          cfg.Scheduler.ListPageSize,
		DeleteOldKeyByDefault: cfg.Scheduler.DeleteOldKeyByDefault,
	}
}
