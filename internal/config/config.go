package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Worker    WorkerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Transcode TranscodeConfig
	HLS       HLSConfig
	Scheduler SchedulerConfig
	Rewrite   RewriteConfig
}

type ServerConfig struct {
	Port               int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout        time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout       time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
	ManualRunMaxVideos int           `envconfig:"MANUAL_RUN_MAX_VIDEOS" default:"5"`
}

type WorkerConfig struct {
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"/tmp/vidmaint"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	TaskTimeout     time.Duration `envconfig:"WORKER_TASK_TIMEOUT" default:"30m"`
	MetricsPort     int           `envconfig:"WORKER_METRICS_PORT" default:"9102"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"30m"`
	AuditMaxEntries int           `envconfig:"AUDIT_MAX_ENTRIES" default:"200"`
	ProgressTTL     time.Duration `envconfig:"RUN_PROGRESS_TTL" default:"24h"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"vidmaint"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"vidmaint"`
	DBName   string `envconfig:"POSTGRES_DB" default:"platform"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// StorageConfig describes the S3-compatible bucket.
// Endpoint is host[:port] for the object I/O client; EndpointURL is the
// full scheme+host used for path-style URLs (bucket in path) and for the
// listing/ACL client.
type StorageConfig struct {
	Endpoint    string        `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	EndpointURL string        `envconfig:"STORAGE_ENDPOINT_URL" default:"http://localhost:9000"`
	PublicHost  string        `envconfig:"STORAGE_PUBLIC_HOST" default:"http://localhost:9000/videos"`
	Region      string        `envconfig:"STORAGE_REGION" default:"us-east-1"`
	AccessKey   string        `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey   string        `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket      string        `envconfig:"STORAGE_BUCKET" default:"videos"`
	UseSSL      bool          `envconfig:"STORAGE_USE_SSL" default:"false"`
	PresignTTL  time.Duration `envconfig:"PRESIGN_TTL" default:"1h"`
	MaxRetries  int           `envconfig:"STORAGE_MAX_RETRIES" default:"2"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"vidmaint"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"vidmaint"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host      string `envconfig:"REDIS_HOST" default:"localhost"`
	Port      int    `envconfig:"REDIS_PORT" default:"6379"`
	Password  string `envconfig:"REDIS_PASSWORD" default:""`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"vidmaint:"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TranscodeConfig struct {
	FFmpegPath        string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath       string `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	TimeoutSec        int    `envconfig:"FFMPEG_TIMEOUT_SEC" default:"1800"`
	Threads           int    `envconfig:"TRANSCODE_THREADS" default:"1"`
	Nice              int    `envconfig:"TRANSCODE_NICE" default:"10"`
	TargetVideoCodec  string `envconfig:"TARGET_VIDEO_CODEC" default:"libx264"`
	TargetAudioCodec  string `envconfig:"TARGET_AUDIO_CODEC" default:"aac"`
	TargetPixelFormat string `envconfig:"TARGET_PIXEL_FORMAT" default:"yuv420p"`
	H264Profile       string `envconfig:"H264_PROFILE" default:"high"`
	H264Level         string `envconfig:"H264_LEVEL" default:"4.1"`
	VideoPreset       string `envconfig:"VIDEO_PRESET" default:"veryfast"`
	VideoCRF          int    `envconfig:"VIDEO_CRF" default:"23"`
	AudioBitrate      string `envconfig:"AUDIO_BITRATE" default:"128k"`
	AudioChannels     int    `envconfig:"AUDIO_CHANNELS" default:"2"`
	AudioRateHz       int    `envconfig:"AUDIO_RATE_HZ" default:"48000"`
}

func (c TranscodeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type HLSConfig struct {
	SegmentHeadLimit    int    `envconfig:"HLS_SEGMENT_HEAD_LIMIT" default:"30"`
	MinSegmentSizeBytes int64  `envconfig:"HLS_MIN_SEGMENT_SIZE_BYTES" default:"512"`
	FixACLPublicRead    bool   `envconfig:"HLS_FIX_ACL_PUBLIC_READ" default:"true"`
	FixACLMaxFiles      int    `envconfig:"HLS_FIX_ACL_MAX_FILES" default:"50"`
	SegmentSeconds      int    `envconfig:"HLS_SEGMENT_SECONDS" default:"8"`
	SegmentFormat       string `envconfig:"HLS_SEGMENT_FORMAT" default:"ts"`
	InputViaURL         bool   `envconfig:"HLS_INPUT_VIA_URL" default:"false"`
	RequireAudioCheck   bool   `envconfig:"HLS_REQUIRE_AUDIO_CHECK" default:"true"`
	Bandwidth           int    `envconfig:"HLS_BANDWIDTH" default:"2500000"`
}

type SchedulerConfig struct {
	Enabled               bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	Interval              time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"5m"`
	BatchSize             int           `envconfig:"BATCH_SIZE" default:"3"`
	ListPageSize          int           `envconfig:"LIST_PAGE_SIZE" default:"250"`
	DeleteOldKeyByDefault bool          `envconfig:"DELETE_OLD_KEY_BY_DEFAULT" default:"true"`
}

type RewriteConfig struct {
	Schema string `envconfig:"REWRITE_SCHEMA" default:"public"`
}

// Load reads an optional .env file from the working directory and then
// populates Config from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
