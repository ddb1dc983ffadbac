package model

import "time"

// Status is the overall outcome of one Orchestrator run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusDryRun  Status = "dry_run"
	StatusError   Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// RenameStatus describes what happened to the object key.
type RenameStatus string

const (
	RenameSkipped RenameStatus = "skipped"
	RenamePlanned RenameStatus = "planned"
	RenameCopied  RenameStatus = "copied"
)

// MP4Action is the plan chosen (or executed) by the MP4 Fixer.
type MP4Action string

const (
	ActionSkipAlreadyOK        MP4Action = "skip_already_ok"
	ActionSetFaststartMetadata MP4Action = "set_faststart_metadata"
	ActionRemuxFaststart       MP4Action = "remux_copy_faststart"
	ActionReencodeAudio        MP4Action = "reencode_audio_aac"
	ActionFullTranscode        MP4Action = "full_transcode_h264"
)

// HLSStatus is the outcome of HLS validation and repair.
type HLSStatus string

const (
	HLSOK              HLSStatus = "ok"
	HLSRebuiltMaster   HLSStatus = "rebuilt_master"
	HLSRebuiltVariant  HLSStatus = "rebuilt_variant"
	HLSRebuiltSegments HLSStatus = "rebuilt_segments"
	HLSRebuiltAudio    HLSStatus = "rebuilt_audio"
	HLSWouldRebuild    HLSStatus = "would_rebuild"
)

// HLSStatusForReason maps a breakage reason to the status reported after a
// successful rebuild.
func HLSStatusForReason(reason string) HLSStatus {
	switch reason {
	case ReasonMissingMaster, ReasonAliasTargetMissing:
		return HLSRebuiltMaster
	case ReasonMissingVariant:
		return HLSRebuiltVariant
	case ReasonMissingSegment, ReasonTooSmallSegment:
		return HLSRebuiltSegments
	case ReasonNoAudio:
		return HLSRebuiltAudio
	default:
		return HLSRebuiltMaster
	}
}

// ProbeInfo is what the media probe reports about a file or URL.
// MoovBeforeMdat is nil when the atom order could not be determined.
type ProbeInfo struct {
	VideoCodec     string `json:"vcodec,omitempty"`
	PixelFormat    string `json:"pix_fmt,omitempty"`
	AudioCodec     string `json:"acodec,omitempty"`
	HasVideo       bool   `json:"has_video"`
	HasAudio       bool   `json:"has_audio"`
	MoovBeforeMdat *bool  `json:"moov_before_mdat,omitempty"`
}

// Classification lists the fixes a Source Video needs.
type Classification struct {
	NeedsFullTranscode  bool `json:"needs_full_transcode"`
	NeedsAudioReencode  bool `json:"needs_audio_reencode"`
	NeedsFaststartRemux bool `json:"needs_faststart_remux"`
}

// Compatible reports whether the streams already match the playback target.
func (c Classification) Compatible() bool {
	return !c.NeedsFullTranscode && !c.NeedsAudioReencode
}

type RenameResult struct {
	Status RenameStatus `json:"status"`
	Reused bool         `json:"reused,omitempty"`
}

type MP4Result struct {
	Action         MP4Action       `json:"action"`
	Probe          *ProbeInfo      `json:"probe,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	ProbedURLs     []string        `json:"probed_urls,omitempty"`
	ProbeError     string          `json:"probe_error,omitempty"`
}

type HLSResult struct {
	Status          HLSStatus `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CanonicalPrefix string    `json:"canonical_prefix"`
	LegacyPrefix    string    `json:"legacy_prefix"`
	AliasWritten    bool      `json:"alias_written"`
	ACLFixed        int       `json:"acl_fixed,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
}

type RewriteResult struct {
	Updated    int64            `json:"updated"`
	Columns    map[string]int64 `json:"columns,omitempty"`
	WouldTouch map[string]int64 `json:"would_touch,omitempty"`
}

// Result is the record produced by one Orchestrator run. It is appended to
// the audit ring and returned to callers.
type Result struct {
	Status          Status         `json:"status"`
	OldKey          string         `json:"old_key"`
	NewKey          string         `json:"new_key,omitempty"`
	WouldApplyToKey string         `json:"would_apply_to_key,omitempty"`
	DryRun          bool           `json:"dry_run"`
	DeleteOldKey    bool           `json:"delete_old_key"`
	Rename          RenameResult   `json:"rename"`
	MP4             *MP4Result     `json:"mp4,omitempty"`
	HLS             *HLSResult     `json:"hls,omitempty"`
	Rewrite         *RewriteResult `json:"rewrite,omitempty"`
	OldKeyDeleted   bool           `json:"old_key_deleted,omitempty"`
	ErrorKind       ErrorKind      `json:"error_kind,omitempty"`
	Error           string         `json:"error,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	DurationMS      int64          `json:"duration_ms"`
}

// Fail marks the result as failed with the kind carried by err.
func (r *Result) Fail(err error) {
	r.Status = StatusError
	r.ErrorKind = KindOf(err)
	r.Error = err.Error()
}

// Skip marks the result as skipped for kind.
func (r *Result) Skip(kind ErrorKind) {
	r.Status = StatusSkipped
	r.ErrorKind = kind
}
