package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Values are stable and appear in
// audit records and job results.
type ErrorKind string

const (
	KindNotMP4          ErrorKind = "not_mp4"
	KindHLSPath         ErrorKind = "hls_path"
	KindLocked          ErrorKind = "locked"
	KindStorageNotFound ErrorKind = "storage_not_found"
	KindStorageDenied   ErrorKind = "storage_denied"
	KindACLUnsupported  ErrorKind = "acl_unsupported"
	KindProbeFailed     ErrorKind = "probe_failed"
	KindTranscodeFailed ErrorKind = "transcode_failed"
	KindHLSBroken       ErrorKind = "hls_broken"
	KindDBRewriteFailed ErrorKind = "db_rewrite_failed"
	KindDeleteOldFailed ErrorKind = "delete_old_failed"
	KindInternal        ErrorKind = "internal"
)

// Retryable reports whether a later pass may succeed where this one failed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNotMP4, KindHLSPath, KindLocked, KindStorageDenied, KindACLUnsupported, KindDeleteOldFailed:
		return false
	default:
		return true
	}
}

// Error carries an ErrorKind alongside the underlying cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind. A nil err is allowed.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a kinded error with a formatted cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the ErrorKind attached to err, or KindInternal when err
// carries none. KindOf(nil) returns "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HLS breakage reasons.
const (
	ReasonMissingMaster      = "missing_master"
	ReasonMissingVariant     = "missing_variant"
	ReasonMissingSegment     = "missing_segment"
	ReasonTooSmallSegment    = "too_small_segment"
	ReasonNoAudio            = "no_audio"
	ReasonAliasTargetMissing = "alias_target_missing"
)
