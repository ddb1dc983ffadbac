package repository

import "errors"

var (
	// ErrObjectNotFound is returned when an object is absent from the bucket.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrACLUnsupported is returned when the store does not expose object ACLs.
	ErrACLUnsupported = errors.New("object ACL not supported by store")

	// ErrAccessDenied is returned when the credentials may not read or change an ACL.
	ErrAccessDenied = errors.New("access denied")

	// ErrLockHeld is returned when another worker holds the per-key lock.
	ErrLockHeld = errors.New("lock held by another worker")

	// ErrRunNotFound is returned when no progress is stored for a run ID.
	ErrRunNotFound = errors.New("run not found")
)
