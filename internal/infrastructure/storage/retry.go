package storage

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// newRetryExecutor retries transient object-store failures. Missing objects,
// denied requests and cancelled contexts are returned immediately.
func newRetryExecutor(maxRetries int) failsafe.Executor[any] {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(retryBaseDelay, retryMaxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		ReturnLastFailure().
		Build()
	return failsafe.With[any](policy)
}

func isTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repository.ErrObjectNotFound),
		errors.Is(err, repository.ErrAccessDenied),
		errors.Is(err, repository.ErrACLUnsupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
