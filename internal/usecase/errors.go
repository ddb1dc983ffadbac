package usecase

import (
	"errors"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

var (
	// ErrNoVideos is returned when a list run names no videos.
	ErrNoVideos = errors.New("no videos given")

	// ErrTooManyVideos is returned when a list run exceeds the configured maximum.
	ErrTooManyVideos = errors.New("too many videos in one run")

	// ErrInvalidVideoRef is returned when a URL or key cannot be mapped to an object key.
	ErrInvalidVideoRef = errors.New("invalid video reference")
)

// storageErr attaches an error kind to storage failures. Errors that already
// carry a kind, and transient failures, are returned unchanged.
func storageErr(err error) error {
	var kinded *model.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &kinded):
		return err
	case errors.Is(err, repository.ErrObjectNotFound):
		return model.NewError(model.KindStorageNotFound, err)
	case errors.Is(err, repository.ErrAccessDenied):
		return model.NewError(model.KindStorageDenied, err)
	}
	return err
}
