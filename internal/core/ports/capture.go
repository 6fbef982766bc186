package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// CaptureConstraints bounds the requested camera resolution. Audio is always
// requested alongside video.
type CaptureConstraints struct {
	Width  int
	Height int
}

// CaptureDevice acquires the local camera+microphone. Never invoked eagerly;
// only from a start-call action.
type CaptureDevice interface {
	// Acquire returns domain.ErrCaptureDenied (wrapped) when permission is
	// refused; callers must not retry automatically.
	Acquire(ctx context.Context, c CaptureConstraints) (domain.LocalStream, error)
}
