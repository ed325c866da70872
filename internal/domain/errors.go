package domain

import "errors"

// Error taxonomy. Lower layers wrap one of these together with the underlying
// cause, e.g. fmt.Errorf("%w: reading %s: %w", ErrFilesystem, dir, err), so
// callers can branch with errors.Is on either.
var (
	// ErrFilesystem reports a missing or unreadable corpus directory.
	ErrFilesystem = errors.New("filesystem error")
	// ErrIndexBuild reports that loading documents or building the index failed.
	ErrIndexBuild = errors.New("index build failed")
	// ErrModelCall reports a failed or rejected language model call.
	ErrModelCall = errors.New("model call failed")
	// ErrConfiguration reports a missing or invalid startup setting.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout is wrapped alongside ErrIndexBuild or ErrModelCall when a
	// configured deadline expires.
	ErrTimeout = errors.New("timed out")
)
