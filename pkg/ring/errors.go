//go:build linux

package ring

import "errors"

var (
	// ErrExists is returned by AddHost when the node id is already
	// registered.
	ErrExists = errors.New("host already exists")

	// ErrNotFound is returned by Host when no host carries the node id.
	ErrNotFound = errors.New("host not found")

	// ErrInvalid is returned for operations against an absent or
	// misconfigured target, such as removing an unknown host.
	ErrInvalid = errors.New("invalid argument")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("handle is closed")
)
