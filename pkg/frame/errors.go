package frame

import "errors"

var (
	ErrShortFrame = errors.New("frame shorter than header")
	ErrBadMagic   = errors.New("bad frame magic")
	ErrBadVersion = errors.New("bad frame version")
)
