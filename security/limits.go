package security

import (
	"errors"
	"time"
)

// ErrLimitExceeded is returned when input crosses one of the configured limits.
var ErrLimitExceeded = errors.New("security limit exceeded")

// Limits defines security boundaries for parsing PDFs.
// These limits help prevent resource exhaustion (zip bombs, deep nesting).
type Limits struct {
	// Maximum decompressed stream size. Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum array/dictionary nesting depth. Default: 100.
	MaxNestingDepth int

	// Maximum number of xref sections followed through /Prev. Default: 50.
	MaxXRefDepth int

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 512 MB.
	MaxStreamLength int64

	// Maximum total load time. Default: 5m.
	MaxParseTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024, // 100 MB
		MaxNestingDepth:     100,
		MaxXRefDepth:        50,
		MaxStringLength:     10 * 1024 * 1024,  // 10 MB
		MaxStreamLength:     512 * 1024 * 1024, // 512 MB
		MaxParseTime:        5 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDecompressedSize == 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxNestingDepth == 0 {
		l.MaxNestingDepth = d.MaxNestingDepth
	}
	if l.MaxXRefDepth == 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxStringLength == 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength == 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	if l.MaxParseTime == 0 {
		l.MaxParseTime = d.MaxParseTime
	}
	return l
}
