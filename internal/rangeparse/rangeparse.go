// Package rangeparse implements HTTP byte-range header parsing for the
// single-range subset used by the streaming endpoints: "bytes=N-M",
// "bytes=N-" and "bytes=-N".
package rangeparse

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrNoPrefix means the header didn't start with "bytes=".
	ErrNoPrefix = errors.New("rangeparse: header does not start with \"bytes=\"")
	// ErrMultiRange means the header requested more than one range, which
	// this service does not support.
	ErrMultiRange = errors.New("rangeparse: multiple ranges are not supported")
	// ErrMalformed means the header value could not be parsed.
	ErrMalformed = errors.New("rangeparse: malformed range value")
	// ErrUnsatisfiable means the requested range falls outside the
	// resource, after resolving it against the resource size.
	ErrUnsatisfiable = errors.New("rangeparse: range not satisfiable")
)

// Range is a resolved, absolute byte range: [Start, End], both inclusive.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Parse parses a Range header value and resolves it against size, the
// total size in bytes of the resource being served. It accepts exactly
// one of the three single-range forms:
//
//	bytes=N-M   absolute range, M clamped to size-1
//	bytes=N-    from N to the end
//	bytes=-N    the last N bytes
//
// A multi-range header (containing a comma) returns ErrMultiRange so
// callers can fall back to serving the whole body. A range that cannot
// be satisfied against size returns ErrUnsatisfiable; callers should
// respond 416 with a Content-Range: bytes */size header in that case.
func Parse(header string, size int64) (Range, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Range{}, ErrNoPrefix
	}
	spec := header[len(prefix):]
	if strings.ContainsRune(spec, ',') {
		return Range{}, ErrMultiRange
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, ErrMalformed
	}
	startStr, endStr := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])

	var r Range
	switch {
	case startStr == "" && endStr == "":
		return Range{}, ErrMalformed
	case startStr == "":
		// bytes=-N : last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, ErrMalformed
		}
		if n > size {
			n = size
		}
		r = Range{Start: size - n, End: size - 1}
	case endStr == "":
		// bytes=N-
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return Range{}, ErrMalformed
		}
		r = Range{Start: start, End: size - 1}
	default:
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return Range{}, ErrMalformed
		}
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return Range{}, ErrMalformed
		}
		if end > size-1 {
			end = size - 1
		}
		r = Range{Start: start, End: end}
	}

	if size <= 0 || r.Start < 0 || r.Start >= size || r.Start > r.End {
		return Range{}, ErrUnsatisfiable
	}
	return r, nil
}

// ContentRange formats the Content-Range response header value for a
// satisfied range against the given total size.
func ContentRange(r Range, size int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10) + "/" + strconv.FormatInt(size, 10)
}

// UnsatisfiableContentRange formats the Content-Range header value for
// a 416 response.
func UnsatisfiableContentRange(size int64) string {
	return "bytes */" + strconv.FormatInt(size, 10)
}
