package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fruitsalade/bitflow/internal/mediaerr"
)

// ByteRange is an inclusive, zero-indexed byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by r.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats r for the Content-Range header of a resource of
// the given size.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedRange formats the Content-Range header of a 416 response.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

func errRange(reason string) error {
	return mediaerr.New(mediaerr.RangeNotSatisfiable, "range not satisfiable: "+reason)
}

// ParseRange parses a single-range Range header value ("bytes=a-b",
// "bytes=a-" or "bytes=-n") against a resource of size bytes. Suffix
// lengths larger than the resource select the whole resource. Any other
// form, including multiple ranges, fails with mediaerr.RangeNotSatisfiable.
// A zero-byte resource has no satisfiable range.
func ParseRange(header string, size int64) (ByteRange, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return ByteRange{}, errRange("unsupported unit")
	}
	if strings.Contains(spec, ",") {
		return ByteRange{}, errRange("multiple ranges")
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return ByteRange{}, errRange("malformed range")
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)
	if size <= 0 {
		return ByteRange{}, errRange("empty resource")
	}

	if startStr == "" {
		n, err := parseOffset(endStr)
		if err != nil {
			return ByteRange{}, err
		}
		if n <= 0 {
			return ByteRange{}, errRange("empty suffix")
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return ByteRange{}, err
	}
	end := size - 1
	if endStr != "" {
		if end, err = parseOffset(endStr); err != nil {
			return ByteRange{}, err
		}
	}
	if start > end {
		return ByteRange{}, errRange("start after end")
	}
	if end >= size {
		return ByteRange{}, errRange("end beyond resource")
	}
	return ByteRange{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, errRange("missing offset")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errRange("non-numeric offset")
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errRange("offset out of range")
	}
	return n, nil
}
