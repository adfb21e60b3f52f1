package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errBadRange         = errors.New("invalid range format")
	errRangeUnsatisfied = errors.New("range not satisfiable")
)

// byteRange is an inclusive span of a file.
type byteRange struct {
	first int64
	last  int64
}

func (r byteRange) length() int64 {
	return r.last - r.first + 1
}

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.first, r.last, size)
}

// parseByteRange reads a single-span Range header. Only the first span of a
// multi-span request is honoured. A nil range with nil error means the whole
// file.
func parseByteRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, errBadRange
	}
	if first, _, found := strings.Cut(spec, ","); found {
		spec = first
	}
	from, to, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return nil, errBadRange
	}

	var r byteRange
	if from == "" {
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return nil, errBadRange
		}
		r.first = max(size-n, 0)
		r.last = size - 1
	} else {
		n, err := strconv.ParseInt(from, 10, 64)
		if err != nil || n < 0 {
			return nil, errBadRange
		}
		r.first = n
		r.last = size - 1
		if to != "" {
			n, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				return nil, errBadRange
			}
			r.last = min(n, size-1)
		}
	}

	if r.first >= size || r.first > r.last {
		return nil, errRangeUnsatisfied
	}
	return &r, nil
}
