package utils

import (
	"fmt"
	"io"
)

// SequentialWriterAt adapts an io.Writer to io.WriterAt for downloaders that
// write their parts in order, e.g. the s3 download manager with a concurrency of one
type SequentialWriterAt struct {
	w      io.Writer
	offset int64
}

// NewSequentialWriterAt returns new SequentialWriterAt
func NewSequentialWriterAt(w io.Writer) *SequentialWriterAt {
	return &SequentialWriterAt{w: w}
}

// WriteAt writes p to the underlying writer, failing if p does not continue the previous write
func (s *SequentialWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off != s.offset {
		return 0, fmt.Errorf("out of order write at offset %d, expected %d", off, s.offset)
	}
	n, err := s.w.Write(p)
	s.offset += int64(n)
	return n, err
}
