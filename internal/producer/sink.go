package producer

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Sink is the output a producer exclusively owns for its lifetime.
type Sink interface {
	io.Writer
	Flush() error
	Close() error
}

// FileSink is a buffered file sink. Flush pushes buffered bytes to the file
// so concurrent readers observe partial progress.
type FileSink struct {
	f *os.File
	w *bufio.Writer
}

// CreateFileSink creates (or truncates) the file at path.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink %s: %w", path, err)
	}
	return &FileSink{f: f, w: bufio.NewWriterSize(f, ChunkSize*8)}, nil
}

// Name returns the underlying file path.
func (s *FileSink) Name() string {
	return s.f.Name()
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *FileSink) Flush() error {
	return s.w.Flush()
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
