package source

import (
	"fmt"
	"io"
	"os"
)

// File is a Source backed by an open file handle or raw device.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens path for positional reads. For block devices whose stat
// size is 0 the size is recovered by seeking to the end, then by a
// device-specific query; if neither works the size stays 0 and callers see
// short reads at the true end of the device.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	size := stat.Size()
	if size == 0 {
		if end, err := f.Seek(0, io.SeekEnd); err == nil && end > 0 {
			size = end
			f.Seek(0, io.SeekStart)
		} else if dev, ok := deviceSize(f); ok {
			size = dev
		}
	}

	return &File{f: f, size: size}, nil
}

func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *File) Size() int64 {
	return s.size
}

func (s *File) Close() error {
	return s.f.Close()
}
