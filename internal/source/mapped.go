package source

import (
	"fmt"
	"io"

	"golang.org/x/exp/mmap"
)

// Mapped is a Source backed by a read-only memory mapping. The mapping is
// never written to; fixup patching always happens on private copies.
type Mapped struct {
	r *mmap.ReaderAt
}

// OpenMapped memory-maps the image at path.
func OpenMapped(path string) (*Mapped, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map image: %w", err)
	}
	return &Mapped{r: r}, nil
}

func (m *Mapped) ReadAt(p []byte, off int64) (int, error) {
	// mmap rejects offsets past the mapping instead of reporting EOF.
	if off >= int64(m.r.Len()) {
		return 0, io.EOF
	}
	return m.r.ReadAt(p, off)
}

func (m *Mapped) Size() int64 {
	return int64(m.r.Len())
}

func (m *Mapped) Close() error {
	return m.r.Close()
}
