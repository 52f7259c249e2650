package ntfs

import (
	"fmt"
	"log"

	"github.com/s0up4200/go-ntfs/internal/buffer"
)

// applyFixup undoes the multi-sector transfer protection of a FILE or INDX
// block in place. block must be a private copy; the underlying byte source
// is never mutated.
//
// The Update Sequence Array starts at usaOffset with the 2-byte update
// sequence number followed by one 2-byte fixup per sector. The last two
// bytes of each sector must equal the USN and are replaced with the
// corresponding fixup. A mismatch is logged and the sector is patched
// anyway; per-record corruption is not fatal.
func applyFixup(block []byte, bytesPerSector int, logger *log.Logger) error {
	r := buffer.NewReader(block)

	usaOffset, ok := r.Uint16(0x04)
	if !ok {
		return fmt.Errorf("%w: fixup header", ErrTruncated)
	}
	usaCount, ok := r.Uint16(0x06)
	if !ok {
		return fmt.Errorf("%w: fixup header", ErrTruncated)
	}
	if usaCount < 2 {
		return nil
	}

	usn, ok := r.Uint16(int(usaOffset))
	if !ok {
		return fmt.Errorf("%w: update sequence number", ErrTruncated)
	}

	for i := 0; i < int(usaCount)-1; i++ {
		end := (i + 1) * bytesPerSector
		if end > len(block) {
			break
		}

		seq, _ := r.Uint16(end - 2)
		if seq != usn {
			logger.Printf("update sequence check failed at sector %d (%#04x != %#04x), image may be corrupt, continue anyway", i, seq, usn)
		}

		fixup, ok := r.Bytes(int(usaOffset)+2+i*2, 2)
		if !ok {
			return fmt.Errorf("%w: fixup slot %d", ErrTruncated, i)
		}
		copy(block[end-2:end], fixup)
	}

	return nil
}
