package ntfs

import (
	"fmt"
	"io"
	"sort"

	"github.com/s0up4200/go-ntfs/internal/source"
)

// OpenStream builds a reader over one of the record's $DATA streams; the
// empty name selects the default stream. ok is false when the record has
// no stream of that name.
//
// A stream may be split over several $DATA attributes (via an attribute
// list); the parts are ordered by starting VCN. Resident parts keep their
// arrival order. The reader is lazy, finite and non-restartable.
func (v *Volume) OpenStream(rec *FileRecord, name string) (*StreamReader, bool) {
	parts, ok := rec.Streams()[name]
	if !ok || len(parts) == 0 {
		v.log.Printf("record #%d: stream %q not found", rec.RecordNumber, name)
		return nil, false
	}

	sorted := make([]*Attribute, len(parts))
	copy(sorted, parts)
	allNonResident := true
	for _, p := range sorted {
		if !p.NonResident {
			allNonResident = false
			break
		}
	}
	if allNonResident {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].StartVCN < sorted[j].StartVCN
		})
		if sorted[0].StartVCN != 0 {
			v.log.Printf("record #%d: first data attribute does not have VCN 0", rec.RecordNumber)
		}
	}

	// Only the first part of a split stream declares the real size; the
	// remainder declare zero.
	declared := sorted[0].RealSize

	return &StreamReader{
		vol:      v,
		parts:    sorted,
		declared: declared,
		truncate: declared > 0,
	}, true
}

// StreamSize returns the declared size of the named stream.
func (v *Volume) StreamSize(rec *FileRecord, name string) (uint64, bool) {
	parts, ok := rec.Streams()[name]
	if !ok || len(parts) == 0 {
		return 0, false
	}

	first := parts[0]
	for _, p := range parts[1:] {
		if p.NonResident && (!first.NonResident || p.StartVCN < first.StartVCN) {
			first = p
		}
	}
	return first.RealSize, true
}

// StreamReader materializes a $DATA stream chunk by chunk. Non-resident
// parts read at most the chunk budget per pull; the final chunk is
// truncated to the declared stream size so cluster slack is never
// returned. A part declaring size zero while carrying runs yields its full
// cluster-rounded payload.
type StreamReader struct {
	vol   *Volume
	parts []*Attribute

	declared uint64 // overall bytes remaining, when truncating
	truncate bool

	partIdx int

	// Per-part extent cursor.
	partActive    bool
	partRemaining uint64
	partRounded   bool // size-zero quirk: read full extents
	extIdx        int
	extActive     bool
	extToRead     uint64
	extConsumed   uint64
	extOffset     int64

	cur []byte
	err error
}

func (s *StreamReader) Read(p []byte) (int, error) {
	for len(s.cur) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.cur, s.err = s.next()
	}
	n := copy(p, s.cur)
	s.cur = s.cur[n:]
	return n, nil
}

// WriteTo drains the stream into w, so extraction can use io.Copy without
// an intermediate buffer.
func (s *StreamReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// next produces the next raw chunk, applying the overall truncation.
func (s *StreamReader) next() ([]byte, error) {
	for {
		if s.truncate && s.declared == 0 {
			return nil, io.EOF
		}

		chunk, err := s.rawChunk()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}

		if s.truncate {
			if uint64(len(chunk)) > s.declared {
				chunk = chunk[:s.declared]
			}
			s.declared -= uint64(len(chunk))
		}
		return chunk, nil
	}
}

// rawChunk pulls the next chunk from the current part, advancing through
// parts and extents.
func (s *StreamReader) rawChunk() ([]byte, error) {
	for {
		if s.partIdx >= len(s.parts) {
			return nil, io.EOF
		}
		part := s.parts[s.partIdx]

		if !part.NonResident {
			s.partIdx++
			return part.Value, nil
		}

		if !s.partActive {
			s.partActive = true
			s.partRemaining = part.RealSize
			s.partRounded = part.RealSize == 0
			s.extIdx = 0
			s.extActive = false
		}

		if s.extIdx >= len(part.Runs) || (!s.partRounded && s.partRemaining == 0) {
			s.partIdx++
			s.partActive = false
			continue
		}

		if !s.extActive {
			ext := part.Runs[s.extIdx]
			clusterBytes := s.vol.geom.ClusterBytes()
			extentBytes := ext.Clusters * uint64(clusterBytes)

			s.extToRead = extentBytes
			if !s.partRounded && s.partRemaining < extentBytes {
				s.extToRead = s.partRemaining
			}
			s.extConsumed = 0
			s.extOffset = ext.LCN * clusterBytes
			s.extActive = true
		}

		want := s.extToRead - s.extConsumed
		if want == 0 {
			if !s.partRounded {
				s.partRemaining -= s.extToRead
			}
			s.extIdx++
			s.extActive = false
			continue
		}
		if want > uint64(s.vol.chunkBudget) {
			want = uint64(s.vol.chunkBudget)
		}

		chunk, err := source.ReadRange(s.vol.src, s.extOffset+int64(s.extConsumed), int64(want))
		if err != nil {
			return nil, fmt.Errorf("reading stream extent: %w", err)
		}
		if len(chunk) == 0 {
			// Extent points past the end of the image; give up on it.
			s.vol.log.Printf("stream extent at %#x is outside the image", s.extOffset)
			s.extConsumed = s.extToRead
			continue
		}
		s.extConsumed += uint64(len(chunk))
		return chunk, nil
	}
}
