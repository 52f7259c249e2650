// Package ntfs decodes the logical contents of an NTFS volume image: the
// boot geometry, the Master File Table, file records with their resident
// and non-resident attributes, directory and reparse indexes, and file
// stream content. The volume is treated as immutable; all parsing happens
// on private copies of on-disk blocks.
package ntfs

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/s0up4200/go-ntfs/internal/buffer"
	"github.com/s0up4200/go-ntfs/internal/source"
)

// Well-known MFT record numbers.
const (
	RecordMFT     = 0
	RecordAttrDef = 4
	RecordRoot    = 5
)

// defaultChunkBudget bounds how much of a stream is materialized per read
// chunk.
const defaultChunkBudget = 100 * 1024 * 1024

// Options configures a Volume. The zero value discards diagnostics and
// uses the default chunk budget.
type Options struct {
	// Logger receives parse diagnostics. nil discards them.
	Logger *log.Logger

	// ChunkBudget caps the bytes read per stream chunk. 0 means 100 MiB.
	ChunkBudget int64
}

// Volume is a parsed NTFS volume. It caches only the boot geometry, the
// MFT's own runlist and the $AttrDef table; file records are re-read on
// every lookup.
type Volume struct {
	src  source.Source
	log  *log.Logger
	geom Geometry

	mftRuns Runlist
	attrDef *AttrDef

	chunkBudget int64
}

// New parses the boot sector, locates the MFT's data runs and builds the
// $AttrDef registry. Failures at this stage are structural and fatal.
func New(src source.Source, opts Options) (*Volume, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	geom, err := ParseBoot(src)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		src:         src,
		log:         logger,
		geom:        geom,
		chunkBudget: opts.ChunkBudget,
	}
	if v.chunkBudget <= 0 {
		v.chunkBudget = defaultChunkBudget
	}

	if size := src.Size(); size != 0 && geom.MFTOffset() > size {
		return nil, fmt.Errorf("%w: MFT offset %#x beyond image", ErrMFTInit, geom.MFTOffset())
	}

	logger.Printf("geometry: %d bytes/sector, %d sectors/cluster, MFT at LCN %#x, record size %d",
		geom.BytesPerSector, geom.SectorsPerCluster, geom.MFTCluster, geom.RecordSize)

	if err := v.bootstrapMFT(); err != nil {
		return nil, err
	}
	if err := v.buildAttrDef(); err != nil {
		return nil, err
	}

	return v, nil
}

// Geometry returns the volume geometry.
func (v *Volume) Geometry() Geometry {
	return v.geom
}

// AttrDef returns the attribute definition table.
func (v *Volume) AttrDef() *AttrDef {
	return v.attrDef
}

// loadRawRecord reads one file record's bytes into a private buffer and
// applies fixup. The record is not parsed.
func (v *Volume) loadRawRecord(offset int64) ([]byte, error) {
	buf, err := source.ReadRange(v.src, offset, v.geom.RecordSize)
	if err != nil {
		return nil, fmt.Errorf("reading file record at %#x: %w", offset, err)
	}
	if int64(len(buf)) < v.geom.RecordSize {
		return nil, fmt.Errorf("%w: file record at %#x", ErrTruncated, offset)
	}
	if string(buf[:4]) != "FILE" {
		return nil, nil
	}
	if err := applyFixup(buf, int(v.geom.BytesPerSector), v.log); err != nil {
		return nil, err
	}
	return buf, nil
}

// scanUnnamedDataRuns scans a raw record's attributes for the non-resident
// unnamed $DATA and decodes its runlist. Used during bootstrap, before the
// full record parser and $AttrDef are available.
func (v *Volume) scanUnnamedDataRuns(rec []byte) Runlist {
	r := buffer.NewReader(rec)

	off16, ok := r.Uint16(0x14)
	if !ok {
		return nil
	}

	ao := int(off16)
	for {
		typ, ok := r.Uint32(ao)
		if !ok || typ == attrTypeEnd {
			return nil
		}
		length, ok := r.Uint32(ao + 0x04)
		if !ok || length == 0 {
			return nil
		}
		nonResident, _ := r.Byte(ao + 0x08)
		nameLength, _ := r.Byte(ao + 0x09)

		if nonResident != 0 && nameLength == 0 && typ == AttrTypeData {
			runOffset, ok := r.Uint16(ao + 0x20)
			if !ok {
				return nil
			}
			raw, ok := r.Bytes(ao+int(runOffset), int(length)-0x40)
			if !ok {
				return nil
			}
			return DecodeRunlist(raw)
		}

		ao += int(length)
	}
}

// bootstrapMFT reads file record 0 at the boot-declared LCN and decodes
// the MFT's own runlist from its unnamed $DATA. Everything else resolves
// through that runlist.
func (v *Volume) bootstrapMFT() error {
	rec, err := v.loadRawRecord(v.geom.MFTOffset())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFTInit, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: record 0 has no FILE magic", ErrMFTInit)
	}

	runs := v.scanUnnamedDataRuns(rec)
	if len(runs) == 0 {
		return fmt.Errorf("%w: $MFT $DATA not found", ErrMFTInit)
	}

	for _, e := range runs {
		v.log.Printf("$MFT run: %#x clusters @ LCN %#x", e.Clusters, e.LCN)
	}
	v.mftRuns = runs
	return nil
}

// recordOffset translates a record number to its byte offset through the
// MFT runlist. ok is false when n is past the end of the table.
func (v *Volume) recordOffset(n uint64) (int64, bool) {
	clusterBytes := v.geom.ClusterBytes()
	remaining := n
	for _, e := range v.mftRuns {
		perExtent := uint64(int64(e.Clusters) * clusterBytes / v.geom.RecordSize)
		if remaining < perExtent {
			return e.LCN*clusterBytes + int64(remaining)*v.geom.RecordSize, true
		}
		remaining -= perExtent
	}
	return 0, false
}

// buildAttrDef walks $AttrDef (record #4): 0xA0-byte entries of UTF-16
// label, type and flags, ending at type 0.
func (v *Volume) buildAttrDef() error {
	offset, ok := v.recordOffset(RecordAttrDef)
	if !ok {
		return fmt.Errorf("%w: cannot find $AttrDef", ErrMFTInit)
	}

	rec, err := v.loadRawRecord(offset)
	if err != nil || rec == nil {
		return fmt.Errorf("%w: cannot load $AttrDef record", ErrMFTInit)
	}

	runs := v.scanUnnamedDataRuns(rec)
	if len(runs) == 0 {
		return fmt.Errorf("%w: $AttrDef has no $DATA runs", ErrMFTInit)
	}

	def := newAttrDef()
	clusterBytes := v.geom.ClusterBytes()

scan:
	for _, e := range runs {
		data, err := source.ReadRange(v.src, e.LCN*clusterBytes, int64(e.Clusters)*clusterBytes)
		if err != nil {
			return fmt.Errorf("reading $AttrDef data: %w", err)
		}

		r := buffer.NewReader(data)
		for off := 0; off+0xA0 <= len(data); off += 0xA0 {
			typ, _ := r.Uint32(off + 0x80)
			if typ == 0 {
				break scan
			}
			label, _ := r.UTF16String(off, 0x80)
			flags, _ := r.Uint32(off + 0x8C)
			def.add(label, typ, flags)
		}
	}

	for _, e := range def.Entries() {
		v.log.Printf("$AttrDef: %-30s type %#04x flags %#x", e.Name, e.Type, e.Flags)
	}

	v.attrDef = def
	return nil
}

// FileRecord loads and parses record n. A number past the end of the MFT
// or a slot without FILE magic returns (nil, nil); only I/O and structural
// failures return an error.
func (v *Volume) FileRecord(n uint64) (*FileRecord, error) {
	offset, ok := v.recordOffset(n)
	if !ok {
		return nil, nil
	}

	buf, err := v.loadRawRecord(offset)
	if err != nil {
		if !errors.Is(err, ErrTruncated) {
			return nil, err
		}
		v.log.Printf("record #%d: %v", n, err)
		return nil, nil
	}
	if buf == nil {
		v.log.Printf("record #%d: magic does not match FILE", n)
		return nil, nil
	}

	r := buffer.NewReader(buf)

	firstAttr, ok1 := r.Uint16(0x14)
	flags, ok2 := r.Uint16(0x16)
	realSize, ok3 := r.Uint32(0x18)
	allocated, ok4 := r.Uint32(0x1C)
	baseRef, ok5 := r.Uint64(0x20)
	nextAttrID, ok6 := r.Uint16(0x28)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		v.log.Printf("record #%d: truncated header", n)
		return nil, nil
	}

	rec := &FileRecord{
		RecordNumber:    n,
		Flags:           flags,
		RealSize:        realSize,
		AllocatedSize:   allocated,
		BaseRecord:      FileReference(baseRef),
		NextAttributeID: nextAttrID,
	}

	if err := v.parseAttributes(rec, r, int(firstAttr)); err != nil {
		v.log.Printf("record #%d: %v", n, err)
		return nil, nil
	}

	v.mergeAttributeLists(rec)
	v.postprocessIndexes(rec)

	return rec, nil
}

// readVCN resolves vcn through runs and reads exactly one cluster.
func (v *Volume) readVCN(runs Runlist, vcn uint64) ([]byte, error) {
	ext, rel, ok := runs.Locate(vcn)
	if !ok {
		return nil, fmt.Errorf("VCN %#x not covered by runlist", vcn)
	}

	clusterBytes := v.geom.ClusterBytes()
	offset := (ext.LCN + int64(rel)) * clusterBytes
	data, err := source.ReadRange(v.src, offset, clusterBytes)
	if err != nil {
		return nil, fmt.Errorf("reading cluster at %#x: %w", offset, err)
	}
	return data, nil
}

// fetchVCNRange concatenates the clusters covering [startVCN, lastVCN].
func (v *Volume) fetchVCNRange(runs Runlist, startVCN, lastVCN uint64) ([]byte, error) {
	var out []byte
	for vcn := startVCN; vcn <= lastVCN; vcn++ {
		data, err := v.readVCN(runs, vcn)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReparseInfo is one row of the volume's reparse index.
type ReparseInfo struct {
	RecordNumber uint64
	Name         string
	Target       string
}

// ReparsePoints walks the $R index of \$Extend\$Reparse and resolves each
// referenced record. Returns nil when the volume has no $Reparse file.
func (v *Volume) ReparsePoints() ([]ReparseInfo, error) {
	rec, err := v.Resolve(`$Extend\$Reparse`)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		v.log.Printf("no $Reparse file on this volume")
		return nil, nil
	}

	var out []ReparseInfo
	for _, attr := range rec.GetAttributes("$INDEX_ROOT") {
		if attr.Name != "$R" {
			continue
		}
		root, ok := attr.Body.(*IndexRoot)
		if !ok {
			continue
		}
		for _, entry := range root.Entries {
			n := entry.Ref.RecordNumber()
			target, err := v.FileRecord(n)
			if err != nil {
				return nil, err
			}
			if target == nil {
				v.log.Printf("record #%d referenced in $Reparse not found", n)
				continue
			}
			info := ReparseInfo{RecordNumber: n, Name: target.DisplayName()}
			info.Target, _ = target.ReparseTarget()
			out = append(out, info)
		}
	}
	return out, nil
}
