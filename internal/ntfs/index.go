package ntfs

import (
	"fmt"

	"github.com/s0up4200/go-ntfs/internal/buffer"
)

// Index entry flag bits, shared by $I30 and $R entries.
const (
	indexFlagSubnode = 0x01
	indexFlagLast    = 0x02
)

// IndexEntry is one entry of a directory ($I30) or reparse ($R) index
// node. $I30 entries carry the filename fields; $R entries carry the
// reparse tag. Internal entries additionally reference a subnode VCN in
// $INDEX_ALLOCATION.
type IndexEntry struct {
	Ref          FileReference
	Length       uint16
	StreamLength uint16
	Flags        uint8

	// $I30 fields.
	RealSize  uint64
	Namespace uint8
	Name      string

	// $R fields.
	ReparseTag uint32

	SubnodeVCN uint64
	HasSubnode bool
}

// indexIterator walks the raw entries of one index node, returning the
// internal entries (subnode carriers) and the named entries separately.
type indexIterator func(r *buffer.Reader, off int) (nodes, entries []IndexEntry)

// indexIteratorFor picks the entry layout by index name. Only $I30 and $R
// are known.
func indexIteratorFor(name string) indexIterator {
	switch name {
	case "$I30":
		return iterateI30
	case "$R":
		return iterateR
	default:
		return nil
	}
}

// iterateI30 walks filename-index entries. The filename sits at the fixed
// offset 0x52; the on-disk offset field is unreliable and ignored.
func iterateI30(r *buffer.Reader, off int) (nodes, entries []IndexEntry) {
	for {
		ref, ok := r.Uint64(off + 0)
		if !ok {
			return
		}
		length, ok := r.Uint16(off + 8)
		if !ok || length == 0 {
			return
		}
		streamLength, _ := r.Uint16(off + 10)
		flags, _ := r.Byte(off + 12)

		entry := IndexEntry{
			Ref:          FileReference(ref),
			Length:       length,
			StreamLength: streamLength,
			Flags:        flags,
		}

		if flags&indexFlagSubnode != 0 {
			vcn, ok := r.Uint64(off + int(length) - 8)
			if !ok {
				return
			}
			entry.SubnodeVCN = vcn
			entry.HasSubnode = true
			nodes = append(nodes, entry)
		}
		if flags&indexFlagLast != 0 {
			return
		}

		realSize, _ := r.Uint64(off + 0x40)
		nameLen, _ := r.Byte(off + 0x50)
		namespace, _ := r.Byte(off + 0x51)
		name, ok := r.UTF16String(off+0x52, 2*int(nameLen))
		if !ok {
			return
		}
		entry.RealSize = realSize
		entry.Namespace = namespace
		entry.Name = name

		if entry.HasSubnode {
			// Already collected above; keep the filled-in copy too.
			nodes[len(nodes)-1] = entry
		}
		entries = append(entries, entry)
		off += int(length)
	}
}

// iterateR walks reparse-index entries: the key is a reparse tag plus the
// MFT reference of the reparse-carrying record.
func iterateR(r *buffer.Reader, off int) (nodes, entries []IndexEntry) {
	for {
		entrySize, ok := r.Uint16(off + 0x08)
		if !ok || entrySize == 0 {
			return
		}
		streamLength, _ := r.Uint16(off + 0x02)
		flags16, ok := r.Uint16(off + 0x0C)
		if !ok {
			return
		}
		tag, _ := r.Uint32(off + 0x10)
		ref, _ := r.Uint64(off + 0x14)

		entry := IndexEntry{
			Ref:          FileReference(ref),
			Length:       entrySize,
			StreamLength: streamLength,
			Flags:        uint8(flags16),
			ReparseTag:   tag,
		}

		if flags16&indexFlagSubnode != 0 {
			vcn, ok := r.Uint32(off + 0x20)
			if !ok {
				return
			}
			entry.SubnodeVCN = uint64(vcn)
			entry.HasSubnode = true
			nodes = append(nodes, entry)
		}
		if flags16&indexFlagLast != 0 {
			return
		}

		entries = append(entries, entry)
		off += int(entrySize)
	}
}

// parseIndexRoot decodes the embedded root node. Root entries always use
// the $I30 layout, even when the attribute names itself $R; only the
// $INDEX_ALLOCATION descent distinguishes the two.
func (v *Volume) parseIndexRoot(attr *Attribute) AttributeBody {
	r := buffer.NewReader(attr.Value)

	root := &IndexRoot{}
	root.BytesPerIndexRecord, _ = r.Uint32(8)
	root.ClustersPerIndexRecord, _ = r.Byte(12)

	// Index node header at +16: first entry offset, total size, flags.
	flags, _ := r.Byte(16 + 0x0C)
	root.Large = flags&0x01 != 0

	nodes, entries := iterateI30(r, 32)
	root.Entries = append(root.Entries, entries...)
	root.rootNodes = nodes

	v.log.Printf("$INDEX_ROOT %q: %d entries, %d sub-nodes, large=%v", attr.Name, len(entries), len(nodes), root.Large)
	return root
}

// postprocessIndexes descends from every $INDEX_ROOT with sub-nodes into
// the record's $INDEX_ALLOCATION, collecting entries from the INDX blocks.
// Runs after attribute-list merging so the allocation may live in a child
// record.
func (v *Volume) postprocessIndexes(rec *FileRecord) {
	for _, attr := range rec.GetAttributes("$INDEX_ROOT") {
		root, ok := attr.Body.(*IndexRoot)
		if !ok || len(root.rootNodes) == 0 {
			continue
		}

		allocs := rec.GetAttributes("$INDEX_ALLOCATION")
		if len(allocs) == 0 {
			v.log.Printf("record #%d: sub-nodes but no $INDEX_ALLOCATION", rec.RecordNumber)
			continue
		}
		alloc := allocs[0]

		iter := indexIteratorFor(alloc.Name)
		if iter == nil {
			v.log.Printf("record #%d: index %q not supported", rec.RecordNumber, alloc.Name)
			continue
		}

		for _, node := range root.rootNodes {
			if err := v.walkIndexBlock(root, alloc.Runs, node.SubnodeVCN, iter); err != nil {
				v.log.Printf("record #%d: index walk at VCN %#x: %v", rec.RecordNumber, node.SubnodeVCN, err)
			}
		}
	}
}

// walkIndexBlock fetches the one-cluster INDX block at vcn, applies fixup
// and iterates it, collecting this block's entries before recursing into
// its sub-nodes (pre-order).
func (v *Volume) walkIndexBlock(root *IndexRoot, runs Runlist, vcn uint64, iter indexIterator) error {
	block, err := v.readVCN(runs, vcn)
	if err != nil {
		return err
	}

	if len(block) < 4 || string(block[:4]) != "INDX" {
		v.log.Printf("bad INDX magic at VCN %#x, continuing anyway", vcn)
	}

	if err := applyFixup(block, int(v.geom.BytesPerSector), v.log); err != nil {
		return err
	}

	r := buffer.NewReader(block)
	firstEntry, ok := r.Uint32(0x18)
	if !ok {
		return fmt.Errorf("%w: INDX header", ErrTruncated)
	}

	// The first-entry offset is relative to the node header at 0x18.
	nodes, entries := iter(r, 0x18+int(firstEntry))
	root.Entries = append(root.Entries, entries...)

	for _, node := range nodes {
		if err := v.walkIndexBlock(root, runs, node.SubnodeVCN, iter); err != nil {
			return err
		}
	}
	return nil
}
