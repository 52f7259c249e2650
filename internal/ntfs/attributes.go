package ntfs

import (
	"fmt"

	"github.com/s0up4200/go-ntfs/internal/buffer"
)

// Attribute type codes as defined by $AttrDef on every volume.
const (
	AttrTypeStandardInformation = 0x10
	AttrTypeAttributeList       = 0x20
	AttrTypeFileName            = 0x30
	AttrTypeData                = 0x80
	AttrTypeIndexRoot           = 0x90
	AttrTypeIndexAllocation     = 0xA0
	AttrTypeReparsePoint        = 0xC0

	attrTypeEnd = 0xFFFFFFFF
)

// Reparse tag for mount points (junctions). Its substitute-path buffer is
// 4 bytes longer than the declared length on real volumes.
const reparseTagMountPoint = 0xA000000C

// Attribute is one attribute of a file record: the common header fields
// plus either the resident payload or the decoded runlist, and the typed
// body the payload parsed into.
type Attribute struct {
	Type        uint32
	TypeName    string // label from $AttrDef, e.g. "$FILE_NAME"
	Name        string // attribute (stream) name, empty when unnamed
	NonResident bool

	// Resident payload, a private copy of the content bytes.
	Value []byte

	// Non-resident extents.
	StartVCN uint64
	LastVCN  uint64
	Runs     Runlist

	// Declared size: attribute real size when non-resident, content length
	// when resident.
	RealSize uint64

	Body AttributeBody
}

// AttributeBody is the tagged variant an attribute's payload decodes into.
type AttributeBody interface {
	attributeBody()
}

// StandardInformation is parsed but carries nothing the parser consumes.
type StandardInformation struct{}

// FileName is the $FILE_NAME payload.
type FileName struct {
	ParentRef     FileReference
	AllocatedSize uint64
	RealSize      uint64
	Flags         uint32
	NameLength    uint8
	Namespace     uint8
	Name          string
}

// AttributeListEntry is one entry of an $ATTRIBUTE_LIST.
type AttributeListEntry struct {
	Type        uint32
	Length      uint16
	StartingVCN uint64
	BaseRecord  FileReference
	AttributeID uint16
	Name        string
}

// AttributeList records the overflow entries; the referenced records'
// attributes are merged into the owning file record after parsing.
type AttributeList struct {
	Entries []AttributeListEntry
}

// Data marks a $DATA attribute; its payload lives on the Attribute itself.
type Data struct{}

// IndexRoot is the embedded root node of a directory or reparse index.
// Entries accumulates the root's own entries plus everything collected from
// $INDEX_ALLOCATION subnodes during post-processing.
type IndexRoot struct {
	BytesPerIndexRecord    uint32
	ClustersPerIndexRecord uint8
	Large                  bool
	Entries                []IndexEntry

	rootNodes []IndexEntry
}

// IndexAllocation holds no state of its own; its runlist on the Attribute
// backs the index subnodes referenced from $INDEX_ROOT.
type IndexAllocation struct{}

// ReparsePoint is the $REPARSE_POINT payload. SubstitutePath keeps the raw
// `\??\`-prefixed form; resolution strips it.
type ReparsePoint struct {
	Tag            uint32
	DataLength     uint16
	SubstitutePath string
	PrintPath      string
}

// Unknown wraps an attribute type with no handler; kept raw, never fatal.
type Unknown struct {
	Raw []byte
}

func (StandardInformation) attributeBody() {}
func (FileName) attributeBody()            {}
func (*AttributeList) attributeBody()      {}
func (Data) attributeBody()                {}
func (*IndexRoot) attributeBody()          {}
func (IndexAllocation) attributeBody()     {}
func (ReparsePoint) attributeBody()        {}
func (Unknown) attributeBody()             {}

// parseAttributes walks the attribute stream of a fixed-up file record
// buffer starting at ao and appends each parsed attribute to rec.
func (v *Volume) parseAttributes(rec *FileRecord, r *buffer.Reader, ao int) error {
	for {
		typ, ok := r.Uint32(ao)
		if !ok {
			return fmt.Errorf("%w: attribute header", ErrTruncated)
		}
		if typ == attrTypeEnd {
			return nil
		}

		length, ok := r.Uint32(ao + 0x04)
		if !ok || length == 0 || ao+int(length) > r.Length() {
			v.log.Printf("record #%d: attribute %#x has bad length, stopping attribute walk", rec.RecordNumber, typ)
			return nil
		}

		attr, err := v.parseAttribute(r, ao, typ, int(length))
		if err != nil {
			v.log.Printf("record #%d: skipping attribute %#x: %v", rec.RecordNumber, typ, err)
			ao += int(length)
			continue
		}

		v.parseBody(rec, attr)
		rec.addAttribute(attr)
		ao += int(length)
	}
}

// parseAttribute decodes one attribute header in any of its four shapes
// (resident/non-resident x unnamed/named).
func (v *Volume) parseAttribute(r *buffer.Reader, ao int, typ uint32, length int) (*Attribute, error) {
	nonResident, ok := r.Byte(ao + 0x08)
	if !ok {
		return nil, fmt.Errorf("%w: residency flag", ErrTruncated)
	}
	nameLength, ok := r.Byte(ao + 0x09)
	if !ok {
		return nil, fmt.Errorf("%w: name length", ErrTruncated)
	}

	attr := &Attribute{
		Type:        typ,
		TypeName:    v.attrDef.name(typ),
		NonResident: nonResident != 0,
	}
	if _, err := v.attrDef.ByType(typ); err != nil {
		v.log.Printf("attribute type %#x not present in $AttrDef", typ)
	}

	if !attr.NonResident {
		contentLength, ok1 := r.Uint32(ao + 0x10)
		contentOffset, ok2 := r.Uint16(ao + 0x14)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: resident header", ErrTruncated)
		}
		if nameLength > 0 {
			name, ok := r.UTF16String(ao+0x18, 2*int(nameLength))
			if !ok {
				return nil, fmt.Errorf("%w: attribute name", ErrTruncated)
			}
			attr.Name = name
		}
		value, ok := r.Bytes(ao+int(contentOffset), int(contentLength))
		if !ok {
			return nil, fmt.Errorf("%w: resident content", ErrTruncated)
		}
		attr.Value = value
		attr.RealSize = uint64(contentLength)
		return attr, nil
	}

	startVCN, ok1 := r.Uint64(ao + 0x10)
	lastVCN, ok2 := r.Uint64(ao + 0x18)
	runOffset, ok3 := r.Uint16(ao + 0x20)
	realSize, ok4 := r.Uint64(ao + 0x30)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: non-resident header", ErrTruncated)
	}
	attr.StartVCN = startVCN
	attr.LastVCN = lastVCN
	attr.RealSize = realSize

	runBytes := length - 0x40
	if nameLength > 0 {
		name, ok := r.UTF16String(ao+0x40, 2*int(nameLength))
		if !ok {
			return nil, fmt.Errorf("%w: attribute name", ErrTruncated)
		}
		attr.Name = name
		runBytes = length - (0x40 + 2*int(nameLength))
	}
	if runBytes < 0 {
		runBytes = 0
	}
	raw, ok := r.Bytes(ao+int(runOffset), runBytes)
	if !ok {
		// The declared slack may overrun the record; take what is there.
		raw, _ = r.Bytes(ao+int(runOffset), r.Length()-(ao+int(runOffset)))
	}
	attr.Runs = DecodeRunlist(raw)
	return attr, nil
}

// parseBody dispatches the attribute payload to its type handler.
func (v *Volume) parseBody(rec *FileRecord, attr *Attribute) {
	switch attr.Type {
	case AttrTypeStandardInformation:
		attr.Body = StandardInformation{}
	case AttrTypeAttributeList:
		attr.Body = v.parseAttributeList(rec, attr)
	case AttrTypeFileName:
		attr.Body = v.parseFileName(attr)
	case AttrTypeData:
		attr.Body = Data{}
	case AttrTypeIndexRoot:
		attr.Body = v.parseIndexRoot(attr)
	case AttrTypeIndexAllocation:
		attr.Body = IndexAllocation{}
	case AttrTypeReparsePoint:
		attr.Body = v.parseReparsePoint(attr)
	default:
		v.log.Printf("attribute %s (%#x) not supported, keeping raw", attr.TypeName, attr.Type)
		attr.Body = Unknown{Raw: attr.Value}
	}
}

func (v *Volume) parseFileName(attr *Attribute) AttributeBody {
	r := buffer.NewReader(attr.Value)

	parentRef, _ := r.Uint64(0x00)
	allocated, _ := r.Uint64(0x28)
	realSize, _ := r.Uint64(0x30)
	flags, _ := r.Uint32(0x38)
	nameLen, _ := r.Byte(0x40)
	namespace, _ := r.Byte(0x41)
	name, ok := r.UTF16String(0x42, 2*int(nameLen))
	if !ok {
		v.log.Printf("$FILE_NAME name truncated")
	}

	return FileName{
		ParentRef:     FileReference(parentRef),
		AllocatedSize: allocated,
		RealSize:      realSize,
		Flags:         flags,
		NameLength:    nameLen,
		Namespace:     namespace,
		Name:          name,
	}
}

func (v *Volume) parseReparsePoint(attr *Attribute) AttributeBody {
	r := buffer.NewReader(attr.Value)

	tag, _ := r.Uint32(0x00)
	dataLength, _ := r.Uint16(0x04)

	// Path sub-header follows at 0x08, the path buffer itself at 0x10.
	subOff, _ := r.Uint16(0x08)
	subLen, _ := r.Uint16(0x0A)
	printOff, _ := r.Uint16(0x0C)
	printLen, _ := r.Uint16(0x0E)

	subBytes := int(subLen)
	if tag == reparseTagMountPoint {
		// Mount-point substitute buffers run 4 bytes past the declared
		// length. Undocumented.
		subBytes += 4
	}

	substitute, ok := r.UTF16String(0x10+int(subOff), subBytes)
	if !ok {
		v.log.Printf("$REPARSE_POINT substitute path truncated")
	}
	printPath, ok := r.UTF16String(0x10+int(printOff), int(printLen))
	if !ok {
		v.log.Printf("$REPARSE_POINT print path truncated")
	}

	v.log.Printf("reparse tag %#08x, substitute %q, print %q", tag, substitute, printPath)

	return ReparsePoint{
		Tag:            tag,
		DataLength:     dataLength,
		SubstitutePath: substitute,
		PrintPath:      printPath,
	}
}

// parseAttributeList decodes the overflow entries. A non-resident list is
// first materialized from its own runlist. The referenced child records are
// merged later, once the base record's own attributes are all present.
func (v *Volume) parseAttributeList(rec *FileRecord, attr *Attribute) AttributeBody {
	list := &AttributeList{}

	data := attr.Value
	if attr.NonResident {
		fetched, err := v.fetchVCNRange(attr.Runs, attr.StartVCN, attr.LastVCN)
		if err != nil {
			v.log.Printf("record #%d: cannot fetch non-resident $ATTRIBUTE_LIST: %v", rec.RecordNumber, err)
			return list
		}
		data = fetched
	}

	r := buffer.NewReader(data)
	remaining := int(attr.RealSize)
	ao := 0
	for remaining > 0 {
		typ, ok := r.Uint32(ao + 0x00)
		if !ok || typ == 0 {
			break
		}

		entryLen, ok := r.Uint16(ao + 0x04)
		if !ok || entryLen == 0 {
			break
		}
		nameLen, _ := r.Byte(ao + 0x06)
		nameOff, _ := r.Byte(ao + 0x07)
		startVCN, _ := r.Uint64(ao + 0x08)
		baseRef, _ := r.Uint64(ao + 0x10)
		attrID, _ := r.Uint16(ao + 0x18)

		entry := AttributeListEntry{
			Type:        typ,
			Length:      entryLen,
			StartingVCN: startVCN,
			BaseRecord:  FileReference(baseRef),
			AttributeID: attrID,
		}
		if nameLen != 0 {
			entry.Name, _ = r.UTF16String(ao+int(nameOff), 2*int(nameLen))
		}
		list.Entries = append(list.Entries, entry)

		ao += int(entryLen)
		remaining -= int(entryLen)
	}

	return list
}

// mergeAttributeLists loads every distinct record referenced from the
// record's attribute lists and appends those records' attributes here.
// Record numbers are deduplicated in order of first appearance.
func (v *Volume) mergeAttributeLists(rec *FileRecord) {
	var order []uint64
	seen := make(map[uint64]bool)

	for _, attr := range rec.Attributes {
		list, ok := attr.Body.(*AttributeList)
		if !ok {
			continue
		}
		for _, entry := range list.Entries {
			n := entry.BaseRecord.RecordNumber()
			if n == rec.RecordNumber || seen[n] {
				continue
			}
			seen[n] = true
			order = append(order, n)
		}
	}

	for _, n := range order {
		child, err := v.FileRecord(n)
		if err != nil {
			v.log.Printf("record #%d: loading attribute-list record #%d: %v", rec.RecordNumber, n, err)
			continue
		}
		if child == nil {
			v.log.Printf("record #%d: attribute-list record #%d not found", rec.RecordNumber, n)
			continue
		}
		for _, attr := range child.Attributes {
			rec.addAttribute(attr)
		}
	}
}
