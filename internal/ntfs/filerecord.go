package ntfs

// FileReference is a packed 64-bit reference to an MFT record: the record
// number in the low 48 bits, the reuse sequence number in the high 16.
type FileReference uint64

func (f FileReference) RecordNumber() uint64 {
	return uint64(f) & 0x0000FFFFFFFFFFFF
}

func (f FileReference) SequenceNumber() uint16 {
	return uint16(uint64(f) >> 48)
}

// FILE record header flags.
const (
	recordFlagInUse     = 0x0001
	recordFlagDirectory = 0x0002
)

// Filename namespaces, in on-disk encoding.
const (
	NamespacePOSIX       = 0x00
	NamespaceWin32       = 0x01
	NamespaceDOS         = 0x02
	NamespaceWin32AndDOS = 0x03
)

// displayOrder is the namespace preference when a record carries several
// $FILE_NAME attributes for the same file.
var displayOrder = []uint8{NamespacePOSIX, NamespaceWin32, NamespaceWin32AndDOS, NamespaceDOS}

// FileRecord is one parsed MFT record. It is immutable once parsed;
// attribute-list merging happens before the record is handed out.
type FileRecord struct {
	RecordNumber    uint64
	Flags           uint16
	RealSize        uint32
	AllocatedSize   uint32
	BaseRecord      FileReference
	NextAttributeID uint16

	// Attributes in order of arrival, including those merged from
	// attribute-list child records, plus a name-keyed view of the same
	// slice. Multiple attributes per name are normal ($FILE_NAME per
	// namespace, $DATA per stream, split non-resident parts).
	Attributes []*Attribute

	byName map[string][]*Attribute
}

func (r *FileRecord) addAttribute(attr *Attribute) {
	if r.byName == nil {
		r.byName = make(map[string][]*Attribute)
	}
	r.byName[attr.TypeName] = append(r.byName[attr.TypeName], attr)
	r.Attributes = append(r.Attributes, attr)
}

// GetAttributes returns all attributes labeled name (e.g. "$FILE_NAME") in
// arrival order, or nil.
func (r *FileRecord) GetAttributes(name string) []*Attribute {
	return r.byName[name]
}

func (r *FileRecord) InUse() bool {
	return r.Flags&recordFlagInUse != 0
}

func (r *FileRecord) IsDirectory() bool {
	return r.Flags&recordFlagDirectory != 0
}

// FileNames returns every $FILE_NAME of the record as (name, namespace)
// pairs in arrival order.
func (r *FileRecord) FileNames() []FileName {
	var names []FileName
	for _, attr := range r.GetAttributes("$FILE_NAME") {
		if fn, ok := attr.Body.(FileName); ok {
			names = append(names, fn)
		}
	}
	return names
}

// DisplayName picks the preferred filename: POSIX, then WIN32, then
// WIN32-and-DOS, then DOS. Empty when the record has no $FILE_NAME.
func (r *FileRecord) DisplayName() string {
	names := r.FileNames()
	for _, ns := range displayOrder {
		for _, fn := range names {
			if fn.Namespace == ns {
				return fn.Name
			}
		}
	}
	return ""
}

// Streams groups the record's $DATA attributes by stream name. The unnamed
// default stream is keyed by ""; named entries are Alternate Data Streams.
// A record without $DATA yields an empty map.
func (r *FileRecord) Streams() map[string][]*Attribute {
	datas := r.GetAttributes("$DATA")
	if datas == nil {
		return map[string][]*Attribute{}
	}

	streams := make(map[string][]*Attribute)
	var unnamed []*Attribute
	for _, d := range datas {
		if d.Name != "" {
			streams[d.Name] = append(streams[d.Name], d)
		} else {
			unnamed = append(unnamed, d)
		}
	}
	streams[""] = unnamed
	return streams
}

// StreamNames lists the record's stream names, default stream ("") first,
// named streams in arrival order.
func (r *FileRecord) StreamNames() []string {
	names := []string{}
	if _, ok := r.Streams()[""]; !ok {
		return names
	}
	names = append(names, "")
	seen := map[string]bool{}
	for _, d := range r.GetAttributes("$DATA") {
		if d.Name != "" && !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	return names
}

// HasReparsePoint reports whether the record carries a $REPARSE_POINT.
func (r *FileRecord) HasReparsePoint() bool {
	return len(r.GetAttributes("$REPARSE_POINT")) > 0
}

// ReparseTarget resolves the record's reparse substitute path to a
// volume-relative one by stripping the `\??\` prefix and the drive letter
// (7 characters in total).
func (r *FileRecord) ReparseTarget() (string, bool) {
	attrs := r.GetAttributes("$REPARSE_POINT")
	if len(attrs) == 0 {
		return "", false
	}
	rp, ok := attrs[0].Body.(ReparsePoint)
	if !ok {
		return "", false
	}
	target := rp.SubstitutePath
	if len(target) > 7 {
		target = target[7:]
	}
	return target, true
}
