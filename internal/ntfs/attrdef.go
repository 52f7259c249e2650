package ntfs

import "fmt"

// AttrDefEntry is one row of the $AttrDef table.
type AttrDefEntry struct {
	Name  string
	Type  uint32
	Flags uint32
}

// AttrDef maps attribute type codes to their volume-defined names and
// flags, parsed from file record #4.
type AttrDef struct {
	entries []AttrDefEntry
	byType  map[uint32]AttrDefEntry
}

func newAttrDef() *AttrDef {
	return &AttrDef{byType: make(map[uint32]AttrDefEntry)}
}

func (d *AttrDef) add(name string, typ, flags uint32) {
	e := AttrDefEntry{Name: name, Type: typ, Flags: flags}
	d.entries = append(d.entries, e)
	d.byType[typ] = e
}

// ByType looks up the definition of an attribute type code.
func (d *AttrDef) ByType(typ uint32) (AttrDefEntry, error) {
	e, ok := d.byType[typ]
	if !ok {
		return AttrDefEntry{}, fmt.Errorf("%w: %#x", ErrUnknownAttrType, typ)
	}
	return e, nil
}

// Entries returns the table in on-disk order.
func (d *AttrDef) Entries() []AttrDefEntry {
	return d.entries
}

// name returns the defined name for typ, or a hex placeholder when the
// type is not in the table.
func (d *AttrDef) name(typ uint32) string {
	if e, ok := d.byType[typ]; ok {
		return e.Name
	}
	return fmt.Sprintf("$UNKNOWN_%#x", typ)
}
