package ntfs

import "strings"

// Resolve walks a backslash-separated path from the root directory
// (record #5) and returns the record of the final component, or (nil, nil)
// when any component is missing. A reparse point met along the way is
// resolved through its substitute path and the walk restarts there; a
// reparse point as the final record is followed once.
func (v *Volume) Resolve(path string) (*FileRecord, error) {
	components := strings.Split(path, `\`)
	v.log.Printf("traversing path: %s", path)

	fileref := uint64(RecordRoot)
	var current string
	for _, current = range components {
		v.log.Printf("searching for: %s", current)

		rec, err := v.FileRecord(fileref)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}

		if rec.HasReparsePoint() {
			target, _ := rec.ReparseTarget()
			v.log.Printf("reparse point %q -> %q", rec.DisplayName(), target)

			resolved, err := v.Resolve(target + `\` + current)
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				v.log.Printf("reparse target not found, abort")
				return nil, nil
			}
			fileref = resolved.RecordNumber
			continue
		}

		if roots := rec.GetAttributes("$INDEX_ROOT"); len(roots) > 0 {
			if root, ok := roots[0].Body.(*IndexRoot); ok {
				for _, entry := range root.Entries {
					if entry.Name == current {
						fileref = entry.Ref.RecordNumber()
						v.log.Printf("selected entry #%d", fileref)
						break
					}
				}
			}
		} else {
			v.log.Printf("no index root, no reparse, nothing to do")
			break
		}
	}

	rec, err := v.FileRecord(fileref)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	for _, fn := range rec.FileNames() {
		if fn.Name == current {
			if rec.HasReparsePoint() {
				target, _ := rec.ReparseTarget()
				return v.Resolve(target)
			}
			v.log.Printf("file found")
			return rec, nil
		}
	}

	v.log.Printf("file not found")
	return nil, nil
}

// DirEntry is one node of a directory listing tree. Children is nil when
// the entry was not descended into.
type DirEntry struct {
	Name     string
	Children []DirEntry
}

// Children returns the immediate child entries of a directory record.
// DOS-namespace entries are deduplicated against other namespaces by
// record number. nil when the record has no index.
func (v *Volume) Children(rec *FileRecord) []IndexEntry {
	roots := rec.GetAttributes("$INDEX_ROOT")
	if len(roots) == 0 {
		return nil
	}

	var out []IndexEntry
	for _, attr := range roots {
		root, ok := attr.Body.(*IndexRoot)
		if !ok {
			continue
		}

		// Almost every file carries both DOS and WIN32 names; a DOS entry
		// is dropped when another namespace names the same record.
		named := make(map[uint64]bool)
		for _, entry := range root.Entries {
			if entry.Namespace != NamespaceDOS {
				named[entry.Ref.RecordNumber()] = true
			}
		}

		seen := make(map[uint64]bool)
		for _, entry := range root.Entries {
			n := entry.Ref.RecordNumber()
			if entry.Namespace == NamespaceDOS && named[n] {
				continue
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, entry)
		}
	}
	return out
}

// ListDir returns the children of a directory record, recursing depth
// levels; a negative depth recurses without bound. nil when the record has
// no index.
func (v *Volume) ListDir(rec *FileRecord, depth int) []DirEntry {
	if depth == 0 {
		return nil
	}

	var out []DirEntry
	for _, entry := range v.Children(rec) {
		n := entry.Ref.RecordNumber()
		if n == RecordRoot {
			out = append(out, DirEntry{Name: entry.Name})
			continue
		}

		child, err := v.FileRecord(n)
		if err != nil || child == nil {
			v.log.Printf("listing: child record #%d not loadable", n)
			continue
		}
		out = append(out, DirEntry{Name: entry.Name, Children: v.ListDir(child, depth-1)})
	}
	return out
}
