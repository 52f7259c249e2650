// Package report renders parsed NTFS structures as text for the CLI.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/s0up4200/go-ntfs/internal/ntfs"
	"github.com/s0up4200/go-ntfs/internal/util"
)

// WriteRecord prints a file record's header, attribute inventory,
// filenames and streams.
func WriteRecord(w io.Writer, v *ntfs.Volume, rec *ntfs.FileRecord) {
	var b strings.Builder

	fmt.Fprintf(&b, "%-20s#%d\n", "File record:", rec.RecordNumber)
	kind := "file"
	if rec.IsDirectory() {
		kind = "directory"
	}
	status := "in use"
	if !rec.InUse() {
		status = "not in use"
	}
	fmt.Fprintf(&b, "%-20s%s, %s\n", "Status:", kind, status)
	fmt.Fprintf(&b, "%-20s%d / %d bytes\n", "Record size:", rec.RealSize, rec.AllocatedSize)
	if base := rec.BaseRecord.RecordNumber(); base != 0 {
		fmt.Fprintf(&b, "%-20s#%d\n", "Base record:", base)
	}

	if name := rec.DisplayName(); name != "" {
		fmt.Fprintf(&b, "%-20s%s\n", "Name:", name)
	}
	for _, fn := range rec.FileNames() {
		fmt.Fprintf(&b, "%-20s%s (%s)\n", "File name:", fn.Name, namespaceLabel(fn.Namespace))
	}

	b.WriteString("\nAttributes:\n")
	for _, attr := range rec.Attributes {
		residency := "resident"
		if attr.NonResident {
			residency = "non-resident"
		}
		name := ""
		if attr.Name != "" {
			name = fmt.Sprintf(" %q", attr.Name)
		}
		fmt.Fprintf(&b, "  %-22s(%#04x)%s %s, %s bytes\n",
			attr.TypeName, attr.Type, name, residency, util.FormatNumber(int64(attr.RealSize)))
	}

	streams := rec.StreamNames()
	if len(streams) > 0 {
		b.WriteString("\nStreams:\n")
		for _, name := range streams {
			size, _ := v.StreamSize(rec, name)
			display := rec.DisplayName()
			if name != "" {
				display = display + ":" + name
			}
			fmt.Fprintf(&b, "  %-40s %s\n", display, util.FormatFileSize(float64(size), true))
		}
	}

	io.WriteString(w, b.String())
}

// WriteTree prints a directory listing as an indented tree, the way the
// entries were collected.
func WriteTree(w io.Writer, root string, entries []ntfs.DirEntry) {
	fmt.Fprintf(w, "  |- %s\n", root)
	writeSubtree(w, entries, "     ")
}

func writeSubtree(w io.Writer, entries []ntfs.DirEntry, indent string) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s|- %s\n", indent, e.Name)
		if e.Children != nil {
			writeSubtree(w, e.Children, indent+"   ")
		}
	}
}

// WriteReparse prints the volume's reparse table, deduplicating repeated
// record numbers.
func WriteReparse(w io.Writer, points []ntfs.ReparseInfo) {
	fmt.Fprintf(w, "%-12s %-40s %s\n\n", "file record", "symlink", "reparse point")

	seen := make(map[uint64]bool)
	for _, p := range points {
		if seen[p.RecordNumber] {
			continue
		}
		seen[p.RecordNumber] = true
		fmt.Fprintf(w, "#%-11d %-40s -> %s\n", p.RecordNumber, p.Name, p.Target)
	}
}

func namespaceLabel(ns uint8) string {
	switch ns {
	case ntfs.NamespacePOSIX:
		return "POSIX"
	case ntfs.NamespaceWin32:
		return "WIN32"
	case ntfs.NamespaceDOS:
		return "DOS"
	case ntfs.NamespaceWin32AndDOS:
		return "WIN32+DOS"
	default:
		return fmt.Sprintf("namespace %d", ns)
	}
}
