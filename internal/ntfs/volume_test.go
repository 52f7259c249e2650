package ntfs

// Helpers that lay out a small NTFS image byte by byte: boot sector, MFT
// records with update-sequence protection, $AttrDef payload, resident and
// non-resident attributes, $I30/$R index nodes and INDX clusters. The
// end-to-end tests run the parser against this image.

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/s0up4200/go-ntfs/internal/source"
)

const (
	tBytesPerSector = 512
	tCluster        = 1024 // 2 sectors per cluster
	tRecordSize     = 1024

	tMFTCluster = 8
	tMFTRecords = 32

	tAttrDefCluster = 50 // 2 clusters
	tReparseINDX    = 62
	tBigCluster     = 64
	tQuirkCluster   = 65
	tMultiClusterA  = 66
	tMultiClusterB  = 68
	tSeed5Clusters  = 70 // VCNs 0..4, INDX block at 74
)

// Record numbers used by the test volume.
const (
	recListExt  = 15 // extension record for the attribute-list test
	recWindows  = 16
	recWinNT    = 17
	recSystem32 = 18
	recDrivers  = 19
	recEtc      = 20
	recHosts    = 21
	recExtend   = 22
	recReparse  = 23
	recHello    = 24
	recZero     = 25
	recBig      = 26
	recQuirk    = 27
	recMulti    = 28
	recADS      = 29
	recSeed5    = 30
	recListBase = 31
)

func put16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func put64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func putUTF16(b []byte, off int, s string) {
	for _, u := range utf16.Encode([]rune(s)) {
		binary.LittleEndian.PutUint16(b[off:], u)
		off += 2
	}
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// testImage accumulates clusters of a synthetic volume.
type testImage struct {
	clusters map[int64][]byte
	max      int64
}

func newTestImage() *testImage {
	return &testImage{clusters: make(map[int64][]byte)}
}

func (im *testImage) setCluster(lcn int64, data []byte) {
	if len(data) > tCluster {
		panic("cluster overflow")
	}
	c := make([]byte, tCluster)
	copy(c, data)
	im.clusters[lcn] = c
	if lcn > im.max {
		im.max = lcn
	}
}

func (im *testImage) bytes() []byte {
	img := make([]byte, (im.max+1)*tCluster)
	for lcn, data := range im.clusters {
		copy(img[lcn*tCluster:], data)
	}
	return img
}

// protect applies multi-sector transfer protection in place: the last two
// bytes of each sector move into the fixup slots and are replaced by the
// update sequence number.
func protect(block []byte, usaOffset int, usn uint16) {
	sectors := len(block) / tBytesPerSector
	put16(block, usaOffset, usn)
	for i := 0; i < sectors; i++ {
		end := (i + 1) * tBytesPerSector
		copy(block[usaOffset+2+i*2:], block[end-2:end])
		put16(block, end-2, usn)
	}
}

// buildRecord assembles a protected FILE record from attribute blobs.
func buildRecord(flags uint16, attrs ...[]byte) []byte {
	rec := make([]byte, tRecordSize)
	copy(rec, "FILE")
	put16(rec, 0x04, 0x30) // update sequence offset
	put16(rec, 0x06, 3)    // words: usn + one fixup per sector
	put16(rec, 0x10, 1)    // sequence number
	put16(rec, 0x14, 0x38) // first attribute
	put16(rec, 0x16, flags)
	put32(rec, 0x1C, tRecordSize)
	put16(rec, 0x28, uint16(len(attrs)+1))

	off := 0x38
	for _, a := range attrs {
		copy(rec[off:], a)
		off += len(a)
	}
	put32(rec, off, 0xFFFFFFFF)
	put32(rec, 0x18, uint32(off+4)) // real size

	protect(rec, 0x30, 0x0101)
	return rec
}

func residentAttr(typ uint32, name string, content []byte) []byte {
	nameLen := len(name)
	contentOff := 0x18 + 2*nameLen
	length := align8(contentOff + len(content))

	b := make([]byte, length)
	put32(b, 0x00, typ)
	put32(b, 0x04, uint32(length))
	b[0x08] = 0
	b[0x09] = byte(nameLen)
	put16(b, 0x0A, 0x18) // name offset
	put32(b, 0x10, uint32(len(content)))
	put16(b, 0x14, uint16(contentOff))
	putUTF16(b, 0x18, name)
	copy(b[contentOff:], content)
	return b
}

func nonResidentAttr(typ uint32, name string, startVCN, lastVCN, realSize uint64, runs []byte) []byte {
	nameLen := len(name)
	runOff := 0x40 + 2*nameLen
	length := align8(runOff + len(runs) + 1)

	b := make([]byte, length)
	put32(b, 0x00, typ)
	put32(b, 0x04, uint32(length))
	b[0x08] = 1
	b[0x09] = byte(nameLen)
	put16(b, 0x0A, 0x40)
	put64(b, 0x10, startVCN)
	put64(b, 0x18, lastVCN)
	put16(b, 0x20, uint16(runOff))
	put64(b, 0x28, (lastVCN-startVCN+1)*tCluster) // allocated
	put64(b, 0x30, realSize)
	put64(b, 0x38, realSize) // initialized
	putUTF16(b, 0x40, name)
	copy(b[runOff:], runs)
	return b
}

func fileNameAttr(name string, namespace byte, parent uint64, realSize uint64) []byte {
	content := make([]byte, 0x42+2*len(name))
	put64(content, 0x00, parent)
	put64(content, 0x28, (realSize+tCluster-1)&^uint64(tCluster-1))
	put64(content, 0x30, realSize)
	content[0x40] = byte(len(name))
	content[0x41] = namespace
	putUTF16(content, 0x42, name)
	return residentAttr(AttrTypeFileName, "", content)
}

func stdInfoAttr() []byte {
	return residentAttr(AttrTypeStandardInformation, "", make([]byte, 0x48))
}

func reparseAttr(tag uint32, substitute, printPath string) []byte {
	subBytes := 2 * len(substitute)
	printBytes := 2 * len(printPath)

	// NUL terminator after the substitute path; the mount-point quirk
	// reads into it.
	content := make([]byte, 0x10+subBytes+4+printBytes)
	put32(content, 0x00, tag)
	put16(content, 0x04, uint16(8+subBytes+4+printBytes))
	put16(content, 0x08, 0) // substitute offset
	put16(content, 0x0A, uint16(subBytes))
	put16(content, 0x0C, uint16(subBytes+4)) // print offset
	put16(content, 0x0E, uint16(printBytes))
	putUTF16(content, 0x10, substitute)
	putUTF16(content, 0x10+subBytes+4, printPath)
	return residentAttr(AttrTypeReparsePoint, "", content)
}

// i30Leaf builds one named directory-index entry.
func i30Leaf(ref uint64, name string, namespace byte, realSize uint64) []byte {
	length := align8(0x52 + 2*len(name))
	b := make([]byte, length)
	put64(b, 0x00, ref)
	put16(b, 0x08, uint16(length))
	put16(b, 0x0A, uint16(length-0x10))
	b[0x0C] = 0
	put64(b, 0x40, realSize)
	b[0x50] = byte(len(name))
	b[0x51] = namespace
	putUTF16(b, 0x52, name)
	return b
}

// i30Last builds the terminator entry, optionally carrying a subnode VCN.
func i30Last(subnodeVCN uint64, hasSubnode bool) []byte {
	if !hasSubnode {
		b := make([]byte, 0x10)
		put16(b, 0x08, 0x10)
		b[0x0C] = indexFlagLast
		return b
	}
	b := make([]byte, 0x18)
	put16(b, 0x08, 0x18)
	b[0x0C] = indexFlagSubnode | indexFlagLast
	put64(b, 0x10, subnodeVCN)
	return b
}

func indexRootAttr(name string, large bool, entries ...[]byte) []byte {
	total := 0
	for _, e := range entries {
		total += len(e)
	}

	value := make([]byte, 32+total)
	put32(value, 8, 4096) // bytes per index record
	value[12] = 1         // clusters per index record
	put32(value, 16, 16)  // first entry offset, relative to the node header
	put32(value, 20, uint32(16+total))
	if large {
		value[16+0x0C] = 1
	}
	off := 32
	for _, e := range entries {
		copy(value[off:], e)
		off += len(e)
	}
	return residentAttr(AttrTypeIndexRoot, name, value)
}

// indxBlock builds one protected INDX cluster with the given entries.
func indxBlock(vcn uint64, entries ...[]byte) []byte {
	block := make([]byte, tCluster)
	copy(block, "INDX")
	put16(block, 0x04, 0x28) // update sequence offset
	put16(block, 0x06, 3)
	put64(block, 0x10, vcn)
	put32(block, 0x18, 0x28) // first entry at 0x18+0x28 = 0x40

	off := 0x40
	total := 0
	for _, e := range entries {
		copy(block[off:], e)
		off += len(e)
		total += len(e)
	}
	put32(block, 0x1C, uint32(0x28+total))

	protect(block, 0x28, 0x0202)
	return block
}

// rEntry builds one reparse-index entry keyed by tag and MFT reference.
func rEntry(tag uint32, ref uint64) []byte {
	b := make([]byte, 0x28)
	put16(b, 0x00, 0x10)
	put16(b, 0x02, 0x0C)
	put16(b, 0x08, 0x28)
	put16(b, 0x0A, 0x0C)
	put32(b, 0x10, tag)
	put64(b, 0x14, ref)
	return b
}

func rLast() []byte {
	b := make([]byte, 0x18)
	put16(b, 0x08, 0x18)
	put16(b, 0x0C, indexFlagLast)
	return b
}

// encodeRuns produces the data-run encoding for extents, using minimal
// field widths, terminated by 0x00.
func encodeRuns(runs ...Extent) []byte {
	var out []byte
	var prev int64
	for _, e := range runs {
		delta := e.LCN - prev
		prev = e.LCN

		countBytes := leBytes(uint64(e.Clusters))
		deltaBytes := leSignedBytes(delta)
		out = append(out, byte(len(deltaBytes))<<4|byte(len(countBytes)))
		out = append(out, countBytes...)
		out = append(out, deltaBytes...)
	}
	return append(out, 0x00)
}

func leBytes(v uint64) []byte {
	out := []byte{byte(v)}
	v >>= 8
	for v != 0 {
		out = append(out, byte(v))
		v >>= 8
	}
	return out
}

func leSignedBytes(v int64) []byte {
	out := []byte{byte(v)}
	for {
		rest := v >> 8
		top := out[len(out)-1]
		if (rest == 0 && top&0x80 == 0) || (rest == -1 && top&0x80 != 0) {
			return out
		}
		out = append(out, byte(rest))
		v = rest
	}
}

func attrDefEntry(name string, typ uint32) []byte {
	b := make([]byte, 0xA0)
	putUTF16(b, 0, name)
	put32(b, 0x80, typ)
	put32(b, 0x8C, 0x40)
	return b
}

func bootSector() []byte {
	b := make([]byte, tCluster)
	copy(b[3:], "NTFS    ")
	put16(b, 0x0B, tBytesPerSector)
	b[0x0D] = tCluster / tBytesPerSector
	put64(b, 0x30, tMFTCluster)
	b[0x40] = 0xF6 // -10: record size 2^10
	return b
}

// buildTestVolume lays out the whole image and opens it.
func buildTestVolume(t *testing.T) *Volume {
	t.Helper()

	im := newTestImage()
	im.setCluster(0, bootSector())

	records := map[uint64][]byte{}

	// System records.
	records[RecordMFT] = buildRecord(recordFlagInUse,
		fileNameAttr("$MFT", NamespaceWin32, RecordRoot, tMFTRecords*tRecordSize),
		nonResidentAttr(AttrTypeData, "", 0, tMFTRecords-1, tMFTRecords*tRecordSize,
			encodeRuns(Extent{Clusters: tMFTRecords, LCN: tMFTCluster})),
	)
	records[RecordAttrDef] = buildRecord(recordFlagInUse,
		fileNameAttr("$AttrDef", NamespaceWin32, RecordRoot, 8*0xA0),
		nonResidentAttr(AttrTypeData, "", 0, 1, 8*0xA0,
			encodeRuns(Extent{Clusters: 2, LCN: tAttrDefCluster})),
	)
	records[RecordRoot] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr(".", NamespacePOSIX, RecordRoot, 0),
		indexRootAttr("$I30", false,
			i30Leaf(RecordMFT, "$MFT", NamespaceWin32, tMFTRecords*tRecordSize),
			i30Leaf(recExtend, "$Extend", NamespaceWin32, 0),
			i30Leaf(recWindows, "Windows", NamespaceWin32, 0),
			i30Leaf(recWinNT, "WinNT", NamespaceWin32, 0),
			i30Leaf(recHello, "hello.txt", NamespaceWin32, 3),
			i30Last(0, false),
		),
	)

	// AttrDef payload.
	var attrDefData []byte
	for _, e := range [][]byte{
		attrDefEntry("$STANDARD_INFORMATION", AttrTypeStandardInformation),
		attrDefEntry("$ATTRIBUTE_LIST", AttrTypeAttributeList),
		attrDefEntry("$FILE_NAME", AttrTypeFileName),
		attrDefEntry("$DATA", AttrTypeData),
		attrDefEntry("$INDEX_ROOT", AttrTypeIndexRoot),
		attrDefEntry("$INDEX_ALLOCATION", AttrTypeIndexAllocation),
		attrDefEntry("$REPARSE_POINT", AttrTypeReparsePoint),
	} {
		attrDefData = append(attrDefData, e...)
	}
	im.setCluster(tAttrDefCluster, attrDefData[:tCluster])
	im.setCluster(tAttrDefCluster+1, attrDefData[tCluster:])

	// Junction chain: \Windows -> \??\C:\WinNT, WinNT\System32\drivers\etc\hosts.
	records[recWindows] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("Windows", NamespaceWin32, RecordRoot, 0),
		reparseAttr(reparseTagMountPoint, `\??\C:\WinNT`, `C:\WinNT`),
	)
	records[recWinNT] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("WinNT", NamespaceWin32, RecordRoot, 0),
		indexRootAttr("$I30", false,
			i30Leaf(recSystem32, "System32", NamespaceWin32, 0),
			i30Last(0, false),
		),
	)
	records[recSystem32] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("System32", NamespaceWin32, recWinNT, 0),
		indexRootAttr("$I30", false,
			i30Leaf(recDrivers, "drivers", NamespaceWin32, 0),
			i30Last(0, false),
		),
	)
	records[recDrivers] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("drivers", NamespaceWin32, recSystem32, 0),
		indexRootAttr("$I30", false,
			i30Leaf(recEtc, "etc", NamespaceWin32, 0),
			i30Last(0, false),
		),
	)
	records[recEtc] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("etc", NamespaceWin32, recDrivers, 0),
		indexRootAttr("$I30", false,
			i30Leaf(recHosts, "hosts", NamespaceWin32, 20),
			i30Leaf(recHosts, "HOSTS~1", NamespaceDOS, 20),
			i30Last(0, false),
		),
	)
	records[recHosts] = buildRecord(recordFlagInUse,
		stdInfoAttr(),
		fileNameAttr("hosts", NamespaceWin32, recEtc, 20),
		fileNameAttr("HOSTS~1", NamespaceDOS, recEtc, 20),
		residentAttr(AttrTypeData, "", []byte("127.0.0.1 localhost\n")),
	)

	// \$Extend\$Reparse with a $R index over one INDX block.
	records[recExtend] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("$Extend", NamespaceWin32, RecordRoot, 0),
		indexRootAttr("$I30", false,
			i30Leaf(recReparse, "$Reparse", NamespaceWin32, 0),
			i30Last(0, false),
		),
	)
	records[recReparse] = buildRecord(recordFlagInUse,
		fileNameAttr("$Reparse", NamespaceWin32, recExtend, 0),
		indexRootAttr("$R", true,
			i30Last(0, true),
		),
		nonResidentAttr(AttrTypeIndexAllocation, "$R", 0, 0, tCluster,
			encodeRuns(Extent{Clusters: 1, LCN: tReparseINDX})),
	)
	im.setCluster(tReparseINDX, indxBlock(0,
		rEntry(reparseTagMountPoint, recWindows),
		rLast(),
	))

	// Plain files exercising the stream reader.
	records[recHello] = buildRecord(recordFlagInUse,
		stdInfoAttr(),
		fileNameAttr("hello.txt", NamespaceWin32, RecordRoot, 3),
		residentAttr(AttrTypeData, "", []byte("hi\n")),
	)
	records[recZero] = buildRecord(recordFlagInUse,
		fileNameAttr("zero.bin", NamespaceWin32, RecordRoot, 0),
		residentAttr(AttrTypeData, "", nil),
	)
	records[recBig] = buildRecord(recordFlagInUse,
		fileNameAttr("big.bin", NamespaceWin32, RecordRoot, 5),
		nonResidentAttr(AttrTypeData, "", 0, 0, 5,
			encodeRuns(Extent{Clusters: 1, LCN: tBigCluster})),
	)
	big := make([]byte, tCluster)
	copy(big, "HELLO")
	im.setCluster(tBigCluster, big)

	records[recQuirk] = buildRecord(recordFlagInUse,
		fileNameAttr("quirk.bin", NamespaceWin32, RecordRoot, 0),
		nonResidentAttr(AttrTypeData, "", 0, 0, 0,
			encodeRuns(Extent{Clusters: 1, LCN: tQuirkCluster})),
	)
	quirk := make([]byte, tCluster)
	for i := range quirk {
		quirk[i] = byte(i)
	}
	im.setCluster(tQuirkCluster, quirk)

	records[recMulti] = buildRecord(recordFlagInUse,
		fileNameAttr("multi.bin", NamespaceWin32, RecordRoot, 1500),
		nonResidentAttr(AttrTypeData, "", 0, 1, 1500,
			encodeRuns(
				Extent{Clusters: 1, LCN: tMultiClusterA},
				Extent{Clusters: 1, LCN: tMultiClusterB},
			)),
	)
	multiA := make([]byte, tCluster)
	multiB := make([]byte, tCluster)
	for i := range multiA {
		multiA[i] = 'A'
		multiB[i] = 'B'
	}
	im.setCluster(tMultiClusterA, multiA)
	im.setCluster(tMultiClusterB, multiB)

	records[recADS] = buildRecord(recordFlagInUse,
		fileNameAttr("ads.txt", NamespaceWin32, RecordRoot, 4),
		residentAttr(AttrTypeData, "", []byte("main")),
		residentAttr(AttrTypeData, "secret", []byte("hidden")),
	)

	// Directory whose index spills into an INDX block (seed scenario 5).
	records[recSeed5] = buildRecord(recordFlagInUse|recordFlagDirectory,
		fileNameAttr("seed5", NamespaceWin32, RecordRoot, 0),
		indexRootAttr("$I30", true,
			i30Leaf(recHello, "a", NamespaceWin32, 3),
			i30Last(4, true),
		),
		nonResidentAttr(AttrTypeIndexAllocation, "$I30", 0, 4, 5*tCluster,
			encodeRuns(Extent{Clusters: 5, LCN: tSeed5Clusters})),
	)
	im.setCluster(tSeed5Clusters+4, indxBlock(4,
		i30Leaf(recZero, "b", NamespaceWin32, 0),
		i30Last(0, false),
	))
	for i := int64(0); i < 4; i++ {
		im.setCluster(tSeed5Clusters+i, nil)
	}

	// Attribute-list overflow: the base record's list points at an
	// extension record carrying the $DATA.
	listEntry := make([]byte, 0x20)
	put32(listEntry, 0x00, AttrTypeData)
	put16(listEntry, 0x04, 0x20)
	put64(listEntry, 0x10, recListExt)
	records[recListBase] = buildRecord(recordFlagInUse,
		fileNameAttr("listy", NamespaceWin32, RecordRoot, 6),
		residentAttr(AttrTypeAttributeList, "", listEntry),
	)
	records[recListExt] = buildRecord(recordFlagInUse,
		residentAttr(AttrTypeData, "", []byte("spills")),
	)

	for n, rec := range records {
		im.setCluster(tMFTCluster+int64(n), rec)
	}

	vol, err := New(source.NewBuffer(im.bytes()), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return vol
}
