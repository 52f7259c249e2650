package ntfs

import (
	"fmt"

	"github.com/s0up4200/go-ntfs/internal/buffer"
	"github.com/s0up4200/go-ntfs/internal/source"
)

// Geometry holds the volume layout decoded from the boot sector. It is
// immutable after the boot parse.
type Geometry struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	MFTCluster        uint64 // starting LCN of $MFT
	ClustersPerRecord int8   // raw field; negative means 2^-n bytes
	RecordSize        int64  // derived file record size in bytes
}

// ClusterBytes returns the size of one cluster in bytes.
func (g Geometry) ClusterBytes() int64 {
	return int64(g.SectorsPerCluster) * int64(g.BytesPerSector)
}

// MFTOffset returns the byte offset of the first MFT record.
func (g Geometry) MFTOffset() int64 {
	return int64(g.MFTCluster) * g.ClusterBytes()
}

// ParseBoot decodes the BIOS Parameter Block from the first sector of the
// volume. Images smaller than one sector are rejected.
func ParseBoot(src source.Source) (Geometry, error) {
	if size := src.Size(); size != 0 && size < 512 {
		return Geometry{}, fmt.Errorf("%w: %d bytes", ErrInvalidImage, size)
	}

	sector, err := source.ReadRange(src, 0, 512)
	if err != nil {
		return Geometry{}, fmt.Errorf("reading boot sector: %w", err)
	}
	if len(sector) < 512 {
		return Geometry{}, fmt.Errorf("%w: short boot sector", ErrInvalidImage)
	}

	r := buffer.NewReader(sector)
	bps, _ := r.Uint16(0x0B)
	spc, _ := r.Byte(0x0D)
	mftCluster, _ := r.Uint64(0x30)
	// Stored on a dword, but only the low byte is significant; sign-extend
	// from 8 bits.
	rawClusters, _ := r.Uint32(0x40)
	clustersPerRecord := int8(rawClusters)

	if bps == 0 || spc == 0 {
		return Geometry{}, fmt.Errorf("%w: zero sector/cluster geometry", ErrInvalidImage)
	}

	g := Geometry{
		BytesPerSector:    bps,
		SectorsPerCluster: spc,
		MFTCluster:        mftCluster,
		ClustersPerRecord: clustersPerRecord,
	}

	if clustersPerRecord < 0 {
		g.RecordSize = 1 << uint(-clustersPerRecord)
	} else {
		g.RecordSize = int64(clustersPerRecord) * g.ClusterBytes()
	}

	return g, nil
}
