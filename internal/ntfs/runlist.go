package ntfs

// Extent is one data run: Clusters contiguous clusters starting at LCN.
type Extent struct {
	Clusters uint64
	LCN      int64
}

// Runlist is the decoded form of a non-resident attribute's data runs.
// Extent i covers the VCN range [sum of previous Clusters, +Clusters).
type Runlist []Extent

// DecodeRunlist decodes the variable-length data-run encoding. Each run
// starts with a header byte whose low nibble is the byte width of the
// cluster count and whose high nibble is the byte width of the signed LCN
// delta; a zero header terminates the list. Absolute LCNs are rebuilt by
// accumulating the deltas.
//
// A run with delta width 0 marks a sparse extent; decoding stops there
// (true sparse support would emit a zero-filled extent instead). Trailing
// slack after the terminator is ignored, and a run that would read past the
// buffer ends decoding.
func DecodeRunlist(b []byte) Runlist {
	var runs Runlist

	var lcn int64
	i := 0
	for i < len(b) {
		header := b[i]
		if header == 0x00 {
			break
		}

		lengthSize := int(header & 0x0F)
		offsetSize := int(header&0xF0) >> 4

		if offsetSize == 0 {
			// sparse run
			break
		}
		if i+1+lengthSize+offsetSize > len(b) {
			break
		}

		var clusters uint64
		for j := lengthSize - 1; j >= 0; j-- {
			clusters = clusters<<8 | uint64(b[i+1+j])
		}

		var delta uint64
		for j := offsetSize - 1; j >= 0; j-- {
			delta = delta<<8 | uint64(b[i+1+lengthSize+j])
		}
		shift := uint(64 - offsetSize*8)
		lcn += int64(delta<<shift) >> shift

		runs = append(runs, Extent{Clusters: clusters, LCN: lcn})
		i += 1 + lengthSize + offsetSize
	}

	return runs
}

// TotalClusters sums the cluster counts of all extents.
func (r Runlist) TotalClusters() uint64 {
	var total uint64
	for _, e := range r {
		total += e.Clusters
	}
	return total
}

// Locate finds the extent containing vcn and the VCN's offset within it.
func (r Runlist) Locate(vcn uint64) (Extent, uint64, bool) {
	var base uint64
	for _, e := range r {
		if vcn < base+e.Clusters {
			return e, vcn - base, true
		}
		base += e.Clusters
	}
	return Extent{}, 0, false
}
