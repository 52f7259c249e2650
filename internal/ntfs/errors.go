package ntfs

import "errors"

// Structural failures during boot or MFT bootstrap are fatal; everything
// else degrades to a logged skip so that partial volumes still yield
// partial results.
var (
	// ErrInvalidImage means the image is smaller than a sector or the boot
	// sector is inconsistent.
	ErrInvalidImage = errors.New("ntfs: invalid NTFS image")

	// ErrTruncated means a parse read past the end of a bounded buffer.
	ErrTruncated = errors.New("ntfs: truncated structure")

	// ErrUnknownAttrType means an attribute type has no $AttrDef entry.
	ErrUnknownAttrType = errors.New("ntfs: attribute type not found in $AttrDef")

	// ErrMFTInit means the MFT start lies beyond the image or its $DATA
	// attribute could not be located.
	ErrMFTInit = errors.New("ntfs: MFT initialization failed")
)
