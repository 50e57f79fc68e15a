package fetch

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// networkError signals a non-2xx response or a transport failure mid-download.
type networkError struct {
	assetID string
	status  int
	err     error
}

func (e networkError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.assetID, e.status)
	}
	return fmt.Sprintf("download %s: %v", e.assetID, e.err)
}

func (e networkError) Unwrap() error { return e.err }

// ErrNetwork constructs a transport-failure error.
func ErrNetwork(assetID string, err error) error { return networkError{assetID: assetID, err: err} }

// ErrBadStatus constructs a non-2xx response error.
func ErrBadStatus(assetID string, status int) error {
	return networkError{assetID: assetID, status: status}
}

// IsNetwork reports whether err is a download transport failure.
func IsNetwork(err error) bool {
	_, ok := err.(networkError)
	return ok
}

// allocationError signals that the final contiguous buffer could not be
// allocated. The message carries the asset name and declared size so callers
// can suggest a smaller asset.
type allocationError struct {
	assetName string
	sizeBytes int64
}

func (e allocationError) Error() string {
	return fmt.Sprintf("failed to assemble buffer for %s (%d bytes, %s): out of memory",
		e.assetName, e.sizeBytes, humanize.IBytes(uint64(e.sizeBytes)))
}

// ErrAllocation constructs an allocation-failure error.
func ErrAllocation(assetName string, sizeBytes int64) error {
	return allocationError{assetName: assetName, sizeBytes: sizeBytes}
}

// IsAllocation reports whether err indicates buffer-assembly failure.
func IsAllocation(err error) bool {
	_, ok := err.(allocationError)
	return ok
}
