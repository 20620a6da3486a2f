package wim

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"www.velocidex.com/golang/go-ntfs/parser"
)

// NTFS attribute type codes used by the scanner.
const (
	ntfsAttrData         = 128
	ntfsAttrReparsePoint = 192
)

const (
	rootMftEntry      = 5
	secureMftEntry    = 9
	firstUserMftEntry = 16
)

// A reference counted read-only NTFS volume. The volume is shared by
// every blob descriptor created from it and is unmounted when the last
// reference is dropped. The refcount is atomic because blob descriptors
// may be cloned and released from the hashing pipeline's threads; all
// attribute reads on one volume must still be serialized by the caller.
type Volume struct {
	ntfs   *parser.NTFSContext
	closer io.Closer
	device string
	refcnt int64
}

// MountVolumeReadOnly opens a device (or image file) at the given byte
// offset and bootstraps the NTFS context over a paged reader.
func MountVolumeReadOnly(device string, offset int64) (*Volume, error) {
	fd, err := os.Open(device)
	if err != nil {
		return nil, fmt.Errorf(
			"Failed to mount NTFS volume %q read-only: %v: %w",
			device, err, ErrNTFS)
	}

	reader, err := parser.NewPagedReader(&parser.OffsetReader{
		Offset: offset,
		Reader: fd,
	}, 4096, 10000)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("Failed to mount NTFS volume %q: %v: %w",
			device, err, ErrNTFS)
	}

	ntfs, err := parser.GetNTFSContext(reader, 0)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("Failed to mount NTFS volume %q: %v: %w",
			device, err, ErrNTFS)
	}

	return &Volume{
		ntfs:   ntfs,
		closer: fd,
		device: device,
		refcnt: 1,
	}, nil
}

// NewVolume wraps an already bootstrapped NTFS context. The closer may
// be nil; otherwise it is closed on unmount.
func NewVolume(ntfs *parser.NTFSContext, closer io.Closer, device string) *Volume {
	return &Volume{
		ntfs:   ntfs,
		closer: closer,
		device: device,
		refcnt: 1,
	}
}

// Get takes a new reference.
func (self *Volume) Get() *Volume {
	atomic.AddInt64(&self.refcnt, 1)
	return self
}

// Put drops a reference. The last Put unmounts the volume exactly once.
func (self *Volume) Put() {
	if atomic.AddInt64(&self.refcnt, -1) != 0 {
		return
	}

	self.ntfs.Close()
	if self.closer != nil {
		self.closer.Close()
	}
}

func (self *Volume) Context() *parser.NTFSContext {
	return self.ntfs
}

func (self *Volume) Device() string {
	return self.device
}
