package wim

import (
	"fmt"

	"www.velocidex.com/golang/go-ntfs/parser"
)

type BlobLocation int

const (
	BLOB_IN_NTFS_VOLUME BlobLocation = iota
	BLOB_IN_MEMORY
)

// ReadPrefix delivers data to its sink in chunks of this size.
const BlobChunkSize = 32 * 1024

// Reparse point attributes carry an 8 byte header (tag + length) in
// front of the payload the image stores.
const reparseDataOffset = 8

// Where a blob's data lives inside an NTFS volume. AttrName selects a
// named stream; SortKey is the LCN of the attribute's first allocated
// extent (0 if resident or the first run is a hole).
type NtfsLocation struct {
	Volume   *Volume
	MftNo    uint64
	AttrType uint64
	AttrName string
	SortKey  uint64
}

// A BlobDescriptor is an opaque handle to deferred file data. The
// payload is never read during the scan; the hashing and writing
// pipeline reads it later through ReadPrefix.
type BlobDescriptor struct {
	Location BlobLocation
	Size     int64

	// BLOB_IN_NTFS_VOLUME
	Ntfs *NtfsLocation

	// BLOB_IN_MEMORY
	Data []byte
}

// Clone deep copies the location and takes a new volume reference.
func (self *BlobDescriptor) Clone() *BlobDescriptor {
	result := &BlobDescriptor{
		Location: self.Location,
		Size:     self.Size,
		Data:     self.Data,
	}
	if self.Ntfs != nil {
		loc := *self.Ntfs
		loc.Volume = loc.Volume.Get()
		result.Ntfs = &loc
	}
	return result
}

// Close releases the volume reference held by an in-volume blob.
func (self *BlobDescriptor) Close() {
	if self.Ntfs != nil && self.Ntfs.Volume != nil {
		self.Ntfs.Volume.Put()
		self.Ntfs.Volume = nil
	}
}

// SameLocation reports whether two descriptors refer to the same
// attribute. The external deduplication table uses this identity when
// the hashing pipeline discovers identical content.
func (self *BlobDescriptor) SameLocation(other *BlobDescriptor) bool {
	if self.Location != other.Location {
		return false
	}
	if self.Location != BLOB_IN_NTFS_VOLUME {
		return false
	}
	return self.Ntfs.Volume == other.Ntfs.Volume &&
		self.Ntfs.MftNo == other.Ntfs.MftNo &&
		self.Ntfs.AttrType == other.Ntfs.AttrType &&
		self.Ntfs.AttrName == other.Ntfs.AttrName
}

// CompareBlobs is a total order on the starting LCN of in-volume blobs.
// Reading blobs in this order gives roughly sequential access to the
// volume.
func CompareBlobs(a, b *BlobDescriptor) int {
	key := func(blob *BlobDescriptor) uint64 {
		if blob.Ntfs != nil {
			return blob.Ntfs.SortKey
		}
		return 0
	}

	key_a, key_b := key(a), key(b)
	switch {
	case key_a < key_b:
		return -1
	case key_a > key_b:
		return 1
	}
	return 0
}

// ReadPrefix reads the first size bytes of the blob in BlobChunkSize
// chunks, delivering each to sink. For a reparse point attribute,
// reading starts past the 8 byte reparse header. A non-nil sink return
// short-circuits the loop and is propagated.
func (self *BlobDescriptor) ReadPrefix(size int64, sink func(buf []byte) error) error {
	if size > self.Size {
		return fmt.Errorf("Prefix of %d bytes exceeds blob size %d: %w",
			size, self.Size, ErrInvalidParam)
	}

	if self.Location == BLOB_IN_MEMORY {
		for offset := int64(0); offset < size; offset += BlobChunkSize {
			end := offset + BlobChunkSize
			if end > size {
				end = size
			}
			if err := sink(self.Data[offset:end]); err != nil {
				return err
			}
		}
		return nil
	}

	loc := self.Ntfs
	ntfs := loc.Volume.Context()

	mft, err := ntfs.GetMFT(int64(loc.MftNo))
	if err != nil {
		return fmt.Errorf("Failed to open NTFS inode %d: %v: %w",
			loc.MftNo, err, ErrNTFS)
	}

	attr_id, err := findAttributeId(ntfs, mft, loc.AttrType, loc.AttrName)
	if err != nil {
		return err
	}

	reader, err := parser.OpenStream(ntfs, mft, loc.AttrType, attr_id, loc.AttrName)
	if err != nil {
		return fmt.Errorf("Failed to open attribute of NTFS inode %d: %v: %w",
			loc.MftNo, err, ErrNTFS)
	}

	pos := int64(0)
	if loc.AttrType == ntfsAttrReparsePoint {
		pos = reparseDataOffset
	}

	buf := make([]byte, BlobChunkSize)
	remaining := size
	for remaining > 0 {
		to_read := remaining
		if to_read > BlobChunkSize {
			to_read = BlobChunkSize
		}

		n, _ := reader.ReadAt(buf[:to_read], pos)
		if int64(n) != to_read {
			return fmt.Errorf(
				"Error reading data from NTFS inode %d at offset %d: %w",
				loc.MftNo, pos, ErrRead)
		}

		pos += to_read
		remaining -= to_read

		if err := sink(buf[:to_read]); err != nil {
			return err
		}
	}

	return nil
}

// Locate the first record of an attribute by type and name. Extension
// records covering later VCNs share the id of the first record.
func findAttributeId(ntfs *parser.NTFSContext, mft *parser.MFT_ENTRY,
	attr_type uint64, attr_name string) (uint16, error) {

	for _, attr := range mft.EnumerateAttributes(ntfs) {
		if attr.Type().Value != attr_type {
			continue
		}
		if attr.Name() != attr_name {
			continue
		}
		if !attr.IsResident() && attr.Runlist_vcn_start() != 0 {
			continue
		}
		return attr.Attribute_id(), nil
	}

	return 0, fmt.Errorf("Attribute %d:%q not found on inode %d: %w",
		attr_type, attr_name, mft.Record_number(), ErrNTFS)
}
