package wim

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// SecurityData is the table of raw Windows SECURITY_DESCRIPTOR blobs an
// image stores in front of its dentry tree. Inodes refer to entries by
// index; -1 means no descriptor.
//
// On-wire layout (little endian):
//
//	u32  total_length        including this header, padded to 8
//	u32  num_entries
//	u64  sizes[num_entries]
//	u8   descriptors[...]    concatenated, each as-is
//	u8   pad[0..7]
type SecurityData struct {
	Descriptors [][]byte
}

func (self *SecurityData) NumEntries() uint32 {
	return uint32(len(self.Descriptors))
}

// TotalLength is the serialized length rounded up to an 8 byte
// multiple. An empty table still occupies its 8 byte header.
func (self *SecurityData) TotalLength() uint32 {
	total := uint32(8) + 8*self.NumEntries()
	for _, sd := range self.Descriptors {
		total += uint32(len(sd))
	}
	return (total + 7) &^ 7
}

// serialize writes the security block into buf at offset. The buffer
// is zero filled, so alignment padding needs no explicit write.
// Returns the offset just past the padded block.
func (self *SecurityData) serialize(buf []byte, offset int) int {
	binary.LittleEndian.PutUint32(buf[offset:], self.TotalLength())
	binary.LittleEndian.PutUint32(buf[offset+4:], self.NumEntries())

	p := offset + 8
	for _, sd := range self.Descriptors {
		binary.LittleEndian.PutUint64(buf[p:], uint64(len(sd)))
		p += 8
	}
	for _, sd := range self.Descriptors {
		copy(buf[p:], sd)
		p += len(sd)
	}

	return offset + int(self.TotalLength())
}

// readSecurityData parses the leading security block of a metadata
// resource. A total_length of 0 is equivalent to an empty 8 byte
// header. The second return value is the stored total length rounded
// up to 8 - the root dentry begins there, even if a foreign writer
// padded the block beyond its canonical size.
func readSecurityData(buf []byte) (*SecurityData, uint64, error) {
	if len(buf) < 8 {
		return nil, 0, fmt.Errorf(
			"Metadata resource of %d bytes is too short for security data: %w",
			len(buf), ErrInvalidMetadataResource)
	}

	total := binary.LittleEndian.Uint32(buf[0:4])
	num := binary.LittleEndian.Uint32(buf[4:8])

	if total == 0 {
		total = 8
		num = 0
	}

	consumed := align8(uint64(total))
	if consumed > uint64(len(buf)) {
		return nil, 0, fmt.Errorf(
			"Security data length %d exceeds the %d byte resource: %w",
			total, len(buf), ErrInvalidMetadataResource)
	}

	if uint64(8)+8*uint64(num) > uint64(total) {
		return nil, 0, fmt.Errorf(
			"Security data declares %d entries in %d bytes: %w",
			num, total, ErrInvalidMetadataResource)
	}

	result := &SecurityData{}

	sizes := make([]uint64, num)
	p := uint64(8)
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint64(buf[p : p+8])
		p += 8
	}

	for i, size := range sizes {
		if size > uint64(total)-p {
			return nil, 0, fmt.Errorf(
				"Security descriptor %d of %d bytes overruns the table at offset %d: %w",
				i, size, p, ErrInvalidMetadataResource)
		}
		sd := make([]byte, size)
		copy(sd, buf[p:p+size])
		result.Descriptors = append(result.Descriptors, sd)
		p += size
	}

	return result, consumed, nil
}

// SDSet is a deduplicating registry over a SecurityData table. Byte
// equal descriptors share one ID; IDs are assigned in first-seen order.
type SDSet struct {
	SecurityData *SecurityData

	index map[[20]byte]int32
}

func NewSDSet() *SDSet {
	return &SDSet{
		SecurityData: &SecurityData{},
		index:        make(map[[20]byte]int32),
	}
}

// Add registers a raw descriptor and returns its stable ID, or -1 for
// an empty descriptor.
func (self *SDSet) Add(descriptor []byte) int32 {
	if len(descriptor) == 0 {
		return -1
	}

	key := sha1.Sum(descriptor)
	id, pres := self.index[key]
	if pres {
		return id
	}

	owned := make([]byte, len(descriptor))
	copy(owned, descriptor)

	id = int32(len(self.SecurityData.Descriptors))
	self.SecurityData.Descriptors = append(self.SecurityData.Descriptors, owned)
	self.index[key] = id
	return id
}
