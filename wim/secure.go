package wim

import (
	"encoding/binary"
	"fmt"
	"sort"

	"www.velocidex.com/golang/go-ntfs/parser"
)

// NTFS stores all security descriptors centrally in the $Secure file's
// $SDS stream; each inode's $STANDARD_INFORMATION carries an id into
// it. We parse the stream once per capture instead of querying the ACL
// per inode, which also replaces the original stack-then-heap retry
// with a single contiguous buffer per descriptor.
//
// $SDS entry header:
//
//	u32 hash
//	u32 security_id
//	u64 offset     absolute offset of this entry within the stream
//	u32 length     including this 20 byte header
//
// Entries are 16 byte aligned. The stream is laid out in 256 KiB
// blocks where every second block mirrors the previous one.
const (
	sdsEntryHeaderSize = 20
	sdsBlockSize       = 0x40000
)

type SecurityCache struct {
	sds map[uint32][]byte
}

// LoadSecurityCache reads the volume's $Secure:$SDS stream and indexes
// every descriptor by security id.
func LoadSecurityCache(vol *Volume) (*SecurityCache, error) {
	ntfs := vol.Context()

	mft, err := ntfs.GetMFT(secureMftEntry)
	if err != nil {
		return nil, fmt.Errorf("Failed to open $Secure: %v: %w", err, ErrNTFS)
	}

	var sds_attr *parser.NTFS_ATTRIBUTE
	for _, attr := range mft.EnumerateAttributes(ntfs) {
		if attr.Type().Value != ntfsAttrData || attr.Name() != "$SDS" {
			continue
		}
		if !attr.IsResident() && attr.Runlist_vcn_start() != 0 {
			continue
		}
		sds_attr = attr
		break
	}
	if sds_attr == nil {
		return nil, fmt.Errorf("$Secure has no $SDS stream: %w", ErrNTFS)
	}

	reader, err := parser.OpenStream(ntfs, mft, ntfsAttrData, sds_attr.Attribute_id(), "$SDS")
	if err != nil {
		return nil, fmt.Errorf("Failed to open $Secure:$SDS: %v: %w", err, ErrNTFS)
	}

	result := &SecurityCache{sds: make(map[uint32][]byte)}

	size := sds_attr.DataSize()
	hdr := make([]byte, sdsEntryHeaderSize)

	for offset := int64(0); offset < size; {
		// Skip the mirror half of each block pair.
		if (offset/sdsBlockSize)%2 == 1 {
			offset = (offset/sdsBlockSize + 1) * sdsBlockSize
			continue
		}

		n, _ := reader.ReadAt(hdr, offset)
		if n < sdsEntryHeaderSize {
			break
		}

		id := binary.LittleEndian.Uint32(hdr[4:8])
		entry_offset := binary.LittleEndian.Uint64(hdr[8:16])
		length := binary.LittleEndian.Uint32(hdr[16:20])

		if length <= sdsEntryHeaderSize || int64(entry_offset) != offset {
			// End of the entries in this block; continue with
			// the next block pair.
			next := (offset/sdsBlockSize + 1) * sdsBlockSize
			if next <= offset {
				break
			}
			offset = next
			continue
		}

		descriptor := make([]byte, length-sdsEntryHeaderSize)
		n, _ = reader.ReadAt(descriptor, offset+sdsEntryHeaderSize)
		if n < len(descriptor) {
			break
		}

		_, pres := result.sds[id]
		if !pres {
			result.sds[id] = descriptor
		}

		offset = (offset + int64(length) + 15) &^ 15
	}

	DebugPrint("Loaded %v security descriptors from $Secure\n", len(result.sds))
	return result, nil
}

func (self *SecurityCache) Lookup(id uint32) ([]byte, bool) {
	sd, pres := self.sds[id]
	return sd, pres
}

// Ids lists the cached security ids in ascending order.
func (self *SecurityCache) Ids() []uint32 {
	result := make([]uint32, 0, len(self.sds))
	for id := range self.sds {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
