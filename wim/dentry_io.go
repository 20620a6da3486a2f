package wim

import (
	"encoding/binary"
	"fmt"
)

// On-disk dentry layout (all little endian, 102 bytes before names):
//
//	u64 length               0 terminates a sibling list
//	u32 attributes
//	u32 security_id          0xFFFFFFFF = none
//	u64 subdir_offset        absolute, 0 if no children
//	u64 unused[2]
//	u64 creation_time
//	u64 last_access_time
//	u64 last_write_time
//	u8  hash[20]             unnamed data stream (reparse stream for
//	                         reparse points)
//	u32 reparse_reserved
//	u32 reparse_tag    \     only for reparse points
//	u16 reparse_unused  \
//	u16 not_rpfixed      }   overlaid on
//	u64 hard_link_group_id   for everything else
//	u16 num_alternate_streams
//	u16 short_name_nbytes
//	u16 file_name_nbytes
//	u16 file_name[]          UTF-16LE + u16 terminator
//	u16 short_name[]         UTF-16LE + u16 terminator
//
// The length field does not include alignment padding; readers step by
// the 8-aligned length. Alternate stream entries follow, each length
// prefixed the same way:
//
//	u64 length
//	u64 unused
//	u8  hash[20]
//	u16 stream_name_nbytes
//	u16 stream_name[] + terminator
//
// This layout is fixed by the WIM file format and is preserved byte
// for byte for compatibility with Windows imaging tools.
const (
	WIM_DENTRY_DISK_SIZE    = 102
	WIM_ADS_ENTRY_DISK_SIZE = 38

	noSecurityId = 0xFFFFFFFF
)

// dentryLengthUnaligned is the value of the on-disk length field: the
// fixed header plus the terminated names.
func dentryLengthUnaligned(dentry *Dentry) uint64 {
	length := uint64(WIM_DENTRY_DISK_SIZE)
	if dentry.Name != "" {
		length += uint64(utf16leLen(dentry.Name)) + 2
	}
	if dentry.ShortName != "" {
		length += uint64(utf16leLen(dentry.ShortName)) + 2
	}
	return length
}

func adsEntryLengthUnaligned(strm *Stream) uint64 {
	return WIM_ADS_ENTRY_DISK_SIZE + uint64(utf16leLen(strm.Name)) + 2
}

// dentryOutTotalLength is the space a dentry occupies within its
// sibling list, including its alternate stream entries and alignment.
func dentryOutTotalLength(dentry *Dentry) uint64 {
	length := align8(dentryLengthUnaligned(dentry))
	for _, strm := range dentry.Inode.NamedDataStreams() {
		length += align8(adsEntryLengthUnaligned(strm))
	}
	return length
}

// The hash stored in the dentry itself: the reparse stream for reparse
// points, else the unnamed data stream.
func dentryMainHash(inode *Inode) [20]byte {
	if inode.IsReparsePoint() {
		if strm := inode.ReparseStream(); strm != nil {
			return strm.Hash
		}
	} else if strm := inode.UnnamedDataStream(); strm != nil {
		return strm.Hash
	}
	return [20]byte{}
}

// writeDentry serializes one dentry (and its alternate stream entries)
// at offset, returning the offset of the next sibling. The buffer is
// zero filled so padding needs no writes.
func writeDentry(dentry *Dentry, buf []byte, offset uint64) uint64 {
	inode := dentry.Inode

	binary.LittleEndian.PutUint64(buf[offset:], dentryLengthUnaligned(dentry))
	binary.LittleEndian.PutUint32(buf[offset+8:], inode.Attributes)

	security_id := uint32(noSecurityId)
	if inode.SecurityId >= 0 {
		security_id = uint32(inode.SecurityId)
	}
	binary.LittleEndian.PutUint32(buf[offset+12:], security_id)

	binary.LittleEndian.PutUint64(buf[offset+16:], dentry.subdirOffset)

	binary.LittleEndian.PutUint64(buf[offset+40:], inode.CreationTime)
	binary.LittleEndian.PutUint64(buf[offset+48:], inode.LastAccessTime)
	binary.LittleEndian.PutUint64(buf[offset+56:], inode.LastWriteTime)

	hash := dentryMainHash(inode)
	copy(buf[offset+64:offset+84], hash[:])

	if inode.IsReparsePoint() {
		binary.LittleEndian.PutUint32(buf[offset+88:], inode.ReparseTag)
		binary.LittleEndian.PutUint16(buf[offset+94:],
			inode.RpFlags&WIM_RP_FLAG_NOT_FIXED)
	} else if inode.LinkCount > 1 {
		binary.LittleEndian.PutUint64(buf[offset+88:], inode.Ino)
	}

	named := inode.NamedDataStreams()
	binary.LittleEndian.PutUint16(buf[offset+96:], uint16(len(named)))
	binary.LittleEndian.PutUint16(buf[offset+98:], uint16(utf16leLen(dentry.ShortName)))
	binary.LittleEndian.PutUint16(buf[offset+100:], uint16(utf16leLen(dentry.Name)))

	p := offset + WIM_DENTRY_DISK_SIZE
	if dentry.Name != "" {
		p += uint64(copy(buf[p:], utf16leBytes(dentry.Name)))
		p += 2 // terminator
	}
	if dentry.ShortName != "" {
		copy(buf[p:], utf16leBytes(dentry.ShortName))
	}

	offset += align8(dentryLengthUnaligned(dentry))

	for _, strm := range named {
		binary.LittleEndian.PutUint64(buf[offset:], adsEntryLengthUnaligned(strm))
		copy(buf[offset+16:offset+36], strm.Hash[:])
		binary.LittleEndian.PutUint16(buf[offset+36:], uint16(utf16leLen(strm.Name)))
		copy(buf[offset+WIM_ADS_ENTRY_DISK_SIZE:], utf16leBytes(strm.Name))
		offset += align8(adsEntryLengthUnaligned(strm))
	}

	return offset
}

// readDentry decodes the dentry at offset. Returns (nil, 8, nil) for
// an end-of-directory entry. The second return value is the total
// aligned space the entry occupies, including alternate stream
// entries.
func readDentry(buf []byte, offset uint64) (*Dentry, uint64, error) {
	if offset >= uint64(len(buf)) || uint64(len(buf))-offset < 8 {
		return nil, 0, fmt.Errorf(
			"Dentry length field at offset %d overruns the %d byte resource: %w",
			offset, len(buf), ErrInvalidMetadataResource)
	}

	length := binary.LittleEndian.Uint64(buf[offset:])
	if length == 0 {
		return nil, 8, nil
	}

	if length < WIM_DENTRY_DISK_SIZE {
		return nil, 0, fmt.Errorf(
			"Dentry at offset %d is only %d bytes: %w",
			offset, length, ErrInvalidMetadataResource)
	}
	if length > uint64(len(buf)) || offset > uint64(len(buf))-length {
		return nil, 0, fmt.Errorf(
			"Dentry of %d bytes at offset %d overruns the %d byte resource: %w",
			length, offset, len(buf), ErrInvalidMetadataResource)
	}

	attributes := binary.LittleEndian.Uint32(buf[offset+8:])
	security_id := binary.LittleEndian.Uint32(buf[offset+12:])
	subdir_offset := binary.LittleEndian.Uint64(buf[offset+16:])

	num_ads := binary.LittleEndian.Uint16(buf[offset+96:])
	short_name_nbytes := binary.LittleEndian.Uint16(buf[offset+98:])
	file_name_nbytes := binary.LittleEndian.Uint16(buf[offset+100:])

	if file_name_nbytes%2 != 0 || short_name_nbytes%2 != 0 {
		return nil, 0, fmt.Errorf(
			"Dentry at offset %d has odd name lengths: %w",
			offset, ErrInvalidMetadataResource)
	}

	calculated := uint64(WIM_DENTRY_DISK_SIZE)
	if file_name_nbytes != 0 {
		calculated += uint64(file_name_nbytes) + 2
	}
	if short_name_nbytes != 0 {
		calculated += uint64(short_name_nbytes) + 2
	}
	if calculated > length {
		return nil, 0, fmt.Errorf(
			"Dentry at offset %d is too short for its names (%d > %d): %w",
			offset, calculated, length, ErrInvalidMetadataResource)
	}

	inode := newInode(0)
	inode.Attributes = attributes
	inode.CreationTime = binary.LittleEndian.Uint64(buf[offset+40:])
	inode.LastAccessTime = binary.LittleEndian.Uint64(buf[offset+48:])
	inode.LastWriteTime = binary.LittleEndian.Uint64(buf[offset+56:])
	inode.RpFlags = 0

	if security_id != noSecurityId {
		inode.SecurityId = int32(security_id)
	}

	var hash [20]byte
	copy(hash[:], buf[offset+64:offset+84])

	if inode.IsReparsePoint() {
		inode.ReparseTag = binary.LittleEndian.Uint32(buf[offset+88:])
		inode.RpFlags = binary.LittleEndian.Uint16(buf[offset+94:]) &
			WIM_RP_FLAG_NOT_FIXED
		inode.AddStream(STREAM_TYPE_REPARSE_POINT, "", nil).Hash = hash
	} else {
		inode.Ino = binary.LittleEndian.Uint64(buf[offset+88:])
		if !inode.IsDirectory() {
			inode.AddStream(STREAM_TYPE_DATA, "", nil).Hash = hash
		}
	}

	p := offset + WIM_DENTRY_DISK_SIZE
	dentry := &Dentry{Inode: inode}
	dentry.subdirOffset = subdir_offset
	if file_name_nbytes != 0 {
		dentry.Name = utf16leString(buf[p : p+uint64(file_name_nbytes)])
		p += uint64(file_name_nbytes) + 2
	}
	if short_name_nbytes != 0 {
		dentry.ShortName = utf16leString(buf[p : p+uint64(short_name_nbytes)])
	}

	total := align8(length)
	for i := uint16(0); i < num_ads; i++ {
		consumed, err := readAdsEntry(buf, offset+total, inode)
		if err != nil {
			return nil, 0, err
		}
		total += consumed
	}

	return dentry, total, nil
}

func readAdsEntry(buf []byte, offset uint64, inode *Inode) (uint64, error) {
	if offset >= uint64(len(buf)) ||
		uint64(len(buf))-offset < WIM_ADS_ENTRY_DISK_SIZE {
		return 0, fmt.Errorf(
			"Alternate stream entry at offset %d overruns the %d byte resource: %w",
			offset, len(buf), ErrInvalidMetadataResource)
	}

	length := binary.LittleEndian.Uint64(buf[offset:])
	if length < WIM_ADS_ENTRY_DISK_SIZE {
		return 0, fmt.Errorf(
			"Alternate stream entry at offset %d is only %d bytes: %w",
			offset, length, ErrInvalidMetadataResource)
	}
	if length > uint64(len(buf)) || offset > uint64(len(buf))-length {
		return 0, fmt.Errorf(
			"Alternate stream entry of %d bytes at offset %d overruns the "+
				"%d byte resource: %w",
			length, offset, len(buf), ErrInvalidMetadataResource)
	}

	name_nbytes := binary.LittleEndian.Uint16(buf[offset+36:])
	if name_nbytes%2 != 0 ||
		(name_nbytes != 0 &&
			uint64(WIM_ADS_ENTRY_DISK_SIZE)+uint64(name_nbytes)+2 > length) {
		return 0, fmt.Errorf(
			"Alternate stream entry at offset %d has an invalid name length %d: %w",
			offset, name_nbytes, ErrInvalidMetadataResource)
	}

	// Some writers emit an unnamed entry for reparse data; the dentry
	// hash already carries that stream.
	if name_nbytes == 0 {
		Warningf("Ignoring unnamed alternate stream entry at offset %d", offset)
		return align8(length), nil
	}

	var hash [20]byte
	copy(hash[:], buf[offset+16:offset+36])

	p := offset + WIM_ADS_ENTRY_DISK_SIZE
	name := utf16leString(buf[p : p+uint64(name_nbytes)])

	inode.AddStream(STREAM_TYPE_DATA, name, nil).Hash = hash

	return align8(length), nil
}
