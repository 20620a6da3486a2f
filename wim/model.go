package wim

// This file defines the in-memory model shared by the volume scanner
// and the metadata resource codec: the image, its dentry tree, the
// inodes and their streams.

// Windows file attribute flags preserved in the image metadata.
const (
	FILE_ATTRIBUTE_READONLY      = 0x00000001
	FILE_ATTRIBUTE_HIDDEN        = 0x00000002
	FILE_ATTRIBUTE_SYSTEM        = 0x00000004
	FILE_ATTRIBUTE_DIRECTORY     = 0x00000010
	FILE_ATTRIBUTE_ARCHIVE       = 0x00000020
	FILE_ATTRIBUTE_NORMAL        = 0x00000080
	FILE_ATTRIBUTE_SPARSE_FILE   = 0x00000200
	FILE_ATTRIBUTE_REPARSE_POINT = 0x00000400
	FILE_ATTRIBUTE_COMPRESSED    = 0x00000800
	FILE_ATTRIBUTE_ENCRYPTED     = 0x00004000
)

const (
	IO_REPARSE_TAG_MOUNT_POINT = 0xA0000003
	IO_REPARSE_TAG_SYMLINK     = 0xA000000C
)

// Reparse flag stored on an inode. NOT_FIXED means the reparse target
// has not been adjusted relative to the capture root. A full volume
// capture is self consistent, so the RPFIX policy clears it.
const WIM_RP_FLAG_NOT_FIXED uint16 = 0x0001

type StreamType int

const (
	STREAM_TYPE_DATA StreamType = iota
	STREAM_TYPE_REPARSE_POINT
	STREAM_TYPE_UNKNOWN
)

// A Stream is one data item of an inode: the unnamed data stream, a
// named alternate data stream, or the reparse point stream. The Hash
// is filled in by the external hashing pipeline; Blob is nil for an
// empty stream.
type Stream struct {
	Type StreamType
	Name string
	Hash [20]byte
	Blob *BlobDescriptor
}

// An Inode represents one file object. Several dentries may share it
// (hard links); LinkCount equals the number of dentries referring to
// it within the image.
type Inode struct {
	// The volume inode number during capture, or the hard link
	// group id after a metadata decode (0 = not linked).
	Ino uint64

	LinkCount uint32

	// Windows FILETIME values, as stored on disk.
	CreationTime   uint64
	LastWriteTime  uint64
	LastAccessTime uint64

	Attributes uint32
	ReparseTag uint32
	RpFlags    uint16

	// Index into the image's security descriptor table, -1 = none.
	SecurityId int32

	Streams []*Stream
}

func newInode(ino uint64) *Inode {
	return &Inode{
		Ino:        ino,
		SecurityId: -1,
		RpFlags:    WIM_RP_FLAG_NOT_FIXED,
	}
}

func (self *Inode) IsDirectory() bool {
	return self.Attributes&FILE_ATTRIBUTE_DIRECTORY != 0
}

func (self *Inode) IsReparsePoint() bool {
	return self.Attributes&FILE_ATTRIBUTE_REPARSE_POINT != 0
}

// A symlink for reparse fixup purposes is a real symlink or a junction
// (mount point).
func (self *Inode) IsSymlink() bool {
	return self.IsReparsePoint() &&
		(self.ReparseTag == IO_REPARSE_TAG_SYMLINK ||
			self.ReparseTag == IO_REPARSE_TAG_MOUNT_POINT)
}

func (self *Inode) AddStream(stype StreamType, name string, blob *BlobDescriptor) *Stream {
	strm := &Stream{Type: stype, Name: name, Blob: blob}
	self.Streams = append(self.Streams, strm)
	return strm
}

func (self *Inode) UnnamedDataStream() *Stream {
	for _, strm := range self.Streams {
		if strm.Type == STREAM_TYPE_DATA && strm.Name == "" {
			return strm
		}
	}
	return nil
}

func (self *Inode) ReparseStream() *Stream {
	for _, strm := range self.Streams {
		if strm.Type == STREAM_TYPE_REPARSE_POINT {
			return strm
		}
	}
	return nil
}

func (self *Inode) NamedDataStreams() []*Stream {
	result := []*Stream{}
	for _, strm := range self.Streams {
		if strm.Type == STREAM_TYPE_DATA && strm.Name != "" {
			result = append(result, strm)
		}
	}
	return result
}

// A Dentry is a directory entry node. Many dentries may share one
// inode. The root dentry is its own parent and has an empty name.
type Dentry struct {
	Name        string
	ShortName   string
	IsWin32Name bool

	Inode    *Inode
	Parent   *Dentry
	Children []*Dentry

	// Absolute offset of the first child entry, assigned during
	// metadata serialization and recorded during decode.
	subdirOffset uint64
}

func (self *Dentry) IsRoot() bool {
	return self.Parent == self
}

func (self *Dentry) IsDirectory() bool {
	return self.Inode != nil && self.Inode.IsDirectory()
}

func (self *Dentry) AddChild(child *Dentry) {
	child.Parent = self
	self.Children = append(self.Children, child)
}

// Walk visits the dentry tree in pre-order. A non-nil return from the
// callback stops the walk.
func (self *Dentry) Walk(cb func(*Dentry) error) error {
	if err := cb(self); err != nil {
		return err
	}
	for _, child := range self.Children {
		if err := child.Walk(cb); err != nil {
			return err
		}
	}
	return nil
}

func (self *Dentry) FullPath() string {
	if self.IsRoot() || self.Parent == nil {
		return "/"
	}
	parent := self.Parent.FullPath()
	if parent == "/" {
		return "/" + self.Name
	}
	return parent + "/" + self.Name
}

// Image is the in-memory form of one WIM image: the security data, the
// dentry tree and the inode list. UnhashedBlobs are freshly discovered
// payloads whose content hash has not been computed yet; the external
// hashing pipeline registers them with the blob table.
type Image struct {
	Root         *Dentry
	SecurityData *SecurityData
	Inodes       []*Inode

	UnhashedBlobs []*BlobDescriptor

	// The SHA-1 of the serialized metadata resource, filled in by
	// WriteMetadataResource.
	MetadataHash          [20]byte
	DontCheckMetadataHash bool
}
