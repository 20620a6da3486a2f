package wim

import (
	"fmt"
	"time"
)

// The external compressed-resource layer. It owns the physical WIM
// file; the codec only produces the uncompressed buffer.
type ResourceWriter interface {
	// WriteMetadata compresses and stores the buffer, returning the
	// SHA-1 of the uncompressed bytes.
	WriteMetadata(buf []byte) ([20]byte, error)
}

// PrepareMetadataResource serializes the image into the uncompressed
// metadata resource: security data followed by the dentry tree, with
// each directory's subdir_offset pointing at its child list. An image
// without a root gets an empty filler directory.
func PrepareMetadataResource(img *Image) ([]byte, error) {
	if img.Root == nil {
		img.Root = newFillerDirectory()
	}
	if img.SecurityData == nil {
		img.SecurityData = &SecurityData{}
	}

	root := img.Root
	security_data := img.SecurityData

	// Offset of the first child of the root: the 8-aligned security
	// data, the root dentry itself, and an 8 byte end-of-directory
	// entry following the root.
	subdir_offset := uint64(security_data.TotalLength()) +
		dentryOutTotalLength(root) + 8

	calculateSubdirOffsets(root, &subdir_offset)

	// subdir_offset has advanced past every child list; that is the
	// total length of the uncompressed resource.
	buf := make([]byte, subdir_offset)

	offset := uint64(security_data.serialize(buf, 0))
	offset = writeDentryTree(root, buf, offset)

	// We must have exactly filled the buffer, otherwise the offset
	// assignment and the serialization disagree.
	if offset != uint64(len(buf)) {
		return nil, fmt.Errorf(
			"Metadata resource length mismatch: wrote %d of %d bytes: %w",
			offset, len(buf), ErrInvalidParam)
	}

	return buf, nil
}

// WriteMetadataResource hands the prepared buffer to the external
// resource writer and records the fresh hash on the image. The original
// checksum is overridden, so hash checking is disabled for it.
func WriteMetadataResource(img *Image, out ResourceWriter) error {
	buf, err := PrepareMetadataResource(img)
	if err != nil {
		return err
	}

	hash, err := out.WriteMetadata(buf)
	if err != nil {
		return err
	}

	img.MetadataHash = hash
	img.DontCheckMetadataHash = true
	return nil
}

func newFillerDirectory() *Dentry {
	inode := newInode(0)
	inode.LinkCount = 1
	inode.Attributes = FILE_ATTRIBUTE_DIRECTORY

	now := filetimeFromTime(time.Now())
	inode.CreationTime = now
	inode.LastWriteTime = now
	inode.LastAccessTime = now

	root := &Dentry{Inode: inode}
	root.Parent = root
	return root
}

// calculateSubdirOffsets assigns each directory the absolute offset of
// its child list in a pre-order walk. The offsets point forward, so
// this pass must complete before any byte is emitted.
func calculateSubdirOffsets(dentry *Dentry, subdir_offset *uint64) {
	dentry.subdirOffset = *subdir_offset

	for _, child := range dentry.Children {
		*subdir_offset += dentryOutTotalLength(child)
	}

	// The end-of-directory entry after the children.
	*subdir_offset += 8

	for _, child := range dentry.Children {
		if child.IsDirectory() {
			calculateSubdirOffsets(child, subdir_offset)
		} else {
			child.subdirOffset = 0
		}
	}
}

// writeDentryTree emits the root, its end-of-directory entry and then
// every child list in the same pre-order as the offset assignment.
func writeDentryTree(root *Dentry, buf []byte, offset uint64) uint64 {
	offset = writeDentry(root, buf, offset)
	offset += 8
	return writeChildLists(root, buf, offset)
}

func writeChildLists(parent *Dentry, buf []byte, offset uint64) uint64 {
	for _, child := range parent.Children {
		offset = writeDentry(child, buf, offset)
	}

	// The terminating entry is all zeros, already present in the
	// buffer.
	offset += 8

	for _, child := range parent.Children {
		if child.IsDirectory() {
			offset = writeChildLists(child, buf, offset)
		}
	}

	return offset
}
