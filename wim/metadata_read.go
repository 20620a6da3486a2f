package wim

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"sort"
)

// ReadMetadataResource parses a decompressed metadata resource: the
// security data block followed by the pre-order serialization of the
// dentry tree. expected_hash is the SHA-1 recorded in the resource
// entry; pass dont_check_hash (or a nil hash) to skip verification.
//
// All errors are fatal to the operation; no partial image is returned.
func ReadMetadataResource(buf []byte, expected_hash []byte,
	dont_check_hash bool) (*Image, error) {

	// There is no way the metadata resource could possibly be less
	// than this: 8 bytes of (empty) security data plus the length
	// field of the root dentry. A buffer this small can only be an
	// empty image; anything larger is bounds checked as it is
	// parsed.
	if len(buf) < 16 {
		return nil, fmt.Errorf(
			"Expected at least 16 bytes for the metadata resource, got %d: %w",
			len(buf), ErrInvalidMetadataResource)
	}

	if !dont_check_hash && expected_hash != nil {
		actual := sha1.Sum(buf)
		if !bytes.Equal(actual[:], expected_hash) {
			return nil, fmt.Errorf(
				"Metadata resource is corrupted (invalid SHA-1 message digest): %w",
				ErrInvalidMetadataResource)
		}
	}

	security_data, security_length, err := readSecurityData(buf)
	if err != nil {
		return nil, err
	}

	img := &Image{SecurityData: security_data}

	// The root dentry starts just after the security data, whose
	// stored total length is already 8-aligned.
	root, root_length, err := readDentry(buf, security_length)
	if err != nil {
		return nil, err
	}

	if root == nil {
		Warningf("Metadata resource begins with end-of-directory entry " +
			"(treating as empty image)")
		return img, nil
	}

	if root.Name != "" || root.ShortName != "" {
		Warningf("The root directory has a nonempty name (removing it)")
		root.Name = ""
		root.ShortName = ""
	}

	if !root.IsDirectory() {
		return nil, fmt.Errorf("Root of the WIM image must be a directory: %w",
			ErrInvalidMetadataResource)
	}

	// This is the root dentry, so set its parent to itself.
	root.Parent = root

	extents := &extentSet{}
	extents.insert(security_length, security_length+root_length)

	if err := readDentryTree(buf, root, extents); err != nil {
		return nil, err
	}

	inodes, err := dentryTreeFixInodes(root)
	if err != nil {
		return nil, err
	}

	for _, inode := range inodes {
		if err := verifyInode(inode, security_data); err != nil {
			return nil, err
		}
	}

	img.Root = root
	img.Inodes = inodes
	return img, nil
}

// extentSet tracks the byte ranges the tree walk has consumed, sorted
// and non-overlapping.
type extentSet struct {
	spans []extent
}

type extent struct {
	start, end uint64
}

// insert adds [start, end) to the set. Returns false if the range
// overlaps an already inserted one.
func (self *extentSet) insert(start, end uint64) bool {
	idx := sort.Search(len(self.spans), func(i int) bool {
		return self.spans[i].end > start
	})
	if idx < len(self.spans) && self.spans[idx].start < end {
		return false
	}

	self.spans = append(self.spans, extent{})
	copy(self.spans[idx+1:], self.spans[idx:])
	self.spans[idx] = extent{start: start, end: end}
	return true
}

// readDentryTree walks the tree in pre-order, reading each directory's
// child list at its subdir_offset. Child lists end with an entry whose
// length field is 0. Every byte range is visited at most once: a
// subdir_offset aliasing bytes already consumed by another entry
// (whether a list start, an interior sibling, or a cycle back up the
// tree) is rejected.
func readDentryTree(buf []byte, root *Dentry, extents *extentSet) error {
	return readChildren(buf, root, extents)
}

func readChildren(buf []byte, parent *Dentry, extents *extentSet) error {
	offset := parent.subdirOffset
	if offset == 0 {
		return nil
	}

	for {
		child, consumed, err := readDentry(buf, offset)
		if err != nil {
			return err
		}

		// The end-of-directory entry counts too; tracking it keeps
		// even empty child lists disjoint.
		if !extents.insert(offset, offset+consumed) {
			return fmt.Errorf(
				"Dentry at offset %d overlaps an already parsed entry: %w",
				offset, ErrInvalidMetadataResource)
		}

		if child == nil {
			break
		}

		child.Parent = parent
		parent.Children = append(parent.Children, child)
		offset += consumed
	}

	for _, child := range parent.Children {
		if child.subdirOffset == 0 {
			continue
		}
		if !child.IsDirectory() {
			Warningf("Ignoring children of non-directory dentry %q", child.Name)
			continue
		}
		if err := readChildren(buf, child, extents); err != nil {
			return err
		}
	}

	return nil
}

// dentryTreeFixInodes collapses dentries sharing a hard link group id
// into one inode object and rebuilds the image's inode list. Group id
// 0 means the dentry is not hard linked.
func dentryTreeFixInodes(root *Dentry) ([]*Inode, error) {
	groups := make(map[uint64]*Inode)
	inodes := []*Inode{}

	err := root.Walk(func(dentry *Dentry) error {
		inode := dentry.Inode

		if inode.Ino != 0 {
			existing, pres := groups[inode.Ino]
			if pres {
				if !streamsConsistent(existing, inode) {
					return fmt.Errorf(
						"Hard link group %d has inconsistent streams: %w",
						inode.Ino, ErrInvalidMetadataResource)
				}
				dentry.Inode = existing
				existing.LinkCount++
				return nil
			}
			groups[inode.Ino] = inode
		}

		inode.LinkCount = 1
		inodes = append(inodes, inode)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return inodes, nil
}

func streamsConsistent(a, b *Inode) bool {
	if a.Attributes != b.Attributes || len(a.Streams) != len(b.Streams) {
		return false
	}
	for i, strm := range a.Streams {
		other := b.Streams[i]
		if strm.Type != other.Type || strm.Name != other.Name ||
			strm.Hash != other.Hash {
			return false
		}
	}
	return true
}

func verifyInode(inode *Inode, security_data *SecurityData) error {
	if inode.SecurityId < -1 ||
		inode.SecurityId >= int32(security_data.NumEntries()) {
		return fmt.Errorf(
			"Inode references security descriptor %d outside the table of %d: %w",
			inode.SecurityId, security_data.NumEntries(),
			ErrInvalidMetadataResource)
	}
	return nil
}
