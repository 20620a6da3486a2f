package wim

import (
	"encoding/binary"
	"fmt"

	"www.velocidex.com/golang/go-ntfs/parser"
)

type AddFlags uint32

const (
	// Do not capture security descriptors.
	ADD_FLAG_NO_ACLS AddFlags = 1 << iota

	// Mark symlink reparse data as fixed. A full volume capture is
	// always self consistent.
	ADD_FLAG_RPFIX

	// Fail on files the scanner cannot capture (encrypted files)
	// instead of excluding them.
	ADD_FLAG_NO_UNSUPPORTED_EXCLUDE
)

type ScanEvent int

const (
	SCAN_DENTRY_OK ScanEvent = iota
	SCAN_DENTRY_EXCLUDED
	SCAN_DENTRY_UNSUPPORTED
)

// CaptureParams hooks the scanner up to its driver. Every callback may
// cancel the walk by returning a non-nil error, which propagates
// upward immediately.
type CaptureParams struct {
	Flags AddFlags

	// Exclude decides whether a path is skipped. A skipped
	// directory is not descended into.
	Exclude func(path string) (bool, error)

	// Progress is reported once per visited entry.
	Progress func(event ScanEvent, path string, inode *Inode) error

	// CaptureError sees every per-entry error and may suppress it
	// by returning nil, in which case the entry's subtree is
	// dropped and the scan continues.
	CaptureError func(path string, err error) error
}

type captureCtx struct {
	volume   *Volume
	params   *CaptureParams
	inodes   *InodeTable
	sd_set   *SDSet
	security *SecurityCache

	unhashed_blobs []*BlobDescriptor
}

// CaptureNTFSImage mounts a volume read-only and scans it into an
// in-memory image. The volume handle is released through the normal
// reference counting path: the capture itself holds one reference and
// each blob descriptor another, so the volume stays mounted while the
// returned image still references file data.
func CaptureNTFSImage(device string, params *CaptureParams) (*Image, error) {
	vol, err := MountVolumeReadOnly(device, 0)
	if err != nil {
		return nil, err
	}
	defer vol.Put()

	return CaptureVolume(vol, params)
}

// CaptureVolume scans an already mounted volume into an image.
func CaptureVolume(vol *Volume, params *CaptureParams) (*Image, error) {
	if params == nil {
		params = &CaptureParams{}
	}

	ctx := &captureCtx{
		volume: vol,
		params: params,
		inodes: NewInodeTable(),
		sd_set: NewSDSet(),
	}

	if params.Flags&ADD_FLAG_NO_ACLS == 0 {
		security, err := LoadSecurityCache(vol)
		if err != nil {
			Warningf("Unable to read the $Secure descriptor stream: %v", err)
		} else {
			ctx.security = security
		}
	}

	root, err := ctx.buildDentryTree(rootMftEntry, "/", "POSIX")
	if err != nil {
		// A failed capture owns its blob descriptors; balance the
		// volume references they took.
		for _, blob := range ctx.unhashed_blobs {
			blob.Close()
		}
		return nil, err
	}

	if root != nil {
		root.Parent = root
	}

	return &Image{
		Root:          root,
		SecurityData:  ctx.sd_set.SecurityData,
		Inodes:        ctx.inodes.Inodes(),
		UnhashedBlobs: ctx.unhashed_blobs,
	}, nil
}

func (self *captureCtx) progress(event ScanEvent, path string, inode *Inode) error {
	if self.params.Progress != nil {
		return self.params.Progress(event, path, inode)
	}
	return nil
}

// captureError tears down the partially built subtree and hands the
// error to the capture-error hook, which may downgrade it to
// "continue".
func (self *captureCtx) captureError(dentry *Dentry, path string, err error) (*Dentry, error) {
	self.releaseDentryTree(dentry)
	if self.params.CaptureError != nil {
		err = self.params.CaptureError(path, err)
	}
	return nil, err
}

func (self *captureCtx) releaseDentryTree(dentry *Dentry) {
	if dentry == nil {
		return
	}

	for _, child := range dentry.Children {
		self.releaseDentryTree(child)
	}

	inode := dentry.Inode
	if inode == nil {
		return
	}

	inode.LinkCount--
	if inode.LinkCount == 0 {
		for _, strm := range inode.Streams {
			if strm.Blob != nil {
				strm.Blob.Close()
				self.dropUnhashedBlob(strm.Blob)
			}
		}
		self.inodes.Remove(inode)
	}
}

func (self *captureCtx) dropUnhashedBlob(blob *BlobDescriptor) {
	for i, other := range self.unhashed_blobs {
		if other == blob {
			self.unhashed_blobs = append(
				self.unhashed_blobs[:i], self.unhashed_blobs[i+1:]...)
			return
		}
	}
}

// buildDentryTree scans one inode and, for directories, recurses over
// its entries. Returns a nil dentry (with nil error) for excluded and
// unsupported entries.
func (self *captureCtx) buildDentryTree(mft_id int64, path string, name_type string) (
	*Dentry, error) {

	ntfs := self.volume.Context()

	if self.params.Exclude != nil {
		excluded, err := self.params.Exclude(path)
		if err != nil {
			return nil, err
		}
		if excluded {
			return nil, self.progress(SCAN_DENTRY_EXCLUDED, path, nil)
		}
	}

	mft, err := ntfs.GetMFT(mft_id)
	if err != nil {
		return self.captureError(nil, path, fmt.Errorf(
			"Failed to open NTFS file %q (inode %d): %v: %w",
			path, mft_id, err, ErrNTFS))
	}

	si, err := mft.StandardInformation(ntfs)
	if err != nil {
		return self.captureError(nil, path, fmt.Errorf(
			"Failed to get NTFS attributes from %q: %v: %w", path, err, ErrNTFS))
	}

	is_dir := mft.IsDir(ntfs)
	attributes := uint32(si.Flags().Value)
	if is_dir {
		attributes |= FILE_ATTRIBUTE_DIRECTORY
	}

	if attributes&FILE_ATTRIBUTE_ENCRYPTED != 0 {
		if self.params.Flags&ADD_FLAG_NO_UNSUPPORTED_EXCLUDE != 0 {
			return self.captureError(nil, path, fmt.Errorf(
				"Can't archive %q because the capture mode does not support "+
					"encrypted files and directories: %w", path, ErrUnsupportedFile))
		}
		return nil, self.progress(SCAN_DENTRY_UNSUPPORTED, path, nil)
	}

	dentry, inode := self.inodes.NewDentry(pathBasename(path), uint64(mft.Record_number()))
	if name_type == "Win32" || name_type == "DOS+Win32" {
		dentry.IsWin32Name = true
	}

	if inode.LinkCount > 1 {
		// Shared inode; nothing more to do.
		return dentry, self.progress(SCAN_DENTRY_OK, path, inode)
	}

	inode.CreationTime = filetimeFromTime(si.Create_time().Time)
	inode.LastWriteTime = filetimeFromTime(si.File_altered_time().Time)
	inode.LastAccessTime = filetimeFromTime(si.File_accessed_time().Time)
	inode.Attributes = attributes

	if attributes&FILE_ATTRIBUTE_REPARSE_POINT != 0 {
		err := self.scanAttrsWithType(inode, mft, path, STREAM_TYPE_REPARSE_POINT)
		if err != nil {
			return self.captureError(dentry, path, err)
		}
	}

	// Directories should not have an unnamed data stream, but they
	// may have named data streams. Nondirectories (including reparse
	// points) can have both.
	err = self.scanAttrsWithType(inode, mft, path, STREAM_TYPE_DATA)
	if err != nil {
		return self.captureError(dentry, path, err)
	}

	if self.params.Flags&ADD_FLAG_RPFIX != 0 && inode.IsSymlink() {
		inode.RpFlags &^= WIM_RP_FLAG_NOT_FIXED
	}

	if self.params.Flags&ADD_FLAG_NO_ACLS == 0 && self.security != nil {
		sd, pres := self.security.Lookup(si.Sid())
		if pres {
			inode.SecurityId = self.sd_set.Add(sd)
		}
	}

	if is_dir {
		err := self.recurseDirectory(mft, path, dentry)
		if err != nil {
			return self.captureError(dentry, path, err)
		}
	}

	return dentry, self.progress(SCAN_DENTRY_OK, path, inode)
}

// recurseDirectory iterates the I30 index of a directory, recursing
// into every Win32/POSIX entry and collecting DOS names for pairing.
func (self *captureCtx) recurseDirectory(mft *parser.MFT_ENTRY,
	path string, parent *Dentry) error {

	ntfs := self.volume.Context()
	dos_names := newDosNameMap()

	for _, record := range mft.Dir(ntfs) {
		file := record.File()
		name := file.Name()
		if name == "" || name == "." || name == ".." {
			continue
		}

		ino := record.MftReference()

		// The NTFS metafiles ($MFT, $Bitmap, ...) are not part of
		// the image. Not to be confused with "hidden" or "system"
		// files, which are captured.
		if ino < firstUserMftEntry {
			continue
		}

		name_type := file.NameType().Name

		if name_type == "DOS" || name_type == "DOS+Win32" {
			// The DOS name is stored for later pairing.
			dos_names.Insert(ino, name)
			if name_type == "DOS" {
				continue
			}
		}

		child_path := path
		if child_path != "/" {
			child_path += "/"
		}
		child_path += name

		child, err := self.buildDentryTree(int64(ino), child_path, name_type)
		if err != nil {
			return err
		}
		if child != nil {
			parent.AddChild(child)
		}
	}

	for _, child := range parent.Children {
		dos_names.setDentryDosName(child)
	}
	dos_names.Drain()

	return nil
}

func (self *captureCtx) scanAttrsWithType(inode *Inode, mft *parser.MFT_ENTRY,
	path string, stype StreamType) error {

	ntfs := self.volume.Context()

	attr_type := uint64(ntfsAttrData)
	if stype == STREAM_TYPE_REPARSE_POINT {
		attr_type = ntfsAttrReparsePoint
	}

	for _, attr := range mft.EnumerateAttributes(ntfs) {
		if attr.Type().Value != attr_type {
			continue
		}

		// Extension records covering later VCNs belong to a stream
		// we already saw.
		if !attr.IsResident() && attr.Runlist_vcn_start() != 0 {
			continue
		}

		err := self.scanAttr(inode, mft, attr, path, stype)
		if err != nil {
			return err
		}
	}

	return nil
}

// scanAttr saves one NTFS attribute (stream) to the inode, attaching a
// deferred blob descriptor when the attribute is non-empty.
func (self *captureCtx) scanAttr(inode *Inode, mft *parser.MFT_ENTRY,
	attr *parser.NTFS_ATTRIBUTE, path string, stype StreamType) error {

	name := attr.Name()

	// The attribute value length is authoritative for both resident
	// and non-resident attributes; allocated or compressed sizes
	// would corrupt payloads.
	data_size := attr.DataSize()

	var blob *BlobDescriptor
	if data_size != 0 {
		blob = &BlobDescriptor{
			Location: BLOB_IN_NTFS_VOLUME,
			Size:     data_size,
			Ntfs: &NtfsLocation{
				Volume:   self.volume.Get(),
				MftNo:    uint64(mft.Record_number()),
				AttrType: attr.Type().Value,
				AttrName: name,
				SortKey:  attrSortKey(attr),
			},
		}

		if stype == STREAM_TYPE_REPARSE_POINT {
			if data_size < reparseDataOffset {
				blob.Close()
				return fmt.Errorf(
					"Reparse data of %q is invalid (only %d bytes): %w",
					path, data_size, ErrInvalidReparseData)
			}
			blob.Size -= reparseDataOffset

			tag, err := readReparseTag(self.volume.Context(), attr)
			if err != nil {
				blob.Close()
				return fmt.Errorf("Error reading reparse data of %q: %v: %w",
					path, err, ErrNTFS)
			}
			inode.ReparseTag = tag
		}
	}

	inode.AddStream(stype, name, blob)
	if blob != nil {
		self.unhashed_blobs = append(self.unhashed_blobs, blob)
	}

	return nil
}

// attrSortKey is the starting LCN of the attribute's first allocated
// extent, or 0 if the attribute is resident or begins with a hole.
func attrSortKey(attr *parser.NTFS_ATTRIBUTE) uint64 {
	if attr.IsResident() {
		return 0
	}

	runs := attr.RunList()
	if len(runs) == 0 || runs[0].RelativeUrnOffset <= 0 {
		return 0
	}
	return uint64(runs[0].RelativeUrnOffset)
}

func readReparseTag(ntfs *parser.NTFSContext, attr *parser.NTFS_ATTRIBUTE) (
	uint32, error) {

	var buf [4]byte
	n, _ := attr.Data(ntfs).ReadAt(buf[:], 0)
	if n != len(buf) {
		return 0, fmt.Errorf("Short read of the reparse tag: %w", ErrRead)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

