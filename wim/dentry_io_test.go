package wim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHash(seed byte) [20]byte {
	var hash [20]byte
	for i := range hash {
		hash[i] = seed
	}
	return hash
}

func TestAlign8(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), align8(0))
	assert.Equal(uint64(8), align8(1))
	assert.Equal(uint64(8), align8(8))
	assert.Equal(uint64(152), align8(146))
}

func TestUTF16Names(t *testing.T) {
	assert := assert.New(t)

	for _, name := range []string{"hello.txt", "héllo", "中文"} {
		assert.Equal(name, utf16leString(utf16leBytes(name)))
		assert.Equal(len(utf16leBytes(name)), utf16leLen(name))
	}

	assert.Equal(18, utf16leLen("hello.txt"))
}

func TestFiletimeRoundTrip(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(ts, filetimeToTime(filetimeFromTime(ts)))
}

func TestDentryOutTotalLength(t *testing.T) {
	assert := assert.New(t)

	inode := newInode(0)
	inode.LinkCount = 1
	dentry := &Dentry{Inode: inode}

	// A nameless dentry is the bare 102 byte header, aligned.
	assert.Equal(uint64(102), dentryLengthUnaligned(dentry))
	assert.Equal(uint64(104), dentryOutTotalLength(dentry))

	dentry.Name = "hello.txt"
	assert.Equal(uint64(102+18+2), dentryLengthUnaligned(dentry))

	dentry.ShortName = "HELLO~1.TXT"
	assert.Equal(uint64(102+20+24), dentryLengthUnaligned(dentry))
	assert.Equal(uint64(152), dentryOutTotalLength(dentry))

	// A named stream adds its aligned 38 byte entry.
	inode.AddStream(STREAM_TYPE_DATA, "ads", nil)
	assert.Equal(uint64(152+48), dentryOutTotalLength(dentry))
}

func TestDentryRoundTrip(t *testing.T) {
	assert := assert.New(t)

	t0 := filetimeFromTime(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))

	inode := newInode(0)
	inode.LinkCount = 1
	inode.Attributes = FILE_ATTRIBUTE_ARCHIVE
	inode.CreationTime = t0
	inode.LastWriteTime = t0 + 1
	inode.LastAccessTime = t0 + 2
	inode.SecurityId = 3
	inode.AddStream(STREAM_TYPE_DATA, "", nil).Hash = testHash(1)
	inode.AddStream(STREAM_TYPE_DATA, "ads", nil).Hash = testHash(2)

	dentry := &Dentry{
		Name:      "hello.txt",
		ShortName: "HELLO~1.TXT",
		Inode:     inode,
	}

	buf := make([]byte, dentryOutTotalLength(dentry))
	end := writeDentry(dentry, buf, 0)
	assert.Equal(uint64(len(buf)), end)

	decoded, consumed, err := readDentry(buf, 0)
	assert.NoError(err)
	assert.Equal(uint64(len(buf)), consumed)

	assert.Equal(dentry.Name, decoded.Name)
	assert.Equal(dentry.ShortName, decoded.ShortName)
	assert.Equal(inode.Attributes, decoded.Inode.Attributes)
	assert.Equal(inode.CreationTime, decoded.Inode.CreationTime)
	assert.Equal(inode.LastWriteTime, decoded.Inode.LastWriteTime)
	assert.Equal(inode.LastAccessTime, decoded.Inode.LastAccessTime)
	assert.Equal(int32(3), decoded.Inode.SecurityId)

	assert.Equal(2, len(decoded.Inode.Streams))
	assert.Equal(testHash(1), decoded.Inode.UnnamedDataStream().Hash)
	named := decoded.Inode.NamedDataStreams()
	assert.Equal(1, len(named))
	assert.Equal("ads", named[0].Name)
	assert.Equal(testHash(2), named[0].Hash)
}

func TestDentryRoundTripReparse(t *testing.T) {
	assert := assert.New(t)

	inode := newInode(0)
	inode.LinkCount = 1
	inode.Attributes = FILE_ATTRIBUTE_REPARSE_POINT
	inode.ReparseTag = IO_REPARSE_TAG_SYMLINK
	inode.RpFlags = WIM_RP_FLAG_NOT_FIXED
	inode.AddStream(STREAM_TYPE_REPARSE_POINT, "", nil).Hash = testHash(4)

	dentry := &Dentry{Name: "symlink", Inode: inode}

	buf := make([]byte, dentryOutTotalLength(dentry))
	writeDentry(dentry, buf, 0)

	decoded, _, err := readDentry(buf, 0)
	assert.NoError(err)

	assert.Equal(uint32(IO_REPARSE_TAG_SYMLINK), decoded.Inode.ReparseTag)
	assert.Equal(WIM_RP_FLAG_NOT_FIXED, decoded.Inode.RpFlags)

	strm := decoded.Inode.ReparseStream()
	assert.NotNil(strm)
	assert.Equal(testHash(4), strm.Hash)
	assert.Nil(decoded.Inode.UnnamedDataStream())
}

func TestDentryHardLinkGroupId(t *testing.T) {
	assert := assert.New(t)

	inode := newInode(777)
	inode.LinkCount = 2
	inode.Attributes = FILE_ATTRIBUTE_ARCHIVE

	dentry := &Dentry{Name: "link1", Inode: inode}
	buf := make([]byte, dentryOutTotalLength(dentry))
	writeDentry(dentry, buf, 0)

	decoded, _, err := readDentry(buf, 0)
	assert.NoError(err)
	assert.Equal(uint64(777), decoded.Inode.Ino)

	// Unlinked inodes serialize a group id of 0 regardless of their
	// volume inode number.
	inode.LinkCount = 1
	buf = make([]byte, dentryOutTotalLength(dentry))
	writeDentry(dentry, buf, 0)

	decoded, _, err = readDentry(buf, 0)
	assert.NoError(err)
	assert.Equal(uint64(0), decoded.Inode.Ino)
}

func TestDentryTruncated(t *testing.T) {
	assert := assert.New(t)

	inode := newInode(0)
	inode.LinkCount = 1
	dentry := &Dentry{Name: "hello.txt", Inode: inode}

	buf := make([]byte, dentryOutTotalLength(dentry))
	writeDentry(dentry, buf, 0)

	// Cut the buffer short of the declared dentry length.
	_, _, err := readDentry(buf[:60], 0)
	assert.ErrorIs(err, ErrInvalidMetadataResource)

	// A dentry smaller than the fixed header.
	short := make([]byte, 64)
	short[0] = 50
	_, _, err = readDentry(short, 0)
	assert.ErrorIs(err, ErrInvalidMetadataResource)

	// Odd name length.
	bad := make([]byte, 256)
	bad[0] = WIM_DENTRY_DISK_SIZE + 5
	bad[100] = 3 // file_name_nbytes
	_, _, err = readDentry(bad, 0)
	assert.ErrorIs(err, ErrInvalidMetadataResource)
}
