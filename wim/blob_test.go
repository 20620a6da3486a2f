package wim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func memBlob(data []byte) *BlobDescriptor {
	return &BlobDescriptor{
		Location: BLOB_IN_MEMORY,
		Size:     int64(len(data)),
		Data:     data,
	}
}

func ntfsBlob(vol *Volume, mft_no uint64, name string, sort_key uint64) *BlobDescriptor {
	return &BlobDescriptor{
		Location: BLOB_IN_NTFS_VOLUME,
		Size:     1,
		Ntfs: &NtfsLocation{
			Volume:   vol.Get(),
			MftNo:    mft_no,
			AttrType: ntfsAttrData,
			AttrName: name,
			SortKey:  sort_key,
		},
	}
}

func TestBlobOrder(t *testing.T) {
	assert := assert.New(t)

	vol := NewVolume(nil, nil, "test")

	a := ntfsBlob(vol, 16, "", 5)
	b := ntfsBlob(vol, 17, "", 10)
	c := ntfsBlob(vol, 18, "", 10)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	// Antisymmetric and transitive over the sort keys.
	assert.Equal(-1, CompareBlobs(a, b))
	assert.Equal(1, CompareBlobs(b, a))
	assert.Equal(0, CompareBlobs(b, c))
	assert.Equal(-1, CompareBlobs(a, c))
	assert.Equal(0, CompareBlobs(a, a))
}

func TestBlobLocationIdentity(t *testing.T) {
	assert := assert.New(t)

	vol := NewVolume(nil, nil, "test")

	a := ntfsBlob(vol, 16, "ads", 0)
	b := ntfsBlob(vol, 16, "ads", 99)
	c := ntfsBlob(vol, 16, "other", 0)
	d := ntfsBlob(vol, 17, "ads", 0)
	defer a.Close()
	defer b.Close()
	defer c.Close()
	defer d.Close()

	// The sort key does not contribute to identity.
	assert.True(a.SameLocation(b))
	assert.False(a.SameLocation(c))
	assert.False(a.SameLocation(d))
	assert.False(a.SameLocation(memBlob(nil)))

	clone := a.Clone()
	defer clone.Close()
	assert.True(a.SameLocation(clone))
	assert.True(clone.Ntfs != a.Ntfs)
}

func TestBlobReadPrefixMemory(t *testing.T) {
	assert := assert.New(t)

	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i)
	}
	blob := memBlob(data)

	var collected []byte
	var chunks []int
	err := blob.ReadPrefix(blob.Size, func(buf []byte) error {
		collected = append(collected, buf...)
		chunks = append(chunks, len(buf))
		return nil
	})
	assert.NoError(err)
	assert.True(bytes.Equal(data, collected))

	// Fixed size chunks with a short tail.
	assert.Equal([]int{32768, 32768, 32768, 1696}, chunks)

	// A prefix shorter than the blob.
	collected = nil
	err = blob.ReadPrefix(10, func(buf []byte) error {
		collected = append(collected, buf...)
		return nil
	})
	assert.NoError(err)
	assert.True(bytes.Equal(data[:10], collected))

	// The sink's return value short-circuits the loop.
	abort := errors.New("stop")
	calls := 0
	err = blob.ReadPrefix(blob.Size, func(buf []byte) error {
		calls++
		return abort
	})
	assert.ErrorIs(err, abort)
	assert.Equal(1, calls)

	// Reading past the blob is an error.
	err = blob.ReadPrefix(blob.Size+1, func(buf []byte) error { return nil })
	assert.ErrorIs(err, ErrInvalidParam)
}
