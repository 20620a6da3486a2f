package wim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInodeTableHardLinks(t *testing.T) {
	assert := assert.New(t)

	table := NewInodeTable()

	// Two dentries sharing one volume inode number must share one
	// inode object.
	link1, inode1 := table.NewDentry("link1", 777)
	assert.Equal(uint32(1), inode1.LinkCount)

	link2, inode2 := table.NewDentry("link2", 777)
	assert.True(inode1 == inode2)
	assert.Equal(uint32(2), inode2.LinkCount)

	assert.Equal("link1", link1.Name)
	assert.Equal("link2", link2.Name)

	_, other := table.NewDentry("file", 778)
	assert.True(other != inode1)

	assert.Equal(2, len(table.Inodes()))

	// A fresh inode starts without a security descriptor.
	assert.Equal(int32(-1), other.SecurityId)
}

func TestInodeTableRemove(t *testing.T) {
	assert := assert.New(t)

	table := NewInodeTable()
	_, inode := table.NewDentry("file", 100)
	_, other := table.NewDentry("other", 101)

	table.Remove(inode)
	assert.Equal([]*Inode{other}, table.Inodes())

	// The inode number can be reused after removal.
	_, fresh := table.NewDentry("file", 100)
	assert.True(fresh != inode)
}
