package wim

// The inode table realizes hard links during capture: dentries whose
// volume inode number was already seen share the existing inode object
// instead of receiving a fresh one.
type InodeTable struct {
	inodes map[uint64]*Inode
	list   []*Inode
}

func NewInodeTable() *InodeTable {
	return &InodeTable{inodes: make(map[uint64]*Inode)}
}

// NewDentry binds a new dentry to the inode for the given volume inode
// number, creating the inode on first sight. The caller inspects
// inode.LinkCount > 1 to decide whether the inode was already scanned.
func (self *InodeTable) NewDentry(basename string, ino uint64) (*Dentry, *Inode) {
	inode, pres := self.inodes[ino]
	if !pres {
		inode = newInode(ino)
		self.inodes[ino] = inode
		self.list = append(self.list, inode)
	}
	inode.LinkCount++

	return &Dentry{Name: basename, Inode: inode}, inode
}

// Remove drops an inode whose dentries were all torn down again, e.g.
// after a suppressed per-entry capture error.
func (self *InodeTable) Remove(inode *Inode) {
	delete(self.inodes, inode.Ino)
	for i, other := range self.list {
		if other == inode {
			self.list = append(self.list[:i], self.list[i+1:]...)
			break
		}
	}
}

// Inodes returns the inodes in first-seen order.
func (self *InodeTable) Inodes() []*Inode {
	return self.list
}
