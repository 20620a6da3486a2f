package wim

import (
	"strconv"

	"github.com/Velocidex/ordereddict"
)

// DOS names are at most 12 UTF-16 code units (24 bytes).
const maxDosNameBytes = 24

// A per-directory map of inode number to DOS short name. It is filled
// while the directory is read and drained after its children have been
// paired with their short names. NTFS guarantees one DOS name per
// inode, so a duplicate insert is a warning, not an error.
type dosNameMap struct {
	names *ordereddict.Dict
}

func newDosNameMap() *dosNameMap {
	return &dosNameMap{names: ordereddict.NewDict()}
}

func (self *dosNameMap) Insert(ino uint64, name string) {
	if utf16leLen(name) > maxDosNameBytes {
		Warningf("DOS name %q of NTFS inode %d is too long (ignoring it)",
			name, ino)
		return
	}

	key := strconv.FormatUint(ino, 10)
	_, pres := self.names.Get(key)
	if pres {
		Warningf("NTFS inode %d has multiple DOS names", ino)
		return
	}
	self.names.Set(key, name)
}

func (self *dosNameMap) Lookup(ino uint64) (string, bool) {
	value, pres := self.names.Get(strconv.FormatUint(ino, 10))
	if !pres {
		return "", false
	}
	return value.(string), true
}

// Pair a Win32-named dentry with the DOS name recorded for its inode.
func (self *dosNameMap) setDentryDosName(dentry *Dentry) {
	if !dentry.IsWin32Name {
		return
	}

	name, pres := self.Lookup(dentry.Inode.Ino)
	if !pres {
		Warningf("NTFS inode %d has Win32 name with no corresponding DOS name",
			dentry.Inode.Ino)
		return
	}
	dentry.ShortName = name
}

func (self *dosNameMap) Drain() {
	self.names = ordereddict.NewDict()
}
