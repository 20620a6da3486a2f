package wim

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"
)

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}

// utf16leBytes encodes a string as UTF-16LE without a terminator.
func utf16leBytes(s string) []byte {
	codes := utf16.Encode([]rune(s))
	buf := make([]byte, len(codes)*2)
	for i, c := range codes {
		binary.LittleEndian.PutUint16(buf[i*2:], c)
	}
	return buf
}

func utf16leString(buf []byte) string {
	codes := make([]uint16, len(buf)/2)
	for i := range codes {
		codes[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return string(utf16.Decode(codes))
}

// utf16leLen is the number of bytes the string occupies as UTF-16LE,
// excluding any terminator.
func utf16leLen(s string) int {
	return len(utf16.Encode([]rune(s))) * 2
}

func filetimeFromTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100 + 11644473600000*10000)
}

func filetimeToTime(ft uint64) time.Time {
	return time.Unix(0, (int64(ft)-11644473600000*10000)*100).UTC()
}

func pathBasename(p string) string {
	if p == "/" {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
