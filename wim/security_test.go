package wim

import (
	"testing"

	"github.com/sebdah/goldie"
	"github.com/stretchr/testify/assert"
)

func testDescriptors() ([]byte, []byte) {
	sd1 := make([]byte, 20)
	for i := range sd1 {
		sd1[i] = byte(i + 1)
	}
	sd2 := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	return sd1, sd2
}

func TestSDSetDedup(t *testing.T) {
	assert := assert.New(t)
	sd1, sd2 := testDescriptors()

	sd_set := NewSDSet()

	id := sd_set.Add(sd1)
	assert.Equal(int32(0), id)

	// Inserting a byte identical descriptor twice yields one entry.
	assert.Equal(int32(0), sd_set.Add(sd1))
	assert.Equal(uint32(1), sd_set.SecurityData.NumEntries())

	assert.Equal(int32(1), sd_set.Add(sd2))
	assert.Equal(uint32(2), sd_set.SecurityData.NumEntries())

	// IDs are stable.
	assert.Equal(int32(0), sd_set.Add(sd1))
	assert.Equal(int32(1), sd_set.Add(sd2))

	// No descriptor at all.
	assert.Equal(int32(-1), sd_set.Add(nil))
}

func TestSecurityDataTotalLength(t *testing.T) {
	assert := assert.New(t)
	sd1, sd2 := testDescriptors()

	empty := &SecurityData{}
	assert.Equal(uint32(8), empty.TotalLength())

	security_data := &SecurityData{Descriptors: [][]byte{sd1, sd2}}

	// 8 byte header + two u64 sizes + 25 descriptor bytes, rounded
	// up to 8.
	assert.Equal(uint32(56), security_data.TotalLength())
	assert.Equal(uint32(0), security_data.TotalLength()%8)
}

func TestSecurityDataRoundTrip(t *testing.T) {
	assert := assert.New(t)
	sd1, sd2 := testDescriptors()

	security_data := &SecurityData{Descriptors: [][]byte{sd1, sd2}}

	buf := make([]byte, security_data.TotalLength())
	end := security_data.serialize(buf, 0)
	assert.Equal(len(buf), end)

	decoded, consumed, err := readSecurityData(buf)
	assert.NoError(err)
	assert.Equal(security_data.Descriptors, decoded.Descriptors)
	assert.Equal(uint64(len(buf)), consumed)
}

func TestSecurityDataGolden(t *testing.T) {
	sd1, sd2 := testDescriptors()
	security_data := &SecurityData{Descriptors: [][]byte{sd1, sd2}}

	buf := make([]byte, security_data.TotalLength())
	security_data.serialize(buf, 0)

	goldie.Assert(t, "TestSecurityData", buf)
}

func TestSecurityDataZeroTotalLength(t *testing.T) {
	assert := assert.New(t)

	// A total_length of 0 is equivalent to an empty 8 byte header.
	decoded, consumed, err := readSecurityData(make([]byte, 16))
	assert.NoError(err)
	assert.Equal(uint32(0), decoded.NumEntries())
	assert.Equal(uint64(8), consumed)
	assert.Equal(uint32(8), decoded.TotalLength())
}

func TestSecurityDataInvalid(t *testing.T) {
	assert := assert.New(t)

	// Too many entries for the declared length.
	buf := make([]byte, 32)
	buf[0] = 32
	buf[4] = 200
	_, _, err := readSecurityData(buf)
	assert.ErrorIs(err, ErrInvalidMetadataResource)

	// Declared length exceeds the buffer.
	buf = make([]byte, 16)
	buf[0] = 64
	_, _, err = readSecurityData(buf)
	assert.ErrorIs(err, ErrInvalidMetadataResource)

	// Descriptor overruns the table.
	security_data := &SecurityData{Descriptors: [][]byte{{1, 2, 3}}}
	buf = make([]byte, security_data.TotalLength())
	security_data.serialize(buf, 0)
	buf[8] = 0xFF // first size entry
	_, _, err = readSecurityData(buf)
	assert.ErrorIs(err, ErrInvalidMetadataResource)
}
