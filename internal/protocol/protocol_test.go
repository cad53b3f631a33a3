package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	states := []State{
		New(0xDEADBEEF, 0, 0, 0, 0, 0, 0, 0, 0),
		New(1, 65535, 0xFFFF, 255, 255, 32767, -32768, -1, 1),
		New(42, 1000, ButtonA|ButtonDPadUp|ButtonRightShoulder, 128, 0, -12345, 12345, 0, -1),
	}
	for _, want := range states {
		got, err := Unmarshal(want.Marshal())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMarshalSize(t *testing.T) {
	b := New(1, 2, 3, 4, 5, 6, 7, 8, 9).Marshal()
	assert.Len(t, b, PacketSize)
}

func TestUnmarshalSizeBounds(t *testing.T) {
	valid := New(7, 1, 0, 0, 0, 0, 0, 0, 0).Marshal()

	_, err := Unmarshal(valid[:PacketSize-1])
	assert.ErrorIs(t, err, ErrSize, "truncated frame must be rejected")

	_, err = Unmarshal(nil)
	assert.ErrorIs(t, err, ErrSize)

	oversized := make([]byte, MaxPacketSize+1)
	copy(oversized, valid)
	_, err = Unmarshal(oversized)
	assert.ErrorIs(t, err, ErrSize, "oversized frame must be rejected before parsing")

	// Padding up to the maximum is tolerated; trailing bytes are ignored.
	padded := make([]byte, MaxPacketSize)
	copy(padded, valid)
	got, err := Unmarshal(padded)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.ClientID)
}

func TestUnmarshalVersion(t *testing.T) {
	for _, v := range []byte{0, 1, Version + 1, 255} {
		b := New(1, 1, 0, 0, 0, 0, 0, 0, 0).Marshal()
		b[0] = v
		_, err := Unmarshal(b)
		assert.ErrorIs(t, err, ErrVersion, "version %d must be rejected", v)
	}
}

func TestUnmarshalNeverPanicsOnGarbage(t *testing.T) {
	for size := 0; size <= 64; size++ {
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = byte(i * 37)
		}
		_, err := Unmarshal(buf)
		if size >= PacketSize {
			// Only the version field can fail here; field widths make every
			// other value range-valid by construction.
			if err != nil && !errors.Is(err, ErrVersion) {
				t.Fatalf("unexpected error for %d bytes: %v", size, err)
			}
		} else if !errors.Is(err, ErrSize) {
			t.Fatalf("expected size error for %d bytes, got %v", size, err)
		}
	}
}

func TestSeqDelta(t *testing.T) {
	assert.Equal(t, uint16(0), SeqDelta(10, 10), "same sequence is a duplicate")
	assert.Equal(t, uint16(1), SeqDelta(10, 11))
	assert.Equal(t, uint16(1), SeqDelta(65535, 0), "wraparound counts forward")
	assert.Equal(t, uint16(65535), SeqDelta(0, 65535), "reordered frame still yields nonzero delta")
}
