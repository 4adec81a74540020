package chanpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelRef_StreamsIncrDecr(t *testing.T) {
	ref := newChannelRef(1, newFakeRawChannel("a"))
	assert.Equal(t, int64(0), ref.StreamCount())

	ref.StreamsIncr()
	ref.StreamsIncr()
	assert.Equal(t, int64(2), ref.StreamCount())

	ref.StreamsDecr()
	assert.Equal(t, int64(1), ref.StreamCount())
}

func TestChannelRef_StreamsDecr_UnderflowPanics(t *testing.T) {
	ref := newChannelRef(1, newFakeRawChannel("a"))
	assert.Panics(t, func() { ref.StreamsDecr() })
}

func TestChannelRef_IDAndString(t *testing.T) {
	ref := newChannelRef(7, newFakeRawChannel("a"))
	assert.Equal(t, int64(7), ref.ID())
	assert.Contains(t, ref.String(), "7")
}
