package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytePoolGetReturnsFixedSize(t *testing.T) {
	p := NewBytePool(1024)
	buf := p.Get()
	require.Len(t, buf, 1024)
	p.Put(buf)

	created, gets, puts, inUse := p.Stats().Snapshot()
	require.EqualValues(t, 1, created)
	require.EqualValues(t, 1, gets)
	require.EqualValues(t, 1, puts)
	require.EqualValues(t, 0, inUse)
}

func TestBytePoolRejectsMismatchedCapacity(t *testing.T) {
	p := NewBytePool(1024)
	p.Put(make([]byte, 512))
	_, _, puts, _ := p.Stats().Snapshot()
	require.EqualValues(t, 0, puts)
}
