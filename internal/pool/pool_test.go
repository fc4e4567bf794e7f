package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type continuation struct {
	XID uint32
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := New[continuation](2)
	assert.Equal(t, 2, p.Cap())
	assert.Equal(t, 2, p.Len())

	a, err := p.Alloc()
	require.NoError(t, err)
	a.XID = 7
	assert.Equal(t, 1, p.Len())

	p.Free(a)
	assert.Equal(t, 2, p.Len())
}

func TestAllocExhausted(t *testing.T) {
	p := New[continuation](1)
	a, err := p.Alloc()
	require.NoError(t, err)

	_, err = p.Alloc()
	assert.ErrorIs(t, err, ErrExhausted)

	p.Free(a)
	b, err := p.Alloc()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFreeZeroesValue(t *testing.T) {
	p := New[continuation](1)
	a, err := p.Alloc()
	require.NoError(t, err)
	a.XID = 42
	p.Free(a)

	b, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.XID)
}

func TestConcurrentAllocFree(t *testing.T) {
	const slots = 8
	p := New[continuation](slots)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := p.Alloc()
				if err == nil {
					p.Free(v)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, slots, p.Len())
}
