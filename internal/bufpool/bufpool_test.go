package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAllocation(t *testing.T) {
	t.Run("AllocatesSmallBuffer", func(t *testing.T) {
		buf := Get(100)
		defer Put(buf)

		assert.Equal(t, 100, len(buf))
		assert.Equal(t, DefaultSmallSize, cap(buf))
	})

	t.Run("AllocatesMediumBuffer", func(t *testing.T) {
		buf := Get(64 * 1024)
		defer Put(buf)

		assert.Equal(t, 64*1024, len(buf))
		assert.Equal(t, DefaultMediumSize, cap(buf))
	})

	t.Run("AllocatesLargeBuffer", func(t *testing.T) {
		buf := Get(512 * 1024)
		defer Put(buf)

		assert.Equal(t, 512*1024, len(buf))
		assert.Equal(t, DefaultLargeSize, cap(buf))
	})

	t.Run("AllocatesOversizedBufferDirectly", func(t *testing.T) {
		buf := Get(2 * 1024 * 1024)
		defer Put(buf)

		assert.Equal(t, 2*1024*1024, len(buf))
		assert.Equal(t, len(buf), cap(buf))
	})

	t.Run("GetUint32MatchesGet", func(t *testing.T) {
		buf := GetUint32(4096)
		defer Put(buf)

		assert.Equal(t, 4096, len(buf))
	})
}

func TestBufferReuse(t *testing.T) {
	p := NewPool(nil)

	buf := p.Get(1000)
	buf[0] = 0xAB
	p.Put(buf)

	// A subsequent Get of the same class should come from the pool.
	// Contents are unspecified, only the size contract holds.
	again := p.Get(1000)
	assert.Equal(t, 1000, len(again))
	assert.Equal(t, DefaultSmallSize, cap(again))
	p.Put(again)
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	p := NewPool(nil)

	assert.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 777)) // capacity matches no tier
	})
}

func TestCustomTierSizes(t *testing.T) {
	p := NewPool(&Config{SmallSize: 128, MediumSize: 1024, LargeSize: 8192})

	buf := p.Get(200)
	assert.Equal(t, 1024, cap(buf))
	p.Put(buf)

	buf = p.Get(9000)
	assert.Equal(t, 9000, cap(buf))
	p.Put(buf)
}

func TestConcurrentGetPut(t *testing.T) {
	p := NewPool(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				buf := p.Get(j % (2 * DefaultMediumSize))
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
