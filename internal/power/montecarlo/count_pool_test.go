package montecarlo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountPoolReuse(t *testing.T) {
	pool := NewCountPool()

	m := pool.Get(4, 3)
	r, c := m.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)

	pool.Put(m)
	assert.Equal(t, 1, pool.Len())

	same := pool.Get(4, 3)
	assert.Same(t, m, same)
	assert.Equal(t, 0, pool.Len())

	pool.Put(same)
	reshaped := pool.Get(2, 5)
	r, c = reshaped.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 5, c)

	pool.Put(nil)
	assert.Equal(t, 0, pool.Len())
}

func TestCountPoolConcurrent(t *testing.T) {
	pool := NewCountPool()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m := pool.Get(8, 2)
				m.Set(0, 0, float64(j))
				pool.Put(m)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.Len(), 16)
	assert.Positive(t, pool.Len())
}
