package montecarlo

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// CountPool keeps count matrices between estimates so repeated estimates of the
// same session reuse their buffers. It is safe for concurrent use.
type CountPool struct {
	mu    sync.Mutex
	dense []*mat.Dense
}

// NewCountPool creates an empty pool.
func NewCountPool() *CountPool {
	return &CountPool{dense: make([]*mat.Dense, 0, 8)}
}

// Get returns an r x c matrix, reusing a pooled one when available. The
// contents are unspecified; callers overwrite every row.
func (p *CountPool) Get(r, c int) *mat.Dense {
	p.mu.Lock()
	var m *mat.Dense
	if n := len(p.dense); n > 0 {
		m = p.dense[n-1]
		p.dense = p.dense[:n-1]
	}
	p.mu.Unlock()

	if m == nil {
		return mat.NewDense(r, c, nil)
	}
	if rows, cols := m.Dims(); rows != r || cols != c {
		m.Reset()
		m.ReuseAs(r, c)
	}
	return m
}

// Put returns m to the pool.
func (p *CountPool) Put(m *mat.Dense) {
	if m == nil {
		return
	}
	p.mu.Lock()
	p.dense = append(p.dense, m)
	p.mu.Unlock()
}

// Len reports how many matrices are pooled.
func (p *CountPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dense)
}
