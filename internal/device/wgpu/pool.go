package wgpu

import (
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// sizeClass groups staging buffers for reuse.
type sizeClass int

const (
	smallClass sizeClass = iota
	mediumClass
	largeClass
)

const (
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
	maxPerClass     = 16
)

// stagingPool reuses map-read buffers across readbacks. Only staging
// buffers are pooled: storage buffers are bound with their full size, and
// arrayLength in a program must see the logical length.
type stagingPool struct {
	dev *Device

	mu      sync.Mutex
	classes [3][]*wgpu.Buffer
	sizes   map[*wgpu.Buffer]uint64

	hits, misses uint64
}

func newStagingPool(d *Device) *stagingPool {
	return &stagingPool{dev: d, sizes: make(map[*wgpu.Buffer]uint64)}
}

func classify(size uint64) sizeClass {
	switch {
	case size < smallThreshold:
		return smallClass
	case size < mediumThreshold:
		return mediumClass
	default:
		return largeClass
	}
}

// acquire returns a pooled staging buffer of at least size bytes and its
// allocated size, or nil.
func (p *stagingPool) acquire(size uint64) (*wgpu.Buffer, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := classify(size)
	for i, b := range p.classes[c] {
		if alloc := p.sizes[b]; alloc >= size {
			p.classes[c] = append(p.classes[c][:i], p.classes[c][i+1:]...)
			delete(p.sizes, b)
			p.hits++
			return b, alloc
		}
	}
	p.misses++
	return nil, 0
}

// put returns b to the pool. It reports false when the class is full and
// the caller must release b.
func (p *stagingPool) put(b *wgpu.Buffer, size uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := classify(size)
	if len(p.classes[c]) >= maxPerClass {
		return false
	}
	p.sizes[b] = size
	p.classes[c] = append(p.classes[c], b)
	return true
}

func (p *stagingPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := range p.classes {
		for _, b := range p.classes[c] {
			b.Release()
			p.dev.trackRelease(p.sizes[b])
		}
		p.classes[c] = nil
	}
	p.sizes = make(map[*wgpu.Buffer]uint64)
}

// stats returns pool hits and misses.
func (p *stagingPool) stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
