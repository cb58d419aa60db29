// Package random generates pseudo-random arrays on the device.
//
// A Generator owns one xoshiro128** stream per output lane. Stream 0 is
// seeded on the host by splitmix64; every other stream is derived on the
// device by jumping its predecessor 2^64 steps ahead, so streams never
// overlap in practice.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/tensor"
)

type options struct {
	seed    uint64
	hasSeed bool
}

// Option configures a Generator.
type Option func(*options)

// WithSeed fixes the seed. Without it the seed is drawn from crypto/rand.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.hasSeed = true
	}
}

// Generator produces arrays of size independent samples per call.
// A Generator is not safe for concurrent use.
type Generator struct {
	eng   *engine.Engine
	size  int
	seed  uint64
	state *engine.Array

	mu         sync.Mutex
	normalType tensor.DataType
	companion  *engine.Array
}

// New creates a generator with size streams and submits the seeding passes.
func New(eng *engine.Engine, size int, opts ...Option) (*Generator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("generator size %d: %w", size, tensor.ErrShape)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasSeed {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("random: draw seed: %w", err)
		}
		o.seed = binary.LittleEndian.Uint64(b[:])
	}

	state, err := eng.New(tensor.Shape{size, 4}, engine.WithDType(tensor.Uint32))
	if err != nil {
		return nil, err
	}
	s0 := SeedState(o.seed)
	copy(state.AsUint32(), s0[:])
	state.MarkHostDirty()

	var passes []engine.Pass
	for start := 1; start < size; start += kernel.MaxJumpsPerPass {
		count := min(kernel.MaxJumpsPerPass, size-start)
		passes = append(passes, engine.Pass{
			Kernel: kernel.RandomSeed(),
			Groups: [3]uint32{1, 1, 1},
			Args: []engine.Arg{
				{Array: state, Write: true},
				{Params: []uint32{uint32(start), uint32(count)}}, //nolint:gosec // G115: bounded by size
			},
		})
	}
	if len(passes) > 0 {
		if err := eng.Run(passes...); err != nil {
			state.Release()
			return nil, err
		}
	}

	return &Generator{eng: eng, size: size, seed: o.seed, state: state}, nil
}

// SeedState expands seed into the four state words of stream 0.
func SeedState(seed uint64) [4]uint32 {
	x := seed
	a := splitmix64(&x)
	b := splitmix64(&x)
	s := [4]uint32{uint32(a), uint32(a >> 32), uint32(b), uint32(b >> 32)} //nolint:gosec // G115: word split
	if s == [4]uint32{} {
		s[0] = 1
	}
	return s
}

func splitmix64(x *uint64) uint64 {
	*x += 0x9e3779b97f4a7c15
	z := *x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Size returns the number of streams and of samples per call.
func (g *Generator) Size() int { return g.size }

// Seed returns the seed stream 0 was expanded from.
func (g *Generator) Seed() uint64 { return g.seed }

// State returns the [size, 4] uint32 state array.
func (g *Generator) State() *engine.Array { return g.state }

// Next advances every stream one step and returns one sample per stream:
// the raw word for uint32, its bit pattern for int32, and a uniform value
// in [0, 1) for float types.
func (g *Generator) Next(dt tensor.DataType) (*engine.Array, error) {
	k, err := kernel.RandomNext(dt)
	if err != nil {
		return nil, err
	}
	out, err := g.eng.New(tensor.Shape{g.size}, engine.WithDType(dt))
	if err != nil {
		return nil, err
	}
	err = g.eng.Run(engine.Pass{
		Kernel: k,
		Groups: kernel.Groups(g.size, k.Workgroup),
		Args:   []engine.Arg{{Array: g.state, Write: true}, {Array: out, Write: true}},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Normal returns standard normal samples by Box-Muller. Each dispatch
// yields two samples per stream: the first is returned and the second is
// kept for the next call with the same type, which then dispatches nothing.
// A call with a different type discards the kept samples.
func (g *Generator) Normal(dt tensor.DataType) (*engine.Array, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.companion != nil {
		c := g.companion
		g.companion = nil
		if g.normalType == dt {
			return c, nil
		}
		c.Release()
	}

	k, err := kernel.RandomNormal(dt)
	if err != nil {
		return nil, err
	}
	out, err := g.eng.New(tensor.Shape{g.size}, engine.WithDType(dt))
	if err != nil {
		return nil, err
	}
	comp, err := g.eng.New(tensor.Shape{g.size}, engine.WithDType(dt))
	if err != nil {
		out.Release()
		return nil, err
	}
	err = g.eng.Run(engine.Pass{
		Kernel: k,
		Groups: kernel.Groups(g.size, k.Workgroup),
		Args: []engine.Arg{
			{Array: g.state, Write: true},
			{Array: out, Write: true},
			{Array: comp, Write: true},
		},
	})
	if err != nil {
		out.Release()
		comp.Release()
		return nil, err
	}
	g.companion = comp
	g.normalType = dt
	return out, nil
}

// Release frees the state and any kept normal samples.
func (g *Generator) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.companion != nil {
		g.companion.Release()
		g.companion = nil
	}
	g.state.Release()
}
