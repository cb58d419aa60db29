// Package engine executes array operations on a compute device.
//
// The engine owns the device handle, the layout cache (keyed by the access
// mode signature of a binding list) and the program cache (keyed by the exact
// generated source). Both caches are append-only. Every allocation and
// submission first checks the engine state: once the device is lost, or a
// program fails to compile, the engine fails fast with a *device.LostError.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/born-ml/ndgpu/internal/config"
	"github.com/born-ml/ndgpu/internal/device"
	"github.com/born-ml/ndgpu/internal/device/cpu"
	"github.com/born-ml/ndgpu/internal/device/wgpu"
	"github.com/born-ml/ndgpu/internal/kernel"
	"github.com/born-ml/ndgpu/internal/logger"
	"github.com/born-ml/ndgpu/internal/parallel"
)

// State is the lifecycle state of an engine.
type State int

// Engine states.
const (
	Active State = iota
	Lost
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Lost:
		return "lost"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	State           State
	Layouts         int
	Programs        int
	Dispatches      uint64
	Submissions     uint64
	PendingReleases int
}

// Engine runs kernels on one device.
type Engine struct {
	dev device.Device
	log logger.Logger

	mu       sync.Mutex
	state    State
	reason   string
	layouts  map[string]device.Layout
	programs map[string]device.Program
	pending  int

	compile singleflight.Group

	// life is held for reading while collected buffers are queued for
	// release, and for writing while the device is released.
	life sync.RWMutex

	dispatches  atomic.Uint64
	submissions atomic.Uint64
}

// New creates an engine on dev. The engine takes ownership of dev.
func New(dev device.Device, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{
		dev:      dev,
		log:      log.With("component", "engine"),
		layouts:  make(map[string]device.Layout),
		programs: make(map[string]device.Program),
	}
	dev.OnLost(e.markLost)
	return e
}

// Open selects a device per cfg.Backend and creates an engine on it.
// "auto" tries WebGPU first and falls back to the host device.
func Open(ctx context.Context, cfg config.Config, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendCPU:
		return New(newCPU(cfg), log), nil
	case config.BackendWGPU:
		dev, err := newWGPU(cfg)
		if err != nil {
			return nil, err
		}
		return New(dev, log), nil
	default:
		dev, err := newWGPU(cfg)
		if err != nil {
			log.Warn("WebGPU unavailable, using host device", "error", err)
			return New(newCPU(cfg), log), nil
		}
		return New(dev, log), nil
	}
}

func newCPU(cfg config.Config) *cpu.Device {
	par := parallel.DefaultConfig()
	if cfg.Workers > 0 {
		par = par.WithWorkers(cfg.Workers)
	}
	return cpu.New(cpu.WithParallel(par), cpu.WithF16(cfg.EnableF16))
}

func newWGPU(cfg config.Config) (*wgpu.Device, error) {
	return wgpu.New(wgpu.Options{
		PowerPreference: cfg.PowerPreference,
		EnableF16:       cfg.EnableF16,
		MapTimeout:      cfg.MapTimeout,
	})
}

// Device returns the engine's device.
func (e *Engine) Device() device.Device { return e.dev }

// Info describes the engine's device.
func (e *Engine) Info() device.Info { return e.dev.Info() }

// State returns the lifecycle state and, when lost, the reason.
func (e *Engine) State() (State, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.reason
}

// Stats returns a snapshot of cache sizes and counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:           e.state,
		Layouts:         len(e.layouts),
		Programs:        len(e.programs),
		Dispatches:      e.dispatches.Load(),
		Submissions:     e.submissions.Load(),
		PendingReleases: e.pending,
	}
}

// check returns the error every entry point fails with once the engine
// is no longer active.
func (e *Engine) check() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Lost:
		return &device.LostError{Reason: e.reason}
	case Closed:
		return device.ErrReleased
	}
	return nil
}

func (e *Engine) markLost(reason string) {
	e.mu.Lock()
	if e.state != Active {
		e.mu.Unlock()
		return
	}
	e.state = Lost
	e.reason = reason
	e.mu.Unlock()
	e.log.Error("device lost", "reason", reason)
}

func modeKey(modes []kernel.Access) string {
	var b strings.Builder
	for _, m := range modes {
		if m == kernel.ReadWrite {
			b.WriteByte('w')
		} else {
			b.WriteByte('r')
		}
	}
	return b.String()
}

// layout returns the cached layout for modes, creating it on first use.
func (e *Engine) layout(modes []kernel.Access) (device.Layout, error) {
	key := modeKey(modes)
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.layouts[key]; ok {
		return l, nil
	}
	l, err := e.dev.CreateLayout(modes)
	if err != nil {
		return nil, fmt.Errorf("engine: create layout %s: %w", key, err)
	}
	e.layouts[key] = l
	e.log.Debug("created layout", "modes", key)
	return l, nil
}

// program returns the cached program for k's source, compiling it on first
// use. Concurrent requests for the same source share one compilation.
func (e *Engine) program(k *kernel.Kernel) (device.Program, error) {
	e.mu.Lock()
	p, ok := e.programs[k.Source]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	l, err := e.layout(k.Bindings)
	if err != nil {
		return nil, err
	}

	v, err, _ := e.compile.Do(k.Source, func() (any, error) {
		e.mu.Lock()
		p, ok := e.programs[k.Source]
		e.mu.Unlock()
		if ok {
			return p, nil
		}

		p, diags, err := e.dev.CreateProgram(k, l)
		for _, d := range diags {
			if d.Severity != device.SeverityError {
				e.log.Warn("compiler diagnostic", "label", k.Label, "severity", d.Severity.String(),
					"line", d.Line, "column", d.Column, "message", d.Message)
			}
		}
		if err != nil {
			var ce *device.CompileError
			if errors.As(err, &ce) {
				e.markLost(ce.Error())
			}
			return nil, fmt.Errorf("engine: compile %s: %w", k.Label, err)
		}

		e.mu.Lock()
		e.programs[k.Source] = p
		e.mu.Unlock()
		e.log.Debug("compiled program", "label", k.Label, "bindings", len(k.Bindings))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(device.Program), nil
}

// dispatch builds the dispatch command for k over bufs.
func (e *Engine) dispatch(k *kernel.Kernel, bufs []device.Buffer, groups [3]uint32) (device.Dispatch, error) {
	p, err := e.program(k)
	if err != nil {
		return device.Dispatch{}, err
	}
	l, err := e.layout(k.Bindings)
	if err != nil {
		return device.Dispatch{}, err
	}
	set, err := e.dev.CreateBindSet(l, bufs)
	if err != nil {
		return device.Dispatch{}, fmt.Errorf("engine: bind %s: %w", k.Label, err)
	}
	e.log.Debug("dispatch", "label", k.Label, "groups", groups)
	return device.Dispatch{Program: p, BindSet: set, Groups: groups}, nil
}

// submit sends cmds as one submission. Transient buffers and the bind sets
// of its dispatches are released once the device reports the submission
// complete, or immediately if it was rejected.
func (e *Engine) submit(cmds []device.Command, transient []device.Buffer) error {
	if err := e.check(); err != nil {
		releaseAll(transient)
		releaseBindSets(cmds)
		return err
	}
	if err := e.dev.Submit(cmds...); err != nil {
		releaseAll(transient)
		releaseBindSets(cmds)
		e.markLost(err.Error())
		return fmt.Errorf("engine: submit: %w", err)
	}
	e.submissions.Add(1)
	sets := 0
	for _, c := range cmds {
		if d, ok := c.(device.Dispatch); ok {
			e.dispatches.Add(1)
			if d.BindSet != nil {
				sets++
			}
		}
	}
	count := len(transient) + sets
	if count == 0 {
		return nil
	}

	e.mu.Lock()
	e.pending += count
	e.mu.Unlock()
	e.dev.OnWorkDone(func() {
		releaseAll(transient)
		releaseBindSets(cmds)
		e.mu.Lock()
		e.pending -= count
		e.mu.Unlock()
	})
	return nil
}

func releaseAll(bufs []device.Buffer) {
	for _, b := range bufs {
		b.Release()
	}
}

// releaseBindSets releases the bind sets of the dispatches in cmds.
func releaseBindSets(cmds []device.Command) {
	for _, c := range cmds {
		if d, ok := c.(device.Dispatch); ok && d.BindSet != nil {
			d.BindSet.Release()
		}
	}
}

// createBuffer allocates a storage buffer after checking the engine state.
func (e *Engine) createBuffer(size uint64, label string) (device.Buffer, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	buf, err := e.dev.CreateBuffer(size, device.StorageUsage, label)
	if err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			e.markLost(err.Error())
		}
		return nil, fmt.Errorf("engine: allocate %s: %w", label, err)
	}
	return buf, nil
}

// uint32Buffer creates a transient helper buffer holding vals.
func (e *Engine) uint32Buffer(vals []uint32, label string) (device.Buffer, error) {
	data := encodeUint32s(vals)
	buf, err := e.createBuffer(uint64(len(data)), label)
	if err != nil {
		return nil, err
	}
	if err := e.dev.WriteBuffer(buf, 0, data); err != nil {
		buf.Release()
		return nil, fmt.Errorf("engine: write %s: %w", label, err)
	}
	return buf, nil
}

// readBuffer copies size bytes of buf to a staging buffer and maps it.
func (e *Engine) readBuffer(ctx context.Context, buf device.Buffer, size uint64) ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	staging, err := e.dev.CreateBuffer(size, device.StagingUsage, buf.Label()+"/staging")
	if err != nil {
		return nil, fmt.Errorf("engine: allocate staging: %w", err)
	}
	defer staging.Release()

	copyCmd := device.Copy{Src: buf, Dst: staging, Size: device.Align(size)}
	if err := e.submit([]device.Command{copyCmd}, nil); err != nil {
		return nil, err
	}
	data, err := e.dev.MapRead(ctx, staging, 0, size)
	if err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			e.markLost(err.Error())
		}
		return nil, fmt.Errorf("engine: read %s: %w", buf.Label(), err)
	}
	return data, nil
}

// Sync waits until all submitted work has completed and pending releases
// have drained.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	done := make(chan struct{})
	e.dev.OnWorkDone(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the device. Arrays of a closed engine can no longer be used.
func (e *Engine) Close() error {
	e.life.Lock()
	defer e.life.Unlock()
	e.mu.Lock()
	if e.state == Closed {
		e.mu.Unlock()
		return nil
	}
	e.state = Closed
	e.mu.Unlock()
	e.dev.Release()
	return nil
}

// collect releases the buffer of an array that became unreachable without
// Release. Work already submitted against it completes first.
func (e *Engine) collect(buf device.Buffer) {
	e.life.RLock()
	defer e.life.RUnlock()
	e.mu.Lock()
	if e.state == Closed {
		e.mu.Unlock()
		return
	}
	e.pending++
	e.mu.Unlock()
	e.dev.OnWorkDone(func() {
		buf.Release()
		e.mu.Lock()
		e.pending--
		e.mu.Unlock()
	})
}
