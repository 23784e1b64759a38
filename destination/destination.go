// Package destination implements AudioDestination: the graph's single
// sink, in two flavors sharing one render-quantum core — Realtime (driven
// by a hardware callback) and Offline (driven by a plain render loop) —
// per spec.md §4.G/§2.G.
package destination

import (
	"fmt"
	"math"

	"bken/audiograph/actx"
	"bken/audiograph/bus"
	"bken/audiograph/node"
)

// Root is the contract a destination exposes so source nodes can be wired
// into it with the same Context.Connect call used for any other edge.
type Root interface {
	Node() *node.Base
}

// Driver is implemented by a hardware/OS audio backend — package
// realtime's PortAudio adapter is the only one in this module. Start
// begins calling render once per quantum, on whatever thread the backend
// owns, until Stop; render must return within the quantum's real-time
// budget. Modeled on the teacher's client/audio.go stream lifecycle.
type Driver interface {
	Start(channels, frames int, render func() []float32) error
	Stop() error
}

// base is the shared render-quantum core: a one-input, zero-output node
// that acts as the graph's summing root, plus the bracketing calls that
// apply deferred mutations, clear render flags, pull, and advance the
// clock exactly once per quantum (spec.md §4.F/§4.G).
type base struct {
	ctx  *actx.Context
	node *node.Base
}

func newBase(ctx *actx.Context) base {
	return base{ctx: ctx, node: ctx.NewNode(1, 0, ctx.Channels())}
}

// Node returns the destination's summing-junction node, the target of
// Context.Connect calls from upstream source nodes.
func (b *base) Node() *node.Base { return b.node }

// renderQuantum performs one full quantum: apply deferred graph
// mutations, clear rendered flags, pull the root input, advance the
// clock. It never blocks past BeginQuantum's TryLock-bounded deferred
// apply — see actx.Context.BeginQuantum.
func (b *base) renderQuantum() *bus.Bus {
	frames := b.ctx.QuantumFrames()
	b.ctx.BeginQuantum()
	currentFrame := b.ctx.CurrentSampleFrame()
	out := b.node.Input(0).Pull(currentFrame, frames)
	b.ctx.EndQuantum(frames)
	return out
}

// Realtime is an AudioDestination driven by a Driver's hardware callback.
// Start/Stop follow the teacher's stop-before-close stream discipline;
// the underrun policy is "no catch-up" — a slow quantum still advances
// the clock by the full frames requested, it just arrives late at the
// speakers (spec.md §4.G).
type Realtime struct {
	base
	driver  Driver
	scratch []float32
	running bool
}

// NewRealtime constructs a Realtime destination against driver. It does
// not start rendering until Start is called.
func NewRealtime(ctx *actx.Context, driver Driver) *Realtime {
	return &Realtime{base: newBase(ctx), driver: driver}
}

// Start puts the context into render-active mode and starts driver,
// which will call back into renderInterleaved once per quantum.
func (r *Realtime) Start() error {
	if r.running {
		return nil
	}
	r.ctx.SetRenderActive(true)
	frames := r.ctx.QuantumFrames()
	channels := r.ctx.Channels()
	r.scratch = make([]float32, frames*channels)
	if err := r.driver.Start(channels, frames, r.renderInterleaved); err != nil {
		r.ctx.SetRenderActive(false)
		return fmt.Errorf("destination: start realtime driver: %w", err)
	}
	r.running = true
	return nil
}

// Stop stops the driver and takes the context out of render-active mode.
// Safe to call when not running.
func (r *Realtime) Stop() error {
	if !r.running {
		return nil
	}
	if err := r.driver.Stop(); err != nil {
		return fmt.Errorf("destination: stop realtime driver: %w", err)
	}
	r.running = false
	r.ctx.SetRenderActive(false)
	return nil
}

// NoteUnderrun records a missed real-time deadline, surfaced through
// Context.Stats. Package realtime's Output does not call it; its write
// loop exits on any stream write error.
func (r *Realtime) NoteUnderrun() { r.ctx.NoteUnderrun() }

// renderInterleaved is called on the driver's audio thread once per
// quantum; it clamps the quantum to [-1, 1] before interleaving it for the
// device and reuses r.scratch so steady-state rendering never allocates.
func (r *Realtime) renderInterleaved() []float32 {
	b := r.renderQuantum()
	b.Clamp()
	interleave(r.scratch, b)
	return r.scratch
}

func interleave(dst []float32, b *bus.Bus) {
	channels := b.NumberOfChannels()
	frames := b.Length()
	for c := 0; c < channels; c++ {
		src := b.Channel(c)
		for i := 0; i < frames; i++ {
			dst[i*channels+c] = src[i]
		}
	}
}

// Offline renders a fixed-length signal with no real-time driver at all:
// it iterates quanta as fast as the calling goroutine runs and returns
// the complete output bus, per spec.md §4.G.
type Offline struct {
	base
	out *bus.Bus
}

// NewOffline constructs an Offline destination whose output bus holds
// exactly lengthFrames samples per channel. lengthFrames need not be a
// multiple of the quantum size; the final partial quantum is truncated.
func NewOffline(ctx *actx.Context, lengthFrames int) *Offline {
	o := &Offline{base: newBase(ctx)}
	o.out = bus.New(ctx.Channels(), lengthFrames)
	return o
}

// NewOfflineSeconds is a convenience constructor rounding lengthSeconds up
// to a whole number of render quanta, matching spec.md §4.G's
// ⌈lengthSeconds × sampleRate / quantumFrames⌉ iteration count.
func NewOfflineSeconds(ctx *actx.Context, lengthSeconds float64) *Offline {
	frames := ctx.QuantumFrames()
	totalFrames := int(math.Ceil(lengthSeconds * float64(ctx.SampleRate())))
	quanta := (totalFrames + frames - 1) / frames
	return NewOffline(ctx, quanta*frames)
}

// Render drives the graph to completion, quantum by quantum, and returns
// the populated output bus. The context is render-active only for the
// duration of this call.
func (o *Offline) Render() *bus.Bus {
	o.ctx.SetRenderActive(true)
	defer o.ctx.SetRenderActive(false)

	frames := o.ctx.QuantumFrames()
	total := o.out.Length()
	written := 0
	outChannels := o.out.NumberOfChannels()

	for written < total {
		q := o.renderQuantum()
		n := frames
		if written+n > total {
			n = total - written
		}
		channels := outChannels
		if qc := q.NumberOfChannels(); qc < channels {
			channels = qc
		}
		for c := 0; c < channels; c++ {
			copy(o.out.Channel(c)[written:written+n], q.Channel(c)[:n])
		}
		written += n
	}
	return o.out
}
