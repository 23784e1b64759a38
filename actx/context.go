// Package actx implements AudioContext: the graph's clock, two-level
// locking discipline, event queue, and connection-mutation API from
// spec.md §3/§4.F. It is named actx (not "context") purely to avoid
// shadowing the standard library's context package in call sites that
// need both.
package actx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bken/audiograph/diag"
	"bken/audiograph/graphid"
	"bken/audiograph/internal/clock"
	"bken/audiograph/node"
)

// Errors surfaced synchronously from the connection-mutation API,
// spec.md §7.
var (
	ErrInvalidIndex = errors.New("actx: invalid input/output index")
)

// Options configures a new Context. There is no file-backed
// configuration format (spec.md §6: "no persisted state — this is a
// runtime library"); a host application owns loading its own settings
// and passes the result in as a plain struct, matching the teacher's
// client/internal/config.Config pattern minus the disk round-trip.
type Options struct {
	SampleRate    float32
	Channels      int
	QuantumFrames int // render quantum size, typically 128
	// DeferredQueueDepth bounds the number of graph mutations that can be
	// queued while rendering is active; an enqueue beyond it blocks the
	// user thread until the render thread drains the queue at a quantum
	// boundary. Default 256.
	DeferredQueueDepth int
	// EventQueueDepth bounds the user-visible event queue (onStart/
	// onEnded callbacks). Default 256, matching the teacher's
	// captureChannelBuf/playbackChannelBuf sizing idiom.
	EventQueueDepth int
	Logger          *diag.Logger
}

func (o Options) withDefaults() Options {
	if o.QuantumFrames <= 0 {
		o.QuantumFrames = 128
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 44100
	}
	if o.DeferredQueueDepth <= 0 {
		o.DeferredQueueDepth = 256
	}
	if o.EventQueueDepth <= 0 {
		o.EventQueueDepth = 256
	}
	if o.Logger == nil {
		o.Logger = diag.New(nil, 200)
	}
	return o
}

// Context is the graph's shared state: the node registry, the two coarse
// locks, the sampling clock, and the deferred-action/event queues.
type Context struct {
	id   graphid.ContextID
	opts Options
	log  *diag.Logger

	graphMu  sync.Mutex
	renderMu sync.Mutex

	clock *clock.Sampling

	renderActive atomic.Bool

	nextNodeID atomic.Uint32
	nodes      map[node.ID]*node.Base // guarded by graphMu

	deferred chan func()
	events   chan func()

	activeNodes   atomic.Int64
	underruns     atomic.Uint64
	droppedEvents atomic.Uint64

	// eg tracks background goroutines a host starts against this context
	// (the periodic event-dispatch loop, an offline render run on its own
	// goroutine) so Close can join all of them and propagate the first
	// error, generalizing the teacher's WaitGroup+manual-error-channel
	// idiom in client/audio.go's Stop().
	eg       errgroup.Group
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Context. It does not start rendering; a destination
// (package destination) drives quanta against it once started.
func New(opts Options) *Context {
	opts = opts.withDefaults()
	return &Context{
		id:       graphid.New(),
		opts:     opts,
		log:      opts.Logger,
		clock:    clock.New(opts.SampleRate),
		nodes:    make(map[node.ID]*node.Base),
		deferred: make(chan func(), opts.DeferredQueueDepth),
		events:   make(chan func(), opts.EventQueueDepth),
		stopCh:   make(chan struct{}),
	}
}

// ID returns the context's diagnostic identity.
func (c *Context) ID() graphid.ContextID { return c.id }

// SampleRate, Channels, QuantumFrames report the device configuration.
func (c *Context) SampleRate() float32 { return c.opts.SampleRate }
func (c *Context) Channels() int       { return c.opts.Channels }
func (c *Context) QuantumFrames() int  { return c.opts.QuantumFrames }

// Clock exposes the sampling clock to the destination package, which is
// the only caller allowed to call Advance (the render thread owns the
// write side).
func (c *Context) Clock() *clock.Sampling { return c.clock }

// CurrentTime returns a lock-free, consistent snapshot of the render
// clock's time in seconds (spec.md §4.F).
func (c *Context) CurrentTime() float64 { return c.clock.Read().CurrentTime }

// CurrentSampleFrame returns the current frame count.
func (c *Context) CurrentSampleFrame() uint64 { return c.clock.CurrentSampleFrame() }

// SetRenderActive is called by a destination when it starts/stops
// driving quanta. While inactive, graph mutations apply synchronously;
// while active, they are deferred to quantum boundaries.
func (c *Context) SetRenderActive(active bool) { c.renderActive.Store(active) }

// NewNode allocates a node.Base registered in this context's arena and
// returns it immediately usable; registration itself goes through the
// same apply-or-defer path as AddNode.
func (c *Context) NewNode(numInputs, numOutputs, channels int) *node.Base {
	id := node.ID(c.nextNodeID.Add(1))
	n := node.NewBase(id, numInputs, numOutputs, channels, c.opts.QuantumFrames)
	c.AddNode(n)
	return n
}

// AddNode registers n in the node arena.
func (c *Context) AddNode(n *node.Base) {
	c.applyOrDefer(func() {
		c.nodes[n.ID()] = n
		c.activeNodes.Add(1)
	})
}

// RemoveNode unregisters n. It does not change n's connections or any
// scheduler.Scheduler driving it: a node that is still connected keeps
// being pulled, while a node no longer reachable from the destination is
// not pulled, so its scheduler does not advance and its onEnded callback
// does not fire.
func (c *Context) RemoveNode(n *node.Base) {
	c.applyOrDefer(func() {
		if _, ok := c.nodes[n.ID()]; ok {
			delete(c.nodes, n.ID())
			c.activeNodes.Add(-1)
		}
	})
}

// Connect wires src's output srcOut into dst's input dstIn. Index
// validation happens synchronously (ErrInvalidIndex surfaces to the
// caller); the actual splice is an apply-or-defer action.
func (c *Context) Connect(src, dst *node.Base, srcOut, dstIn int) error {
	so := src.Output(srcOut)
	if so == nil {
		return fmt.Errorf("connect: src output %d: %w", srcOut, ErrInvalidIndex)
	}
	di := dst.Input(dstIn)
	if di == nil {
		return fmt.Errorf("connect: dst input %d: %w", dstIn, ErrInvalidIndex)
	}
	c.applyOrDefer(func() {
		di.Connect(so)
		dst.CheckNumberOfChannelsForInput()
	})
	return nil
}

// Disconnect removes the src(srcOut) -> dst(dstIn) edge, if present.
func (c *Context) Disconnect(src, dst *node.Base, srcOut, dstIn int) error {
	so := src.Output(srcOut)
	if so == nil {
		return fmt.Errorf("disconnect: src output %d: %w", srcOut, ErrInvalidIndex)
	}
	di := dst.Input(dstIn)
	if di == nil {
		return fmt.Errorf("disconnect: dst input %d: %w", dstIn, ErrInvalidIndex)
	}
	c.applyOrDefer(func() {
		di.Disconnect(so)
		dst.CheckNumberOfChannelsForInput()
	})
	return nil
}

// applyOrDefer runs action immediately under the graph lock when no
// renderer is active, or enqueues it for quantum-boundary application
// otherwise. The enqueue blocks the calling (user) thread if the
// deferred queue is momentarily full rather than silently dropping a
// topology change — dropping graph mutations would be a correctness
// bug, unlike dropping an audio frame.
func (c *Context) applyOrDefer(action func()) {
	if !c.renderActive.Load() {
		c.graphMu.Lock()
		action()
		c.graphMu.Unlock()
		return
	}
	c.deferred <- action
}

// ApplyDeferredActions is called by the destination package once per
// quantum, with the render lock already held by the caller. It attempts
// to acquire the graph lock without blocking; on failure (a user thread
// is mid graph-lock-held synchronous mutation, which only happens while
// !renderActive and so cannot race here in practice, but the contract
// is kept general) it leaves the queue intact and returns, matching
// spec.md §7's Transient policy: retried next quantum, never surfaced.
func (c *Context) ApplyDeferredActions() {
	if !c.graphMu.TryLock() {
		return
	}
	defer c.graphMu.Unlock()
	for {
		select {
		case action := <-c.deferred:
			action()
		default:
			return
		}
	}
}

// EnqueueEvent puts fn on the event queue drained by DispatchEvents on a
// user-visible thread. Called from the render thread (e.g. by a
// scheduler's onStart/onEnded) or from user threads. Non-blocking: a
// full queue drops the event and counts it, mirroring the teacher's
// CaptureOut/PlaybackIn "select default: dropped++" idiom — an event
// queue overflow must never stall the render thread.
func (c *Context) EnqueueEvent(fn func()) {
	select {
	case c.events <- fn:
	default:
		c.droppedEvents.Add(1)
	}
}

// DispatchEvents drains and invokes every currently queued event. Call
// this periodically from a user thread (e.g. once per UI tick).
func (c *Context) DispatchEvents() {
	for {
		select {
		case fn := <-c.events:
			fn()
		default:
			return
		}
	}
}

// NoteUnderrun increments the underrun counter; called by a realtime
// destination when a quantum exceeds its real-time budget (spec.md
// §4.G's underrun policy: no catch-up, just count it).
func (c *Context) NoteUnderrun() { c.underruns.Add(1) }

// RunEventLoop starts a goroutine that drains DispatchEvents once per
// tick until Close is called. It is tracked by the context's errgroup,
// so Close waits for it to exit and reports any error. A host that
// prefers to call DispatchEvents itself (e.g. once per UI frame) never
// needs this.
func (c *Context) RunEventLoop(tick time.Duration) {
	c.eg.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return nil
			case <-ticker.C:
				c.DispatchEvents()
			}
		}
	})
}

// RunOffline runs fn (typically a call to an Offline destination's
// Render) on its own goroutine tracked by the same errgroup as
// RunEventLoop, so a host can kick off a background render and Close
// the context once, joining both.
func (c *Context) RunOffline(fn func() error) {
	c.eg.Go(fn)
}

// Close signals any goroutine started via RunEventLoop or RunOffline to
// stop, waits for all of them to exit, and returns the first error any
// of them returned. Safe to call more than once.
func (c *Context) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return c.eg.Wait()
}

// BeginQuantum acquires the render lock for the duration of one render
// quantum and performs the two fixed per-quantum steps that must happen
// before any node is pulled: applying deferred graph mutations, and
// clearing every node's output-rendered flags so this quantum's pull
// recomputes them. Only a destination (package destination) calls this.
//
// Iterating c.nodes here without taking graphMu is deliberate: once
// renderActive is true, the node map is mutated exclusively by this same
// render thread (via ApplyDeferredActions, called just above), never
// concurrently by a user thread — applyOrDefer routes all such mutations
// through the deferred channel instead. Context.Node, a read-only lookup
// for hosts, still takes graphMu for its own brief critical section.
func (c *Context) BeginQuantum() {
	c.renderMu.Lock()
	c.ApplyDeferredActions()
	for _, n := range c.nodes {
		n.ClearOutputsRendered()
	}
}

// EndQuantum advances the sampling clock by frames and releases the
// render lock acquired by BeginQuantum. The two calls bracket exactly one
// render quantum.
func (c *Context) EndQuantum(frames int) {
	c.clock.Advance(uint64(frames), c.opts.SampleRate)
	c.renderMu.Unlock()
}

// Stats is a point-in-time diagnostic snapshot, in the spirit of the
// teacher's server/metrics.go RunMetrics / room.Stats() periodic
// reporting. It is additive observability, not part of the core graph
// contract — nothing in the render path depends on it being called.
type Stats struct {
	ActiveNodes   int64
	Underruns     uint64
	DroppedEvents uint64
}

func (c *Context) Stats() Stats {
	return Stats{
		ActiveNodes:   c.activeNodes.Load(),
		Underruns:     c.underruns.Load(),
		DroppedEvents: c.droppedEvents.Load(),
	}
}

// Node looks up a registered node by ID. Used by tests and by hosts that
// serialize graph topology externally (e.g. a scene description) and
// need to resolve IDs back to nodes.
func (c *Context) Node(id node.ID) (*node.Base, bool) {
	c.graphMu.Lock()
	defer c.graphMu.Unlock()
	n, ok := c.nodes[id]
	return n, ok
}
