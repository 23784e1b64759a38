// Package node implements the AudioNode base contract, AudioNodeInput
// summing junctions, and AudioNodeOutput endpoints from spec.md §3/§4.D/
// §4.E.
package node

import (
	"bken/audiograph/bus"
	"bken/audiograph/internal/mix"
)

// ChannelCountMode controls how an Input's rendered channel count is
// derived from its connected Outputs.
type ChannelCountMode int

const (
	Max ChannelCountMode = iota
	ClampedMax
	Explicit
)

// ID identifies a node within a Context's registry. Connections are held
// as *Output pointers in each Input's upstream set, not as IDs.
type ID uint32

// Processor is the per-node behavior a concrete DSP node supplies. The
// base Node type (embedded by every concrete node) drives Process via
// ProcessIfNecessary.
type Processor interface {
	// Process renders frames into the node's output bus(es), reading
	// from already-pulled inputs. frames is the full render quantum size;
	// a scheduled source reads the active part of the quantum (fade-in
	// or fade-out boundary) from scheduler.Result.
	Process(frames int)
	// TailTime and LatencyTime are reported to the scheduler in seconds;
	// see spec.md §3/§4.D.
	TailTime() float64
	LatencyTime() float64
}

// Output is one output slot: it owns a Bus, tracks whether it has been
// rendered this quantum, and fans out to connected Inputs.
type Output struct {
	bus      *bus.Bus
	rendered bool
	owner    *Base
	index    int
}

// NewOutput allocates an Output with the given channel count and frame
// capacity (the render quantum size).
func NewOutput(owner *Base, index, channels, quantumFrames int) *Output {
	return &Output{bus: bus.New(channels, quantumFrames), owner: owner, index: index}
}

// Bus returns the output's rendered bus.
func (o *Output) Bus() *bus.Bus { return o.bus }

// MarkRendered flags this output as having produced this quantum's
// samples, so repeated pulls within the same quantum are no-ops.
func (o *Output) MarkRendered() { o.rendered = true }

// ClearRendered is called by the destination at the start of each
// quantum (spec.md §4.G).
func (o *Output) ClearRendered() { o.rendered = false }

// Rendered reports whether this output has already produced samples for
// the current quantum.
func (o *Output) Rendered() bool { return o.rendered }

// RenderInto implements param.Driver: it copies this output's channel 0
// into out, sample for sample. Audio-rate parameter modulation always
// reads channel 0 of the driving output, matching the common
// single-driver convention described in spec.md §4.B.
func (o *Output) RenderInto(out []float64) {
	ch := o.bus.Channel(0)
	n := len(out)
	if n > len(ch) {
		n = len(ch)
	}
	for i := 0; i < n; i++ {
		out[i] = float64(ch[i])
	}
}

// Pull triggers the owning node to render (if not already rendered this
// quantum) and returns the output's bus. currentFrame is the context's
// currentSampleFrame for this quantum, used to key idempotency.
func (o *Output) Pull(currentFrame uint64, frames int) *bus.Bus {
	if !o.rendered {
		o.owner.ProcessIfNecessary(currentFrame, frames)
	}
	return o.bus
}

// endpoint is one upstream connection into an Input.
type endpoint struct {
	output *Output
}

// Input is a summing junction: a set of upstream Outputs whose buses are
// mixed down (or up) to the Input's negotiated channel count and summed.
type Input struct {
	owner         *Base
	upstream      []endpoint
	scratch       *bus.Bus // sized to the negotiated channel count
	mixScratch    *bus.Bus // reused by Pull for per-source mix.Apply output
	mode          ChannelCountMode
	explicitCount int
	interp        bus.Interpretation
	quantumFrames int
}

// NewInput allocates an Input bound to owner, with an initial scratch bus
// sized for channels.
func NewInput(owner *Base, channels, quantumFrames int) *Input {
	return &Input{
		owner:         owner,
		scratch:       bus.New(channels, quantumFrames),
		mixScratch:    bus.New(channels, quantumFrames),
		mode:          Max,
		explicitCount: channels,
		interp:        bus.Speakers,
		quantumFrames: quantumFrames,
	}
}

// Connect adds an upstream Output to this Input's connection set. Must
// be called with the graph lock held (enforced by the context package,
// not here — Input has no lock of its own since all mutation happens
// under the owning Context's single graph lock).
func (in *Input) Connect(o *Output) {
	for _, e := range in.upstream {
		if e.output == o {
			return
		}
	}
	in.upstream = append(in.upstream, endpoint{output: o})
}

// Disconnect removes an upstream Output.
func (in *Input) Disconnect(o *Output) {
	for i, e := range in.upstream {
		if e.output == o {
			in.upstream = append(in.upstream[:i], in.upstream[i+1:]...)
			return
		}
	}
}

// NumberOfConnections reports how many upstream outputs feed this input.
func (in *Input) NumberOfConnections() int { return len(in.upstream) }

// SetChannelCountMode updates the negotiation mode. Renegotiation
// (resizing the scratch bus) happens the next time Renegotiate is called
// from a deferred action at a quantum boundary, per spec.md §4.D.
func (in *Input) SetChannelCountMode(m ChannelCountMode) { in.mode = m }

// SetChannelCount sets the explicit channel count used by ClampedMax and
// Explicit modes.
func (in *Input) SetChannelCount(n int) { in.explicitCount = n }

// SetChannelInterpretation selects Speakers or Discrete mixing.
func (in *Input) SetChannelInterpretation(i bus.Interpretation) { in.interp = i }

// maxUpstreamChannels returns the largest channel count among connected
// outputs' buses, or 1 if there are none.
func (in *Input) maxUpstreamChannels() int {
	max := 1
	for _, e := range in.upstream {
		if n := e.output.bus.NumberOfChannels(); n > max {
			max = n
		}
	}
	return max
}

// ComputedChannelCount applies the mode rule from spec.md §4.D.
func (in *Input) ComputedChannelCount() int {
	switch in.mode {
	case Max:
		return in.maxUpstreamChannels()
	case ClampedMax:
		n := in.maxUpstreamChannels()
		if n > in.explicitCount {
			n = in.explicitCount
		}
		return n
	case Explicit:
		return in.explicitCount
	default:
		return in.maxUpstreamChannels()
	}
}

// Renegotiate resizes the scratch bus to ComputedChannelCount if it has
// changed. Called only from a deferred action at a quantum boundary
// (never mid-quantum), so it never races with Pull.
func (in *Input) Renegotiate() bool {
	want := in.ComputedChannelCount()
	if in.scratch.NumberOfChannels() == want {
		return false
	}
	in.scratch = bus.New(want, in.quantumFrames)
	in.mixScratch = bus.New(want, in.quantumFrames)
	return true
}

// Pull recursively pulls every connected output, mixes each into the
// scratch bus at the negotiated channel count, and sums them. With no
// connections, the scratch bus is left silent (NotConnected emits
// silence, not an error, per spec.md §7).
func (in *Input) Pull(currentFrame uint64, frames int) *bus.Bus {
	in.scratch.Zero()
	if len(in.upstream) == 0 {
		return in.scratch
	}
	target := in.scratch.NumberOfChannels()
	for _, e := range in.upstream {
		srcBus := e.output.Pull(currentFrame, frames)
		if srcBus.NumberOfChannels() == target {
			in.scratch.SumFrom(srcBus)
			continue
		}
		if err := mix.Apply(in.mixScratch, srcBus, in.interp); err != nil {
			// MismatchedFormat on the render thread degrades to silence
			// for this source, per spec.md §7.
			continue
		}
		in.scratch.SumFrom(in.mixScratch)
	}
	return in.scratch
}

// Base is the embeddable AudioNode implementation every concrete node
// wraps. It owns inputs/outputs and drives the per-quantum pull
// protocol; concrete nodes supply a Processor for the actual DSP.
type Base struct {
	id        ID
	inputs    []*Input
	outputs   []*Output
	processor Processor

	channelCount          int
	channelCountMode      ChannelCountMode
	channelInterpretation bus.Interpretation

	lastProcessedFrame uint64
	haveProcessed      bool
}

// NewBase constructs a Base with the given arena ID, number of inputs,
// number of outputs, and default output channel count. The concrete DSP
// (a Processor) is wired after construction via SetProcessor because
// most concrete nodes embed Base and need their own address first.
func NewBase(id ID, numInputs, numOutputs, channels, quantumFrames int) *Base {
	b := &Base{
		id:                    id,
		channelCount:          channels,
		channelCountMode:      Max,
		channelInterpretation: bus.Speakers,
	}
	b.inputs = make([]*Input, numInputs)
	for i := range b.inputs {
		b.inputs[i] = NewInput(b, channels, quantumFrames)
	}
	b.outputs = make([]*Output, numOutputs)
	for i := range b.outputs {
		b.outputs[i] = NewOutput(b, i, channels, quantumFrames)
	}
	return b
}

// SetProcessor wires the concrete node's DSP implementation.
func (b *Base) SetProcessor(p Processor) { b.processor = p }

// ID returns the node's arena identity.
func (b *Base) ID() ID { return b.id }

// Input returns input slot i, or nil if out of range.
func (b *Base) Input(i int) *Input {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// Output returns output slot i, or nil if out of range.
func (b *Base) Output(i int) *Output {
	if i < 0 || i >= len(b.outputs) {
		return nil
	}
	return b.outputs[i]
}

// NumberOfInputs and NumberOfOutputs report slot counts.
func (b *Base) NumberOfInputs() int  { return len(b.inputs) }
func (b *Base) NumberOfOutputs() int { return len(b.outputs) }

// SetChannelCount, SetChannelCountMode, SetChannelInterpretation are the
// external configuration API from spec.md §6. They take effect for new
// input negotiation; existing scratch buses resize at the next deferred
// renegotiation.
func (b *Base) SetChannelCount(n int) {
	b.channelCount = n
	for _, in := range b.inputs {
		in.SetChannelCount(n)
	}
}

func (b *Base) SetChannelCountMode(m ChannelCountMode) {
	b.channelCountMode = m
	for _, in := range b.inputs {
		in.SetChannelCountMode(m)
	}
}

func (b *Base) SetChannelInterpretation(i bus.Interpretation) {
	b.channelInterpretation = i
	for _, in := range b.inputs {
		in.SetChannelInterpretation(i)
	}
}

func (b *Base) ChannelCount() int                        { return b.channelCount }
func (b *Base) ChannelCountMode() ChannelCountMode        { return b.channelCountMode }
func (b *Base) ChannelInterpretation() bus.Interpretation { return b.channelInterpretation }

// CheckNumberOfChannelsForInput renegotiates every input's scratch bus
// and, for each Max-mode input whose count changed, resizes the bus of
// output 0 to that input's computed count (the Output itself, and so its
// downstream connections, is kept). Invoked only from a deferred action
// at a quantum boundary (spec.md §4.D).
func (b *Base) CheckNumberOfChannelsForInput() {
	for _, in := range b.inputs {
		changed := in.Renegotiate()
		if changed && in.mode == Max && len(b.outputs) > 0 {
			want := in.ComputedChannelCount()
			if b.outputs[0].bus.NumberOfChannels() != want {
				b.outputs[0].bus = bus.New(want, b.outputs[0].bus.Length())
			}
		}
	}
}

// ClearOutputsRendered clears the "rendered this quantum" flag on every
// output slot. Called once per quantum by the destination, per
// spec.md §4.G.
func (b *Base) ClearOutputsRendered() {
	for _, o := range b.outputs {
		o.ClearRendered()
	}
}

// TailTime and LatencyTime delegate to the processor, or report zero if
// none is installed yet.
func (b *Base) TailTime() float64 {
	if b.processor == nil {
		return 0
	}
	return b.processor.TailTime()
}

func (b *Base) LatencyTime() float64 {
	if b.processor == nil {
		return 0
	}
	return b.processor.LatencyTime()
}

// ProcessIfNecessary implements the pull protocol of spec.md §4.D: pull
// inputs, call Process, mark outputs rendered. Idempotent per quantum,
// keyed on currentSampleFrame.
func (b *Base) ProcessIfNecessary(currentSampleFrame uint64, frames int) {
	if b.haveProcessed && b.lastProcessedFrame == currentSampleFrame {
		return
	}
	for _, in := range b.inputs {
		in.Pull(currentSampleFrame, frames)
	}
	if b.processor != nil {
		b.processor.Process(frames)
	}
	for _, out := range b.outputs {
		out.MarkRendered()
	}
	b.lastProcessedFrame = currentSampleFrame
	b.haveProcessed = true
}
