package destination

import (
	"testing"

	"bken/audiograph/actx"
	"bken/audiograph/node"
)

// constProcessor is the minimal Processor test double used across this
// module's tests — concrete DSP nodes are out of scope for the graph
// engine itself, so tests only need an observable constant source.
type constProcessor struct {
	out   *node.Base
	value float32
}

func (c *constProcessor) Process(frames int) {
	b := c.out.Output(0).Bus()
	for ch := 0; ch < b.NumberOfChannels(); ch++ {
		plane := b.Channel(ch)
		for i := 0; i < frames && i < len(plane); i++ {
			plane[i] = c.value
		}
	}
}

func (c *constProcessor) TailTime() float64    { return 0 }
func (c *constProcessor) LatencyTime() float64 { return 0 }

func newConstSource(ctx *actx.Context, value float32) *node.Base {
	n := ctx.NewNode(0, 1, ctx.Channels())
	n.SetProcessor(&constProcessor{out: n, value: value})
	return n
}

func TestOfflineRenderProducesConstantSignal(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 48000, Channels: 1, QuantumFrames: 128})
	src := newConstSource(ctx, 0.5)
	off := NewOffline(ctx, 256)
	if err := ctx.Connect(src, off.Node(), 0, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out := off.Render()
	if out.Length() != 256 {
		t.Fatalf("length: got %d, want 256", out.Length())
	}
	for i, s := range out.Channel(0) {
		if s != 0.5 {
			t.Errorf("sample %d: got %f, want 0.5", i, s)
		}
	}
}

func TestOfflineRenderTruncatesFinalPartialQuantum(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 48000, Channels: 1, QuantumFrames: 128})
	src := newConstSource(ctx, 1)
	off := NewOffline(ctx, 200) // one and a half quanta
	if err := ctx.Connect(src, off.Node(), 0, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out := off.Render()
	if out.Length() != 200 {
		t.Fatalf("length: got %d, want 200", out.Length())
	}
}

func TestNewOfflineSecondsRoundsUpToQuantum(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 100, Channels: 1, QuantumFrames: 128})
	off := NewOfflineSeconds(ctx, 1) // 100 frames rounds up to one 128-frame quantum
	out := off.Render()
	if out.Length() != 128 {
		t.Errorf("length: got %d, want 128", out.Length())
	}
}

func TestOfflineKeepsOutOfRangeSamples(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 48000, Channels: 1, QuantumFrames: 128})
	src := newConstSource(ctx, 2.0)
	off := NewOffline(ctx, 128)
	if err := ctx.Connect(src, off.Node(), 0, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out := off.Render()
	if got := out.Channel(0)[0]; got != 2.0 {
		t.Errorf("unclamped sample: got %f, want 2.0", got)
	}
}

type fakeDriver struct {
	started, stopped bool
	channels, frames int
	render           func() []float32
}

func (f *fakeDriver) Start(channels, frames int, render func() []float32) error {
	f.started = true
	f.channels, f.frames = channels, frames
	f.render = render
	return nil
}

func (f *fakeDriver) Stop() error {
	f.stopped = true
	return nil
}

func TestRealtimeStartPullsQuantumThroughDriver(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 48000, Channels: 2, QuantumFrames: 128})
	src := newConstSource(ctx, 0.25)
	drv := &fakeDriver{}
	rt := NewRealtime(ctx, drv)
	if err := ctx.Connect(src, rt.Node(), 0, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !drv.started {
		t.Fatal("driver Start was not called")
	}
	if drv.channels != 2 || drv.frames != 128 {
		t.Errorf("driver params: got channels=%d frames=%d, want 2,128", drv.channels, drv.frames)
	}

	buf := drv.render()
	if len(buf) != 2*128 {
		t.Fatalf("interleaved buffer length: got %d, want %d", len(buf), 2*128)
	}
	for i, s := range buf {
		if s != 0.25 {
			t.Errorf("sample %d: got %f, want 0.25", i, s)
		}
	}

	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !drv.stopped {
		t.Error("driver Stop was not called")
	}
}

func TestRealtimeStopBeforeStartIsNoop(t *testing.T) {
	ctx := actx.New(actx.Options{SampleRate: 48000, Channels: 2, QuantumFrames: 128})
	rt := NewRealtime(ctx, &fakeDriver{})
	if err := rt.Stop(); err != nil {
		t.Errorf("Stop before Start: got %v, want nil", err)
	}
}
