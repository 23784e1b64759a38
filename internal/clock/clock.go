// Package clock implements the double-buffered sampling clock described
// in spec.md §3/§4.H: a monotonically increasing frame counter written
// only by the render thread and readable lock-free by any other thread.
package clock

import "sync/atomic"

// snapshot is one half of the double buffer: the sample rate and wall
// time corresponding to a particular currentSampleFrame value.
type snapshot struct {
	frame       uint64
	currentTime float64
	sampleRate  float32
}

// Sampling is the render clock. The zero value is not usable; use New.
type Sampling struct {
	frame atomic.Uint64
	epoch [2]atomic.Pointer[snapshot]
}

// New returns a Sampling clock initialized at frame 0 for the given
// sample rate.
func New(sampleRate float32) *Sampling {
	s := &Sampling{}
	snap := &snapshot{currentTime: 0, sampleRate: sampleRate}
	s.epoch[0].Store(snap)
	s.epoch[1].Store(snap)
	return s
}

// Advance is called only by the render thread at the end of each
// quantum. It publishes the new snapshot, tagged with its frame, to the
// epoch slot the next reader will look at, then increments frame —
// readers that observe the frame change, or a snapshot tagged with a
// different frame, retry against the now-consistent slot.
func (s *Sampling) Advance(frames uint64, sampleRate float32) {
	cur := s.frame.Load()
	next := cur + frames
	slot := next & 1
	snap := &snapshot{
		frame:       next,
		currentTime: float64(next) / float64(sampleRate),
		sampleRate:  sampleRate,
	}
	s.epoch[slot].Store(snap)
	s.frame.Store(next)
}

// CurrentSampleFrame returns the current frame count. Safe for concurrent
// use; always non-decreasing (§8 invariant 6).
func (s *Sampling) CurrentSampleFrame() uint64 {
	return s.frame.Load()
}

// Info is a consistent snapshot of the clock as observed by a non-render
// thread.
type Info struct {
	CurrentSampleFrame uint64
	CurrentTime        float64
	SampleRate         float32
}

// Read returns a consistent snapshot using the frame-then-epoch-then-frame
// retry protocol from spec.md §4.H: load frame, load the epoch slot for
// that frame's parity, load frame again, and retry if it moved or if the
// slot already holds the snapshot of a frame not yet published.
func (s *Sampling) Read() Info {
	for {
		f1 := s.frame.Load()
		snap := s.epoch[f1&1].Load()
		f2 := s.frame.Load()
		if f1 == f2 && snap.frame == f1 {
			return Info{
				CurrentSampleFrame: f1,
				CurrentTime:        snap.currentTime,
				SampleRate:         snap.sampleRate,
			}
		}
	}
}
