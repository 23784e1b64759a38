// Package param implements AudioParam: a scalar parameter with timeline
// automation (spec.md §3/§4.B), evaluated per sample frame on the render
// thread and mutated from user threads under the graph lock.
//
// The timeline is stored as an immutable, sorted slice of events. Writers
// build a new slice and publish it with an atomic pointer swap so the
// render thread never blocks on a lock to read it — only the write side
// takes mu, matching the graph-lock/render-lock split in
// spec.md §4.F.
package param

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Errors surfaced synchronously to callers of the event-insertion API.
var (
	ErrInvalidTime   = errors.New("param: invalid time")
	ErrInvalidDomain = errors.New("param: invalid domain")
)

type kind int

const (
	kindSetValue kind = iota
	kindLinearRamp
	kindExponentialRamp
	kindSetTarget
	kindSetValueCurve
)

type event struct {
	kind         kind
	time         float64
	value        float64   // target value for setValue/ramp/setTarget
	timeConstant float64   // setTarget only
	curve        []float32 // setValueCurve only
	duration     float64   // setValueCurve only
	seq          uint64    // insertion order, tie-break for equal times

	// resolvedStart is the value the timeline produces immediately before
	// this event takes effect, counting a preceding setTarget event as
	// already at its target value. Precomputed when the event list is
	// rebuilt so render-thread evaluation never needs to walk backward.
	resolvedStart float64
}

// Driver is an audio-rate modulation source: an upstream node output that
// is summed, sample-by-sample, into the parameter's evaluated value. The
// node package's Output type implements this without param needing to
// import node (which would cycle, since nodes own Params).
type Driver interface {
	// RenderInto fills out with this driver's per-frame channel-0 samples
	// for the current quantum. len(out) is the quantum's frame count.
	RenderInto(out []float64)
}

// Param is a single scalar automation parameter.
type Param struct {
	name       string
	sampleRate float64

	mu       sync.Mutex // serializes timeline mutation (graph lock scope)
	base     float64    // value set via SetValue when no preceding event governs
	events   atomic.Pointer[[]event]
	nextSeq  uint64
	drivers  []Driver
	driverMu sync.Mutex
	scratch  []float64 // reused by CalculateSampleAccurateValues, guarded by driverMu
}

// New returns a Param with the given default value and sample rate. name
// is used only for diagnostics.
func New(name string, defaultValue float64, sampleRate float64) *Param {
	p := &Param{name: name, sampleRate: sampleRate, base: defaultValue}
	empty := make([]event, 0)
	p.events.Store(&empty)
	return p
}

// Name returns the parameter's diagnostic name.
func (p *Param) Name() string { return p.name }

// SetValue sets the instantaneous base value. It takes effect immediately
// for any time not already governed by a timeline event, and is
// superseded by any event already in the past relative to a given
// evaluation time.
func (p *Param) SetValue(v float64) {
	p.mu.Lock()
	p.base = v
	p.mu.Unlock()
}

// AddDriver connects an audio-rate modulation source. Connection
// mutation happens under the graph lock in the caller (context package);
// Param itself only guards its own driver slice.
func (p *Param) AddDriver(d Driver) {
	p.driverMu.Lock()
	p.drivers = append(p.drivers, d)
	p.driverMu.Unlock()
}

// RemoveDriver disconnects a previously added driver.
func (p *Param) RemoveDriver(d Driver) {
	p.driverMu.Lock()
	defer p.driverMu.Unlock()
	for i, existing := range p.drivers {
		if existing == d {
			p.drivers = append(p.drivers[:i], p.drivers[i+1:]...)
			return
		}
	}
}

// SetValueAtTime schedules value v to take effect exactly at time t
// (seconds, absolute). Returns ErrInvalidTime if t < 0.
func (p *Param) SetValueAtTime(v float64, t float64) error {
	return p.insert(event{kind: kindSetValue, time: t, value: v})
}

// LinearRampToValueAtTime schedules a linear ramp reaching value v at
// time t.
func (p *Param) LinearRampToValueAtTime(v float64, t float64) error {
	return p.insert(event{kind: kindLinearRamp, time: t, value: v})
}

// ExponentialRampToValueAtTime schedules a geometric ramp reaching value
// v at time t. Both v and the value the ramp starts from must be
// positive (ErrInvalidDomain otherwise — checked here for v, and on
// insertion for the start value of every exponential ramp in the
// timeline).
func (p *Param) ExponentialRampToValueAtTime(v float64, t float64) error {
	if v <= 0 {
		return fmt.Errorf("exponential ramp to %v: %w", v, ErrInvalidDomain)
	}
	return p.insert(event{kind: kindExponentialRamp, time: t, value: v})
}

// SetTargetAtTime schedules a first-order exponential approach toward v
// starting at time t with time constant tau (seconds). The approach
// continues until superseded by a later event.
func (p *Param) SetTargetAtTime(v float64, t float64, tau float64) error {
	return p.insert(event{kind: kindSetTarget, time: t, value: v, timeConstant: tau})
}

// SetValueCurveAtTime schedules curve to be sampled (with linear
// interpolation across its length) over [t, t+duration).
func (p *Param) SetValueCurveAtTime(curve []float32, t float64, duration float64) error {
	cp := make([]float32, len(curve))
	copy(cp, curve)
	return p.insert(event{kind: kindSetValueCurve, time: t, curve: cp, duration: duration})
}

// insert validates, appends, re-sorts, recomputes resolvedStart fields,
// and publishes a new immutable snapshot.
func (p *Param) insert(e event) error {
	if e.time < 0 {
		return fmt.Errorf("%s: time %v: %w", p.nameOrDefault(), e.time, ErrInvalidTime)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old := *p.events.Load()
	for _, existing := range old {
		if existing.kind == e.kind && existing.time == e.time {
			return fmt.Errorf("%s: duplicate ramp endpoint at %v: %w", p.nameOrDefault(), e.time, ErrInvalidTime)
		}
	}

	e.seq = p.nextSeq
	p.nextSeq++

	next := make([]event, len(old)+1)
	copy(next, old)
	next[len(old)] = e
	sort.SliceStable(next, func(i, j int) bool {
		if next[i].time != next[j].time {
			return next[i].time < next[j].time
		}
		return next[i].seq < next[j].seq
	})

	anchor := p.base
	for i := range next {
		ev := &next[i]
		switch ev.kind {
		case kindLinearRamp, kindExponentialRamp, kindSetTarget:
			ev.resolvedStart = anchor
			anchor = ev.value
		case kindSetValue:
			anchor = ev.value
		case kindSetValueCurve:
			ev.resolvedStart = anchor
			if len(ev.curve) > 0 {
				anchor = float64(ev.curve[len(ev.curve)-1])
			}
		}
	}

	for _, ev := range next {
		if ev.kind == kindExponentialRamp && ev.resolvedStart <= 0 {
			return fmt.Errorf("%s: exponential ramp from non-positive start %v: %w", p.nameOrDefault(), ev.resolvedStart, ErrInvalidDomain)
		}
	}

	p.events.Store(&next)
	return nil
}

func (p *Param) nameOrDefault() string {
	if p.name == "" {
		return "param"
	}
	return p.name
}

// ValueAt evaluates the timeline (ignoring drivers) at absolute time t.
func (p *Param) ValueAt(t float64) float64 {
	events := *p.events.Load()
	return evaluate(events, p.base, t)
}

func evaluate(events []event, base float64, t float64) float64 {
	i := sort.Search(len(events), func(i int) bool { return events[i].time > t }) - 1
	if i < 0 {
		return base
	}
	e := events[i]

	if i+1 < len(events) {
		next := events[i+1]
		if t < next.time && (next.kind == kindLinearRamp || next.kind == kindExponentialRamp) {
			frac := 0.0
			if next.time > e.time {
				frac = (t - e.time) / (next.time - e.time)
			}
			start := valueAtEventEnd(e)
			switch next.kind {
			case kindLinearRamp:
				return start + (next.value-start)*frac
			case kindExponentialRamp:
				if start <= 0 || next.value <= 0 {
					return next.value
				}
				return start * math.Pow(next.value/start, frac)
			}
		}
	}

	switch e.kind {
	case kindSetValue, kindLinearRamp, kindExponentialRamp:
		return e.value
	case kindSetTarget:
		if e.timeConstant <= 0 {
			return e.value
		}
		dt := t - e.time
		return e.value + (e.resolvedStart-e.value)*math.Exp(-dt/e.timeConstant)
	case kindSetValueCurve:
		return sampleCurve(e, t)
	default:
		return base
	}
}

// valueAtEventEnd returns the value an event leaves the timeline at,
// used as the starting point for a following ramp.
func valueAtEventEnd(e event) float64 {
	switch e.kind {
	case kindSetValue, kindLinearRamp, kindExponentialRamp:
		return e.value
	case kindSetTarget:
		return e.value
	case kindSetValueCurve:
		if len(e.curve) > 0 {
			return float64(e.curve[len(e.curve)-1])
		}
		return e.resolvedStart
	default:
		return e.resolvedStart
	}
}

func sampleCurve(e event, t float64) float64 {
	if len(e.curve) == 0 {
		return e.resolvedStart
	}
	if len(e.curve) == 1 || e.duration <= 0 {
		return float64(e.curve[0])
	}
	elapsed := t - e.time
	if elapsed <= 0 {
		return float64(e.curve[0])
	}
	if elapsed >= e.duration {
		return float64(e.curve[len(e.curve)-1])
	}
	pos := elapsed / e.duration * float64(len(e.curve)-1)
	idx := int(pos)
	frac := pos - float64(idx)
	if idx >= len(e.curve)-1 {
		return float64(e.curve[len(e.curve)-1])
	}
	a, b := float64(e.curve[idx]), float64(e.curve[idx+1])
	return a + (b-a)*frac
}

// CalculateSampleAccurateValues fills out with the parameter's value at
// each frame from startFrame to startFrame+len(out), then sums any
// connected audio-rate drivers sample-by-sample.
func (p *Param) CalculateSampleAccurateValues(out []float64, startFrame uint64) {
	events := *p.events.Load()
	base := p.base
	for i := range out {
		t := float64(startFrame+uint64(i)) / p.sampleRate
		out[i] = evaluate(events, base, t)
	}

	p.driverMu.Lock()
	defer p.driverMu.Unlock()
	if len(p.drivers) == 0 {
		return
	}
	if cap(p.scratch) < len(out) {
		p.scratch = make([]float64, len(out))
	}
	scratch := p.scratch[:len(out)]
	for _, d := range p.drivers {
		d.RenderInto(scratch)
		for i := range out {
			out[i] += scratch[i]
		}
	}
}

// FinalValue returns the scalar fallback used when the parameter has no
// driver inputs and no future events: the timeline's value at "now",
// ignoring drivers (with no events after now this is also its terminal
// value), or the base value if the timeline is empty.
func (p *Param) FinalValue(now float64) float64 {
	return p.ValueAt(now)
}
