package scheduler

import "testing"

func TestNewIsUnscheduled(t *testing.T) {
	s := New()
	if s.State() != Unscheduled {
		t.Errorf("initial state: got %v, want UNSCHEDULED", s.State())
	}
}

func TestStartTransitionsThroughFadeInToPlaying(t *testing.T) {
	s := New()
	var startedAt float64
	s.SetCallbacks(func(when float64) { startedAt = when }, nil)
	s.Start(0)

	res := s.Update(0, 128)
	if res.State != Playing {
		t.Errorf("state after start quantum: got %v, want PLAYING", res.State)
	}
	if !res.FadeIn {
		t.Error("expected FadeIn on the start quantum")
	}
	if res.RenderLength != 128 {
		t.Errorf("render length: got %d, want 128", res.RenderLength)
	}
	if startedAt != 0 {
		t.Errorf("onStart called with %f, want 0", startedAt)
	}
}

func TestStartMidQuantumOffsetsRender(t *testing.T) {
	s := New()
	s.Start(64)
	res := s.Update(0, 128)
	if res.RenderOffset != 64 {
		t.Errorf("render offset: got %d, want 64", res.RenderOffset)
	}
	if res.RenderLength != 64 {
		t.Errorf("render length: got %d, want 64", res.RenderLength)
	}
	if !res.FadeIn {
		t.Error("expected FadeIn on the quantum containing the start boundary")
	}
}

func TestStopWithoutStartIsIgnored(t *testing.T) {
	s := New()
	s.Stop(0)
	res := s.Update(0, 128)
	if res.State != Unscheduled {
		t.Errorf("stop before start: got %v, want UNSCHEDULED", res.State)
	}
}

func TestStopTransitionsToFinishedAfterTail(t *testing.T) {
	s := New()
	var ended bool
	s.SetCallbacks(nil, func() { ended = true })
	s.SetTailFrames(128)
	s.Start(0)
	s.Update(0, 128) // FADE_IN -> PLAYING

	s.Stop(128)
	res := s.Update(128, 128)
	if res.State != Stopping {
		t.Errorf("state on stop quantum: got %v, want STOPPING", res.State)
	}
	if !res.FadeOut {
		t.Error("expected FadeOut on the stop quantum")
	}

	res = s.Update(256, 128)
	if res.State != Finished {
		t.Errorf("state after tail elapses: got %v, want FINISHED", res.State)
	}
	if !ended {
		t.Error("onEnded was not called")
	}
}

func TestOnEndedFiresExactlyOnce(t *testing.T) {
	s := New()
	var calls int
	s.SetCallbacks(nil, func() { calls++ })
	s.Start(0)
	s.Update(0, 128)
	s.Stop(128)
	s.Update(128, 128)
	s.Update(256, 128)
	s.Update(384, 128)
	if calls != 1 {
		t.Errorf("onEnded call count: got %d, want 1", calls)
	}
}

func TestResetReschedulesStopAtZero(t *testing.T) {
	s := New()
	var ended bool
	s.SetCallbacks(nil, func() { ended = true })
	s.Start(0)
	s.Update(0, 128)
	s.Reset()
	res := s.Update(0, 128)
	if res.State != Finished {
		t.Errorf("state after reset: got %v, want FINISHED", res.State)
	}
	if !ended {
		t.Error("onEnded was not called after reset")
	}
}

func TestFadeInGainRampsZeroToOne(t *testing.T) {
	if g := FadeInGain(0, 128); g != 0 {
		t.Errorf("FadeInGain(0): got %f, want 0", g)
	}
	if g := FadeInGain(127, 128); g < 0.999 {
		t.Errorf("FadeInGain(127): got %f, want ~1", g)
	}
}

func TestFadeOutGainIsMirrorOfFadeIn(t *testing.T) {
	for i := 0; i < FadeQuantumFrames; i++ {
		in := FadeInGain(i, FadeQuantumFrames)
		out := FadeOutGain(i, FadeQuantumFrames)
		if in+out != 1 {
			t.Errorf("FadeInGain(%d)+FadeOutGain(%d): got %f, want 1", i, i, in+out)
		}
	}
}
