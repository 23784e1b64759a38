package bus

import "testing"

func TestNewShape(t *testing.T) {
	b := New(2, 128)
	if b.NumberOfChannels() != 2 {
		t.Errorf("channels: got %d, want 2", b.NumberOfChannels())
	}
	if b.Length() != 128 {
		t.Errorf("length: got %d, want 128", b.Length())
	}
	for c := 0; c < 2; c++ {
		if len(b.Channel(c)) != 128 {
			t.Errorf("channel %d length: got %d, want 128", c, len(b.Channel(c)))
		}
	}
}

func TestNewFromPlanes(t *testing.T) {
	planes := [][]float32{{1, 2, 3}, {4, 5, 6}}
	b := NewFromPlanes(planes)
	if b.NumberOfChannels() != 2 || b.Length() != 3 {
		t.Fatalf("unexpected shape: %d channels, %d frames", b.NumberOfChannels(), b.Length())
	}
	if b.Channel(1)[2] != 6 {
		t.Errorf("channel 1: got %v, want aliasing of input plane", b.Channel(1))
	}
}

func TestZero(t *testing.T) {
	b := New(1, 4)
	ch := b.Channel(0)
	for i := range ch {
		ch[i] = 1
	}
	b.Zero()
	for i, s := range b.Channel(0) {
		if s != 0 {
			t.Errorf("sample %d not zeroed: %f", i, s)
		}
	}
}

func TestSumFromMismatch(t *testing.T) {
	a := New(2, 4)
	b := New(1, 4)
	if err := a.SumFrom(b); err == nil {
		t.Fatal("expected ErrMismatchedFormat for channel mismatch")
	}
}

func TestSumFromAccumulates(t *testing.T) {
	a := New(1, 4)
	b := New(1, 4)
	copy(a.Channel(0), []float32{1, 1, 1, 1})
	copy(b.Channel(0), []float32{2, 2, 2, 2})
	if err := a.SumFrom(b); err != nil {
		t.Fatalf("SumFrom: %v", err)
	}
	for i, s := range a.Channel(0) {
		if !approxEqual(s, 3) {
			t.Errorf("sample %d: got %f, want 3", i, s)
		}
	}
}

func TestScale(t *testing.T) {
	b := New(1, 3)
	copy(b.Channel(0), []float32{1, 2, 3})
	b.Scale(2)
	want := []float32{2, 4, 6}
	for i, s := range b.Channel(0) {
		if s != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, s, want[i])
		}
	}
}

func TestClampLimitsRange(t *testing.T) {
	b := New(1, 3)
	copy(b.Channel(0), []float32{-2, 0.5, 2})
	b.Clamp()
	want := []float32{-1, 0.5, 1}
	for i, s := range b.Channel(0) {
		if s != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, s, want[i])
		}
	}
}

func TestIsSilent(t *testing.T) {
	b := New(2, 8)
	if !b.IsSilent() {
		t.Error("freshly-allocated bus should be silent")
	}
	b.Channel(1)[3] = 0.001
	if b.IsSilent() {
		t.Error("bus with a nonzero sample reported silent")
	}
}

func TestMaxAbsValue(t *testing.T) {
	b := New(1, 4)
	copy(b.Channel(0), []float32{-0.2, 0.9, -0.5, 0.1})
	if got := b.MaxAbsValue(); got != 0.9 {
		t.Errorf("MaxAbsValue: got %f, want 0.9", got)
	}
}

func TestCopyWithGainFromRampsLinearly(t *testing.T) {
	src := New(1, 4)
	for i := range src.Channel(0) {
		src.Channel(0)[i] = 1
	}
	dst := New(1, 4)
	lastGain := float32(0)
	if err := dst.CopyWithGainFrom(src, &lastGain, 1); err != nil {
		t.Fatalf("CopyWithGainFrom: %v", err)
	}
	if lastGain != 1 {
		t.Errorf("lastGain not updated: got %f, want 1", lastGain)
	}
	out := dst.Channel(0)
	if out[0] != 0 {
		t.Errorf("first sample should start at gain 0: got %f", out[0])
	}
	if out[3] <= out[0] {
		t.Errorf("gain ramp did not increase: %v", out)
	}
}

func TestCopyWithGainFromSteadyState(t *testing.T) {
	src := New(1, 4)
	for i := range src.Channel(0) {
		src.Channel(0)[i] = 1
	}
	dst := New(1, 4)
	lastGain := float32(0.5)
	if err := dst.CopyWithGainFrom(src, &lastGain, 0.5); err != nil {
		t.Fatalf("CopyWithGainFrom: %v", err)
	}
	for i, s := range dst.Channel(0) {
		if !approxEqual(s, 0.5) {
			t.Errorf("sample %d: got %f, want 0.5 (no gain change)", i, s)
		}
	}
}
