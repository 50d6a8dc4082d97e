package linescan

import (
	"testing"
	"time"
)

func uniformSet(n int, value float64) *SampleSet {
	set := &SampleSet{
		Timestamp:  time.Now(),
		Positions:  make([]float64, n),
		Red:        make([]float64, n),
		Green:      make([]float64, n),
		Blue:       make([]float64, n),
		Intensity:  make([]float64, n),
		LineLength: float64(n - 1),
	}
	for i := 0; i < n; i++ {
		set.Positions[i] = float64(i) / float64(n-1)
		set.Red[i] = value
		set.Green[i] = value
		set.Blue[i] = value
		set.Intensity[i] = value
	}
	return set
}

func TestAccumulatorEmitsAfterTargetPushes(t *testing.T) {
	acc := NewAccumulator(3)

	// Nothing emitted before the Nth push.
	for i := 0; i < 2; i++ {
		if trace := acc.Push(uniformSet(11, 100)); trace != nil {
			t.Fatalf("push %d emitted early", i+1)
		}
	}
	if buffered := acc.Buffered(); buffered != 2 {
		t.Fatalf("buffered = %d, want 2", buffered)
	}

	trace := acc.Push(uniformSet(11, 100))
	if trace == nil {
		t.Fatal("third push emitted nothing")
	}
	if trace.FrameCount != 3 {
		t.Errorf("FrameCount = %d, want 3", trace.FrameCount)
	}
	for i, v := range trace.Red {
		if v != 300 {
			t.Errorf("red[%d] = %v, want 300", i, v)
		}
	}

	// Buffer resets after emission: the next push starts a fresh window.
	if buffered := acc.Buffered(); buffered != 0 {
		t.Errorf("buffered after emission = %d, want 0", buffered)
	}
	if trace := acc.Push(uniformSet(11, 100)); trace != nil {
		t.Error("push after emission should start a new window, not emit")
	}
}

func TestAccumulatorSumsEachChannelIndependently(t *testing.T) {
	acc := NewAccumulator(2)

	a := uniformSet(5, 0)
	b := uniformSet(5, 0)
	for i := 0; i < 5; i++ {
		a.Red[i] = float64(i)
		b.Red[i] = float64(10 * i)
		a.Green[i] = 1
		b.Green[i] = 2
		a.Blue[i] = 7
		b.Blue[i] = 0
	}

	acc.Push(a)
	trace := acc.Push(b)
	if trace == nil {
		t.Fatal("expected emission on second push")
	}
	for i := 0; i < 5; i++ {
		if want := float64(11 * i); trace.Red[i] != want {
			t.Errorf("red[%d] = %v, want %v", i, trace.Red[i], want)
		}
		if trace.Green[i] != 3 {
			t.Errorf("green[%d] = %v, want 3", i, trace.Green[i])
		}
		if trace.Blue[i] != 7 {
			t.Errorf("blue[%d] = %v, want 7", i, trace.Blue[i])
		}
	}
}

func TestAccumulatorUsesFirstSetAsTemplate(t *testing.T) {
	acc := NewAccumulator(2)

	first := uniformSet(5, 1)
	first.LineLength = 4
	second := uniformSet(5, 1)
	second.LineLength = 999 // geometry moved mid-window; template wins

	acc.Push(first)
	trace := acc.Push(second)
	if trace == nil {
		t.Fatal("expected emission")
	}
	if trace.LineLength != 4 {
		t.Errorf("LineLength = %v, want 4 (from first set)", trace.LineLength)
	}
	for i, p := range trace.Positions {
		if p != first.Positions[i] {
			t.Errorf("positions[%d] = %v, want template value %v", i, p, first.Positions[i])
		}
	}
}

func TestAccumulatorSetTargetClearsBuffer(t *testing.T) {
	acc := NewAccumulator(10)
	for i := 0; i < 3; i++ {
		acc.Push(uniformSet(5, 1))
	}
	if acc.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", acc.Buffered())
	}

	if !acc.SetTarget(5) {
		t.Fatal("SetTarget(5) rejected")
	}
	if acc.Buffered() != 0 {
		t.Errorf("buffered after SetTarget = %d, want 0 (partial sums discarded)", acc.Buffered())
	}

	// Collection restarts from zero toward the new target of 5.
	for i := 0; i < 4; i++ {
		if trace := acc.Push(uniformSet(5, 1)); trace != nil {
			t.Fatalf("emitted after %d pushes, want emission only at 5", i+1)
		}
	}
	if trace := acc.Push(uniformSet(5, 1)); trace == nil || trace.FrameCount != 5 {
		t.Errorf("expected emission with FrameCount=5, got %+v", trace)
	}
}

func TestAccumulatorRejectsInvalidTarget(t *testing.T) {
	acc := NewAccumulator(4)
	acc.Push(uniformSet(5, 1))

	if acc.SetTarget(0) {
		t.Error("SetTarget(0) accepted, want rejection")
	}
	if acc.Target() != 4 {
		t.Errorf("target after rejected update = %d, want 4 (previous value retained)", acc.Target())
	}
	if acc.Buffered() != 1 {
		t.Errorf("rejected update cleared the buffer: buffered = %d, want 1", acc.Buffered())
	}
}

func TestAccumulatorTargetOneEmitsEveryPush(t *testing.T) {
	acc := NewAccumulator(1)
	for i := 0; i < 3; i++ {
		trace := acc.Push(uniformSet(5, 2))
		if trace == nil {
			t.Fatalf("push %d emitted nothing with target 1", i+1)
		}
		if trace.FrameCount != 1 {
			t.Errorf("FrameCount = %d, want 1", trace.FrameCount)
		}
		if trace.Red[0] != 2 {
			t.Errorf("red[0] = %v, want 2 (single-frame sum)", trace.Red[0])
		}
	}
}

func TestAccumulatorMismatchedLengthsSumOverlap(t *testing.T) {
	acc := NewAccumulator(2)
	first := uniformSet(5, 1)
	shorter := uniformSet(3, 1)

	acc.Push(first)
	trace := acc.Push(shorter)
	if trace == nil {
		t.Fatal("expected emission")
	}
	if trace.Len() != 5 {
		t.Fatalf("trace length = %d, want template length 5", trace.Len())
	}
	for i := 0; i < 3; i++ {
		if trace.Red[i] != 2 {
			t.Errorf("red[%d] = %v, want 2", i, trace.Red[i])
		}
	}
	for i := 3; i < 5; i++ {
		if trace.Red[i] != 1 {
			t.Errorf("red[%d] = %v, want 1 (no contribution from shorter set)", i, trace.Red[i])
		}
	}
}
