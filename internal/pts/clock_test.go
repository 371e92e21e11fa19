package pts

import "testing"

func fakeClock(start int64) (NowFunc, *int64) {
	t := start
	return func() int64 { return t }, &t
}

func TestCompute_FirstFrame(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(0)
	c := New(now)

	r := c.Compute(1000, 500)
	if r.PTS != 0 {
		t.Fatalf("first frame pts = %d, want 0", r.PTS)
	}
	if r.Resynced {
		t.Fatal("first frame should not be a resync")
	}
}

func TestCompute_ForwardDelta(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(0)
	c := New(now)

	c.Compute(1000, 500)
	r := c.Compute(1000, 530)
	if r.PTS != 30_000_000 {
		t.Fatalf("pts = %d, want 30ms in ns", r.PTS)
	}
	if r.Resynced {
		t.Fatal("small forward delta should not resync")
	}
}

func TestCompute_BackwardDeltaClamped(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(0)
	c := New(now)

	c.Compute(1000, 500)
	r := c.Compute(1000, 450) // backward 50ms, within tolerance
	if r.PTS != 0 {
		t.Fatalf("pts = %d, want clamped to 0", r.PTS)
	}
	if r.Resynced {
		t.Fatal("small backward delta should not resync")
	}
}

func TestCompute_BackwardDeltaClampedMidStream(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(0)
	c := New(now)

	c.Compute(1000, 0)
	r1 := c.Compute(1000, 500) // advances pts to 500ms
	if r1.PTS != 500_000_000 {
		t.Fatalf("pts = %d, want 500ms in ns", r1.PTS)
	}

	r2 := c.Compute(1000, 450) // backward 50ms, within tolerance
	if r2.Resynced {
		t.Fatal("small backward delta should not resync")
	}
	if r2.PTS < r1.PTS {
		t.Fatalf("pts decreased across an in-tolerance backward step: %d -> %d", r1.PTS, r2.PTS)
	}
	if r2.PTS != r1.PTS {
		t.Fatalf("pts = %d, want held at %d", r2.PTS, r1.PTS)
	}
}

func TestCompute_Wrap(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(0)
	c := New(now)

	c.Compute(1000, 65500)
	r := c.Compute(1000, 200)
	// forward = (200 - 65500) mod 2^16 = 236
	if r.PTS != 236_000_000 {
		t.Fatalf("pts = %d, want 236ms in ns", r.PTS)
	}
	if r.Resynced {
		t.Fatal("valid wrap should not resync")
	}
}

func TestCompute_ResyncIsContinuous(t *testing.T) {
	t.Parallel()
	now, cur := fakeClock(0)
	c := New(now)

	c.Compute(1000, 500)
	*cur = int64(1 * 1e9) // 1s of pipeline-clock elapsed
	r1 := c.Compute(1000, 520)
	if r1.PTS != 20_000_000 {
		t.Fatalf("pts before resync = %d, want 20ms", r1.PTS)
	}

	*cur += int64(1 * 1e9) // another 1s elapsed
	r2 := c.Compute(5000, 10000)
	if !r2.Resynced {
		t.Fatal("large jump should trigger resync")
	}
	if r2.PTS < r1.PTS {
		t.Fatalf("pts decreased across resync: %d -> %d", r1.PTS, r2.PTS)
	}

	// Subsequent frames continue to advance monotonically from the
	// resync point using normal forward deltas.
	r3 := c.Compute(5000, 10010)
	if r3.PTS <= r2.PTS {
		t.Fatalf("pts did not advance after resync: %d -> %d", r2.PTS, r3.PTS)
	}
}
