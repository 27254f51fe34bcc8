package runner

import (
	"testing"
	"time"

	"github.com/torosent/streamfire/internal/producer"
)

func TestNextIntDegeneratesToMin(t *testing.T) {
	s := newParamSource(1)
	for i := 0; i < 50; i++ {
		if got := s.nextInt(100, 100); got != 100 {
			t.Fatalf("nextInt(100,100) = %d", got)
		}
	}
}

func TestNextIntExcludesMax(t *testing.T) {
	s := newParamSource(7)
	for i := 0; i < 1000; i++ {
		got := s.nextInt(1, 3)
		if got < 1 || got >= 3 {
			t.Fatalf("nextInt(1,3) = %d", got)
		}
	}
}

func TestFailOffset(t *testing.T) {
	s := newParamSource(3)
	if got := s.failOffset(0); got != producer.NoFailure {
		t.Errorf("failOffset(0) = %d, want no failure", got)
	}
	if got := s.failOffset(1); got != 0 {
		t.Errorf("failOffset(1) = %d, want 0", got)
	}
	for i := 0; i < 1000; i++ {
		if got := s.failOffset(1000); got < 0 || got >= 500 {
			t.Fatalf("failOffset(1000) = %d, want [0,500)", got)
		}
	}
}

func TestDrawIsDeterministic(t *testing.T) {
	opt := &Options{SizeMin: 100, SizeMax: 100000, DurationMin: 10, DurationMax: 30, SleepMin: 1, SleepMax: 3}
	a, b := newParamSource(31337), newParamSource(31337)
	for i := 0; i < 20; i++ {
		fail := i%3 == 1
		pa, pb := a.draw(i, opt, fail), b.draw(i, opt, fail)
		if pa != pb {
			t.Fatalf("draw %d differs: %+v vs %+v", i, pa, pb)
		}
		if i == 0 && pa.sleep != 0 {
			t.Fatalf("index 0 must not sleep, got %s", pa.sleep)
		}
		if i != 0 && (pa.sleep < time.Second || pa.sleep >= 3*time.Second) {
			t.Fatalf("sleep %s out of range", pa.sleep)
		}
		if pa.size < 100 || pa.size >= 100000 {
			t.Fatalf("size %d out of range", pa.size)
		}
		if pa.duration < 10*time.Second || pa.duration >= 30*time.Second || pa.duration%time.Second != 0 {
			t.Fatalf("duration %s out of range", pa.duration)
		}
		if fail != (pa.failAt != producer.NoFailure) {
			t.Fatalf("failAt %d for fail=%v", pa.failAt, fail)
		}
		if fail && pa.failAt >= pa.size/2 {
			t.Fatalf("failAt %d not below half of %d", pa.failAt, pa.size)
		}
	}
}

func TestFailFlagShiftsLaterDraws(t *testing.T) {
	opt := &Options{SizeMin: 100, SizeMax: 1000, DurationMin: 1, DurationMax: 5}
	plain, flagged := newParamSource(9), newParamSource(9)
	plain.draw(0, opt, false)
	flagged.draw(0, opt, true)
	// The extra fail draw consumes one value, so the streams diverge.
	if plain.draw(1, opt, false) == flagged.draw(1, opt, false) {
		t.Fatal("expected fail offset draw to consume the shared stream")
	}
}
