package local

import (
	"errors"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestSamplerKeepsPeaks(t *testing.T) {
	s := &sampler{interval: time.Second}
	t0 := time.Unix(0, 0)
	samples := []struct {
		at    time.Duration
		cpu   time.Duration
		rssMB float64
	}{
		{0, 0, 10},
		{500 * time.Millisecond, 100 * time.Millisecond, 40},
		{time.Second, 500 * time.Millisecond, 25},
		{1500 * time.Millisecond, 550 * time.Millisecond, 30},
	}
	for _, smp := range samples {
		s.observe(usage{cpu: smp.cpu, rssMB: smp.rssMB}, t0.Add(smp.at))
	}
	if math.Abs(s.cpuPeak-80) > 1e-9 {
		t.Errorf("cpuPeak = %v, want 80", s.cpuPeak)
	}
	if s.memPeak != 40 {
		t.Errorf("memPeak = %v, want 40", s.memPeak)
	}
}

func TestSamplerPollsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	s := &sampler{interval: 5 * time.Millisecond, read: func(pid int) (usage, error) {
		n := calls.Add(1)
		if n == 2 {
			return usage{}, errors.New("gone")
		}
		return usage{rssMB: float64(n)}, nil
	}}
	stop := s.start(1)
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()
	after := calls.Load()
	if after < 4 {
		t.Fatalf("read %d times", after)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Error("sampling continued after stop")
	}
	if s.memPeak < 3 {
		t.Errorf("memPeak = %v", s.memPeak)
	}
}

func TestParseProc(t *testing.T) {
	stat := "4242 (my (odd) cmd) S 1 4242 4242 0 -1 4194560 500 0 0 0 250 50 0 0 20 0 1 0 100 0 0"
	u, err := parseProc(stat, "5000 2560 300 1 0 400 0", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if u.cpu != 3*time.Second {
		t.Errorf("cpu = %v, want 3s", u.cpu)
	}
	if u.rssMB != 10 {
		t.Errorf("rssMB = %v, want 10", u.rssMB)
	}

	for _, bad := range []string{"no paren", "1 (x) S 1"} {
		if _, err := parseProc(bad, "1 1", 4096); err == nil {
			t.Errorf("parseProc(%q) accepted", bad)
		}
	}
}

func TestReadProcSelf(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no procfs")
	}
	u, err := readProc(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if u.rssMB <= 0 {
		t.Errorf("rssMB = %v", u.rssMB)
	}
}
