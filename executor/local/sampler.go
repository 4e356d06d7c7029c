package local

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSampleInterval is how often a running command's usage is read.
const DefaultSampleInterval = 500 * time.Millisecond

// clockTicks is USER_HZ, the unit of utime and stime in /proc/<pid>/stat.
const clockTicks = 100

type usage struct {
	cpu   time.Duration
	rssMB float64
}

// sampler polls a process and keeps its CPU and memory peaks. CPU is the
// busy share of one core between two consecutive samples.
type sampler struct {
	read     func(pid int) (usage, error)
	interval time.Duration

	cpuPeak float64
	memPeak float64
	last    usage
	lastAt  time.Time
	primed  bool
}

func newSampler(interval time.Duration) *sampler {
	return &sampler{read: readProc, interval: interval}
}

func (s *sampler) observe(u usage, at time.Time) {
	if s.primed {
		if wall := at.Sub(s.lastAt); wall > 0 {
			s.cpuPeak = max(s.cpuPeak, float64(u.cpu-s.last.cpu)/float64(wall)*100)
		}
	}
	s.memPeak = max(s.memPeak, u.rssMB)
	s.last, s.lastAt, s.primed = u, at, true
}

// start samples pid until the returned stop func is called. stop waits
// for the sampling goroutine, so the peaks are safe to read afterwards.
func (s *sampler) start(pid int) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.sample(pid)
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				s.sample(pid)
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (s *sampler) sample(pid int) {
	if u, err := s.read(pid); err == nil {
		s.observe(u, time.Now())
	}
}

// readProc reads usage from procfs. Platforms without it report an error
// and the rusage figures taken at exit are used alone.
func readProc(pid int) (usage, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return usage{}, err
	}
	statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return usage{}, err
	}
	return parseProc(string(stat), string(statm), os.Getpagesize())
}

func parseProc(stat, statm string, pageSize int) (usage, error) {
	// The command name may contain spaces; fields resume after its ')'.
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return usage{}, fmt.Errorf("local: malformed stat %q", stat)
	}
	fields := strings.Fields(stat[i+1:])
	if len(fields) < 13 {
		return usage{}, fmt.Errorf("local: short stat %q", stat)
	}
	utime, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return usage{}, err
	}
	stime, err := strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return usage{}, err
	}
	mem := strings.Fields(statm)
	if len(mem) < 2 {
		return usage{}, fmt.Errorf("local: short statm %q", statm)
	}
	pages, err := strconv.ParseInt(mem[1], 10, 64)
	if err != nil {
		return usage{}, err
	}
	return usage{
		cpu:   time.Duration(utime+stime) * time.Second / clockTicks,
		rssMB: float64(pages*int64(pageSize)) / (1024 * 1024),
	}, nil
}
