// Package perfbench drives a sliding window workload and reads hardware
// counters for it from the kernel's perf interface.
package perfbench

import (
	"fmt"
	"runtime"
	"time"

	"fpwnd/internal/logging"
	"fpwnd/internal/window"

	"github.com/elastic/go-perf"
)

type Counter struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

type Report struct {
	Ops      int           `json:"ops"`
	Elapsed  time.Duration `json:"elapsed"`
	NsPerOp  float64       `json:"ns_per_op"`
	Counters []Counter     `json:"counters,omitempty"`
	Checksum uint64        `json:"checksum"`
}

var hardwareCounters = []perf.HardwareCounter{
	perf.Instructions,
	perf.CPUCycles,
	perf.BranchInstructions,
	perf.BranchMisses,
	perf.CacheMisses,
}

type counterSet struct {
	events []*perf.Event
}

// openCounters opens the hardware counters for the calling thread. Counters
// the host refuses are skipped; an empty set is returned as an error.
func openCounters() (*counterSet, error) {
	logger := logging.GetLogger()
	cs := &counterSet{}
	for _, counter := range hardwareCounters {
		attr := &perf.Attr{}
		counter.Configure(attr)
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true
		attr.Options.Disabled = true
		attr.Options.ExcludeKernel = true
		attr.Options.ExcludeHypervisor = true

		event, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
		if err != nil {
			logger.WithField("counter", attr.Label).WithError(err).Debug("Failed to open perf event, continuing without it")
			continue
		}
		cs.events = append(cs.events, event)
	}
	if len(cs.events) == 0 {
		return nil, fmt.Errorf("no hardware counters available")
	}
	return cs, nil
}

func (cs *counterSet) enable() error {
	for _, event := range cs.events {
		if err := event.Enable(); err != nil {
			return fmt.Errorf("failed to enable perf event: %w", err)
		}
	}
	return nil
}

func (cs *counterSet) disable() {
	for _, event := range cs.events {
		event.Disable()
	}
}

// read returns counter values scaled for multiplexing.
func (cs *counterSet) read() []Counter {
	var out []Counter
	for _, event := range cs.events {
		count, err := event.ReadCount()
		if err != nil {
			continue
		}
		value := count.Value
		if count.Running > 0 && count.Enabled > 0 && count.Running != count.Enabled {
			value = uint64(float64(value) * float64(count.Enabled) / float64(count.Running))
		}
		out = append(out, Counter{Name: count.Label, Value: value})
	}
	return out
}

func (cs *counterSet) close() {
	for _, event := range cs.events {
		event.Close()
	}
	cs.events = nil
}

// Run performs ops window operations. Hardware counters are attached when the
// host allows it; otherwise only wall time is reported.
func Run(ops int) (*Report, error) {
	if ops <= 0 {
		return nil, fmt.Errorf("ops must be positive, got %d", ops)
	}
	logger := logging.GetLogger()

	// perf events opened for CallingThread only count this OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cs, err := openCounters()
	if err != nil {
		logger.WithError(err).Warn("Perf counters unavailable, reporting wall time only")
		cs = nil
	} else {
		defer cs.close()
		if err := cs.enable(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	sum := workload(ops)
	elapsed := time.Since(start)

	report := &Report{
		Ops:      ops,
		Elapsed:  elapsed,
		NsPerOp:  float64(elapsed.Nanoseconds()) / float64(ops),
		Checksum: sum,
	}
	if cs != nil {
		cs.disable()
		report.Counters = cs.read()
	}

	logger.WithFields(map[string]interface{}{
		"ops":       ops,
		"elapsed":   elapsed,
		"ns_per_op": report.NsPerOp,
		"counters":  len(report.Counters),
	}).Info("Window benchmark complete")
	return report, nil
}

// workload keeps a window of in-flight seqnos sliding forward. Each round
// sends a burst, acknowledges most of it out of order, and looks up the
// oldest pending entry; anything about to fall out of the window is cleared.
// The returned checksum keeps the lookups from being optimised away.
func workload(ops int) uint64 {
	var w window.Window
	w.Reset(window.Len)

	var sum uint64
	done := 0
	for round := uint64(0); done < ops; round++ {
		burst := uint64(8 + round%24)
		floor := w.Head() + burst - window.Len
		for w.NumMarked() > 0 {
			earliest := w.EarliestMarked()
			if window.SeqAfter(earliest, floor) {
				break
			}
			w.Clear(earliest)
			done++
		}
		w.Advance(burst)
		w.MarkBulk(w.Head()-burst+1, uint32(burst))
		done++

		for i := uint64(0); i < burst; i += 2 {
			seqno := w.Head() - i
			if w.IsMarked(seqno) {
				w.Clear(seqno)
			}
			done++
		}
		if found := w.AtOrBefore(w.Head()); found != window.NotFound {
			sum += uint64(found)
		}
		if w.NumMarked() > 0 {
			sum ^= w.EarliestMarked()
		}
		done += 2
	}
	return sum
}
