package tracker

import (
	"fmt"
	"time"

	"fpwnd/internal/logging"
	"fpwnd/internal/window"

	"github.com/sirupsen/logrus"
)

type AckResult int

const (
	Acked AckResult = iota
	Duplicate
	Stale
)

func (r AckResult) String() string {
	switch r {
	case Acked:
		return "acked"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("AckResult(%d)", int(r))
	}
}

// Observer is notified of every change to a flow's pending set.
type Observer interface {
	Sent(flow string, n int)
	Acked(flow string, n int)
	IgnoredAck(flow, reason string)
	TimedOut(flow string, n int)
	ForcedExpiry(flow string, n int)
	SetPending(flow string, n int)
}

type Options struct {
	// Timeout is how long a sequence number stays pending before Expire drops it.
	Timeout  time.Duration
	Observer Observer
}

type Stats struct {
	Head      uint64 `json:"head"`
	Pending   int    `json:"pending"`
	Sent      uint64 `json:"sent"`
	Acked     uint64 `json:"acked"`
	Duplicate uint64 `json:"duplicate"`
	Stale     uint64 `json:"stale"`
	TimedOut  uint64 `json:"timed_out"`
	Forced    uint64 `json:"forced"`
}

// Flow is the sender side of one reliable flow: every sequence number it hands
// out stays pending in a window until acked or expired.
// Deadlines are assigned in sequence order, so the earliest pending entry
// always carries the nearest deadline as long as callers pass a
// non-decreasing now.
type Flow struct {
	id        string
	wnd       window.Window
	deadlines [window.Size]time.Time
	timeout   time.Duration
	observer  Observer
	logger    *logrus.Entry

	forced []uint64
	stats  Stats
}

// NewFlow creates a flow whose last issued sequence number is start; the
// first Send returns start+1.
func NewFlow(id string, opts Options, start uint64) *Flow {
	f := &Flow{
		id:       id,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		logger:   logging.GetFlowLogger().WithField("flow", id),
	}
	f.wnd.Reset(start)
	f.logger.WithFields(logrus.Fields{
		"start":   start,
		"timeout": opts.Timeout,
	}).Debug("Flow created")
	return f
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) Head() uint64 { return f.wnd.Head() }

func (f *Flow) Pending() int { return f.wnd.NumMarked() }

func (f *Flow) Stats() Stats {
	s := f.stats
	s.Head = f.wnd.Head()
	s.Pending = f.wnd.NumMarked()
	return s
}

// IsPending reports whether seqno is inside the window and still unacked.
func (f *Flow) IsPending(seqno uint64) bool {
	return f.wnd.InWindow(seqno) && f.wnd.IsMarked(seqno)
}

// Send issues the next sequence number and marks it pending until now+Timeout.
func (f *Flow) Send(now time.Time) uint64 {
	f.makeRoom(1)
	f.wnd.Advance(1)
	seqno := f.wnd.Head()
	f.wnd.Mark(seqno)
	f.deadlines[window.Pos(seqno)] = now.Add(f.timeout)

	f.stats.Sent++
	if f.observer != nil {
		f.observer.Sent(f.id, 1)
		f.observer.SetPending(f.id, f.wnd.NumMarked())
	}
	return seqno
}

// SendBatch issues up to n consecutive sequence numbers in one step and
// returns the first one along with how many were issued. n is capped at
// window.Len.
func (f *Flow) SendBatch(n int, now time.Time) (uint64, int) {
	first := f.wnd.Head() + 1
	if n <= 0 {
		return first, 0
	}
	n = min(n, window.Len)

	f.makeRoom(uint64(n))
	f.wnd.Advance(uint64(n))
	f.wnd.MarkBulk(first, uint32(n))
	deadline := now.Add(f.timeout)
	for i := 0; i < n; i++ {
		f.deadlines[window.Pos(first+uint64(i))] = deadline
	}

	f.stats.Sent += uint64(n)
	if f.observer != nil {
		f.observer.Sent(f.id, n)
		f.observer.SetPending(f.id, f.wnd.NumMarked())
	}
	return first, n
}

// makeRoom expires whatever an advance by amount would push out of the window.
func (f *Flow) makeRoom(amount uint64) {
	limit := f.wnd.Head() + amount - window.Len
	n := 0
	for !f.wnd.Empty() {
		e := f.wnd.EarliestMarked()
		if window.SeqAfter(e, limit) {
			break
		}
		f.wnd.Clear(e)
		f.forced = append(f.forced, e)
		n++
	}
	if n == 0 {
		return
	}

	f.stats.Forced += uint64(n)
	f.logger.WithFields(logrus.Fields{
		"expired": n,
		"head":    f.wnd.Head(),
		"advance": amount,
	}).Warn("Window full, expiring oldest pending entries early")
	if f.observer != nil {
		f.observer.ForcedExpiry(f.id, n)
	}
}

// Expired drains the sequence numbers that Send or SendBatch dropped early
// to make room. Callers treat them like timeouts.
func (f *Flow) Expired() []uint64 {
	out := f.forced
	f.forced = nil
	return out
}

func (f *Flow) Ack(seqno uint64) AckResult {
	if !f.wnd.InWindow(seqno) {
		f.ignore(Stale)
		return Stale
	}
	if !f.wnd.IsMarked(seqno) {
		f.ignore(Duplicate)
		return Duplicate
	}

	f.wnd.Clear(seqno)
	f.stats.Acked++
	if f.observer != nil {
		f.observer.Acked(f.id, 1)
		f.observer.SetPending(f.id, f.wnd.NumMarked())
	}
	return Acked
}

func (f *Flow) ignore(r AckResult) {
	switch r {
	case Duplicate:
		f.stats.Duplicate++
	case Stale:
		f.stats.Stale++
	}
	f.logger.WithField("result", r).Trace("Ack ignored")
	if f.observer != nil {
		f.observer.IgnoredAck(f.id, r.String())
	}
}

// AckRange clears every pending entry in [lo, hi] and returns how many were
// cleared. hi is clamped to head. The walk visits pending entries only.
func (f *Flow) AckRange(lo, hi uint64) int {
	if window.SeqAfter(hi, f.wnd.Head()) {
		hi = f.wnd.Head()
	}
	if window.SeqAfter(lo, hi) {
		return 0
	}

	cleared := 0
	cur := hi
	for {
		back := f.wnd.AtOrBefore(cur)
		if back == window.NotFound {
			break
		}
		seqno := cur - uint64(back)
		if window.SeqAfter(lo, seqno) {
			break
		}
		f.wnd.Clear(seqno)
		cleared++
		if seqno == lo {
			break
		}
		cur = seqno - 1
	}

	if cleared == 0 {
		f.ignore(Duplicate)
		return 0
	}
	f.stats.Acked += uint64(cleared)
	if f.observer != nil {
		f.observer.Acked(f.id, cleared)
		f.observer.SetPending(f.id, f.wnd.NumMarked())
	}
	return cleared
}

// AckUpTo is a cumulative ack: everything pending at or before seqno is cleared.
func (f *Flow) AckUpTo(seqno uint64) int {
	return f.AckRange(f.wnd.Head()-window.Len+1, seqno)
}

// NextDeadline returns the deadline of the earliest pending entry.
func (f *Flow) NextDeadline() (time.Time, bool) {
	if f.wnd.Empty() {
		return time.Time{}, false
	}
	return f.deadlines[window.Pos(f.wnd.EarliestMarked())], true
}

// Expire clears and returns, oldest first, every pending entry whose deadline
// is at or before now.
func (f *Flow) Expire(now time.Time) []uint64 {
	var out []uint64
	for !f.wnd.Empty() {
		e := f.wnd.EarliestMarked()
		if f.deadlines[window.Pos(e)].After(now) {
			break
		}
		f.wnd.Clear(e)
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil
	}

	f.stats.TimedOut += uint64(len(out))
	f.logger.WithFields(logrus.Fields{
		"timed_out": len(out),
		"first":     out[0],
		"pending":   f.wnd.NumMarked(),
	}).Debug("Pending entries timed out")
	if f.observer != nil {
		f.observer.TimedOut(f.id, len(out))
		f.observer.SetPending(f.id, f.wnd.NumMarked())
	}
	return out
}
