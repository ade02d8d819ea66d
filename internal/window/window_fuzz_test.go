package window

import (
	"testing"
)

// windowMirror keeps the pending set explicitly.
type windowMirror struct {
	head    uint64
	pending map[uint64]struct{}
}

func (m *windowMirror) inWindow(seqno uint64) bool {
	back := int64(m.head - seqno)
	return back >= 0 && back < Len
}

func (m *windowMirror) earliest() (uint64, bool) {
	best, ok := uint64(0), false
	for s := range m.pending {
		if !ok || int64(best-s) > 0 {
			best, ok = s, true
		}
	}
	return best, ok
}

func (m *windowMirror) atOrBefore(seqno uint64) int {
	if !m.inWindow(seqno) {
		return NotFound
	}
	for back := 0; m.inWindow(seqno - uint64(back)); back++ {
		if _, ok := m.pending[seqno-uint64(back)]; ok {
			return back
		}
	}
	return NotFound
}

// expire drops everything that an advance by amount would push out.
func (m *windowMirror) expire(w *Window, amount uint64) {
	for s := range m.pending {
		if int64(m.head+amount-s) >= Len {
			delete(m.pending, s)
			w.Clear(s)
		}
	}
}

func compareWithMirror(t *testing.T, w *Window, m *windowMirror) {
	checkInvariants(t, w)
	if w.Head() != m.head || w.NumMarked() != len(m.pending) {
		t.Fatalf("head %d/%d, marked %d/%d", w.Head(), m.head, w.NumMarked(), len(m.pending))
	}
	for back := uint64(0); back < Len; back++ {
		s := m.head - back
		_, want := m.pending[s]
		if w.IsMarked(s) != want {
			t.Fatalf("IsMarked(%d) = %v, want %v", s, !want, want)
		}
		if got, want := w.AtOrBefore(s), m.atOrBefore(s); got != want {
			t.Fatalf("AtOrBefore(%d) = %d, want %d", s, got, want)
		}
	}
	if got := w.AtOrBefore(m.head - Len); got != NotFound {
		t.Fatalf("AtOrBefore(head-Len) = %d", got)
	}
	if e, ok := m.earliest(); ok {
		if got := w.EarliestMarked(); got != e {
			t.Fatalf("EarliestMarked() = %d, want %d", got, e)
		}
	} else if !w.Empty() {
		t.Fatalf("window not empty")
	}
}

func FuzzWindow(f *testing.F) {
	f.Add(uint64(1000), []byte{0, 5, 10, 3, 8, 2, 200, 1, 6})
	f.Add(uint64(0), []byte{3, 255, 254, 4, 12, 0, 0, 9})
	f.Add(uint64(1<<40), []byte{13, 28, 43, 2, 7, 12, 17, 22, 27, 32})
	f.Add(^uint64(0)-300, []byte{0, 3, 254, 19, 5, 254, 13, 254, 1, 254})
	f.Fuzz(func(t *testing.T, start uint64, commands []byte) {
		w := Window{}
		w.Reset(start)
		m := windowMirror{head: start, pending: map[uint64]struct{}{}}

		for _, c := range commands {
			arg := uint64(c / 5)
			switch c % 5 {
			case 0: // mark
				s := m.head - arg
				if _, ok := m.pending[s]; !ok {
					w.Mark(s)
					m.pending[s] = struct{}{}
				}
			case 1: // clear
				s := m.head - arg*3
				if _, ok := m.pending[s]; ok {
					w.Clear(s)
					delete(m.pending, s)
				}
			case 2: // advance within the word range
				m.expire(&w, arg)
				w.Advance(arg)
				m.head += arg
			case 3: // bulk mark a clear range ending at head
				amount := arg + 1
				free := true
				for i := uint64(0); i < amount; i++ {
					if _, ok := m.pending[m.head-i]; ok {
						free = false
						break
					}
				}
				if free {
					w.MarkBulk(m.head-arg, uint32(amount))
					for i := uint64(0); i < amount; i++ {
						m.pending[m.head-i] = struct{}{}
					}
				}
			case 4: // advance far
				amount := arg * WordBits
				m.expire(&w, amount)
				w.Advance(amount)
				m.head += amount
			}
			compareWithMirror(t, &w, &m)
		}
	})
}
