package window

import "fmt"

// Violation is the panic value raised when a caller breaks the window's
// contract. It is never returned as an ordinary error.
type Violation struct {
	Op     string
	Seqno  uint64
	Head   uint64
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("window: %s(%d) with head %d: %s", v.Op, v.Seqno, v.Head, v.Reason)
}

func (w *Window) violate(op string, seqno uint64, reason string) {
	panic(&Violation{Op: op, Seqno: seqno, Head: w.head, Reason: reason})
}
