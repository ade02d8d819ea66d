// Package window tracks pending sequence numbers in a fixed circular bitmap.
//
// A Window covers the Len sequence numbers ending at its head. Each bitmap
// word has a summary bit addressed by its distance behind the head's word,
// so emptiness, earliest-pending and nearest-pending-before queries touch
// only a handful of words.
package window

const (
	Log      = 8 // log2 of the raw bitmap range
	WordBits = 64
	Size     = 1 << Log
	// Len is one word short of Size so head may sit anywhere within its word.
	Len   = Size - WordBits
	Words = (Size + WordBits - 1) / WordBits

	// NotFound is returned by AtOrBefore when nothing is pending.
	NotFound = -1
)

// summary has one bit per word, distances are taken modulo Words,
// and the window must track at least one sequence number.
var (
	_ [WordBits - Words]struct{}
	_ [1 - Words&(Words-1)]struct{}
	_ [Len - 1]struct{}
)

// Window is the scoreboard of one flow. The zero value is a window anchored
// at head 0; use Reset to anchor elsewhere. Not safe for concurrent use.
type Window struct {
	marked    [Words]uint64
	summary   uint64 // bit k set iff the word k words behind headWord is non-zero
	head      uint64
	headWord  uint32
	numMarked uint32
}

// Pos returns the bitmap slot of seqno. Consumers use it to index side arrays
// of length Size.
func Pos(seqno uint64) uint32 {
	return uint32(seqno & (Size - 1))
}

func wordOf(pos uint32) uint32 {
	return pos / WordBits
}

// distance is how many words word lies behind headWord, modulo Words.
func distance(word, headWord uint32) uint32 {
	return (headWord - word) % Words
}

func (w *Window) summaryPos(pos uint32) uint32 {
	return distance(wordOf(pos), w.headWord)
}

func (w *Window) Reset(head uint64) {
	w.marked = [Words]uint64{}
	w.summary = 0
	w.head = head
	w.headWord = wordOf(Pos(head))
	w.numMarked = 0
}

func (w *Window) Head() uint64 { return w.head }

func (w *Window) NumMarked() int { return int(w.numMarked) }

func (w *Window) Empty() bool { return w.numMarked == 0 }

// InWindow reports whether seqno lies in (head-Len, head].
func (w *Window) InWindow(seqno uint64) bool {
	return !SeqAfter(seqno, w.head) && SeqAfter(seqno, w.head-Len)
}

func (w *Window) IsMarked(seqno uint64) bool {
	if !w.InWindow(seqno) {
		w.violate("IsMarked", seqno, "outside window")
	}
	return w.isMarked(seqno)
}

func (w *Window) isMarked(seqno uint64) bool {
	pos := Pos(seqno)
	return w.marked[wordOf(pos)]&(1<<(pos%WordBits)) != 0
}

func (w *Window) Mark(seqno uint64) {
	if !w.InWindow(seqno) {
		w.violate("Mark", seqno, "outside window")
	}
	pos := Pos(seqno)
	word := wordOf(pos)
	bit := uint64(1) << (pos % WordBits)
	if w.marked[word]&bit != 0 {
		w.violate("Mark", seqno, "already marked")
	}

	w.marked[word] |= bit
	w.summary |= 1 << w.summaryPos(pos)
	w.numMarked++
}

// MarkBulk marks [seqno, seqno+amount). The whole range must be inside the
// window and clear. Cost is proportional to the number of words touched.
func (w *Window) MarkBulk(seqno uint64, amount uint32) {
	if amount == 0 {
		return
	}
	last := seqno + uint64(amount) - 1
	if SeqBeforeEq(seqno, w.head-Len) {
		w.violate("MarkBulk", seqno, "range starts before window")
	}
	if SeqAfter(last, w.head) {
		w.violate("MarkBulk", last, "range ends after head")
	}

	startPos := Pos(seqno)
	endPos := Pos(last)
	startWord := wordOf(startPos)
	endWord := wordOf(endPos)

	var masks [Words]uint64
	touched := 0
	mask := ^uint64(0) << (startPos % WordBits)
	for word := startWord; ; word = (word + 1) % Words {
		if word == endWord {
			masks[touched] = mask & (^uint64(0) >> (WordBits - 1 - endPos%WordBits))
			touched++
			break
		}
		masks[touched] = mask
		touched++
		mask = ^uint64(0)
	}

	// verify everything first so a violation leaves the window untouched
	for i := 0; i < touched; i++ {
		if w.marked[(startWord+uint32(i))%Words]&masks[i] != 0 {
			w.violate("MarkBulk", seqno, "range overlaps marked entries")
		}
	}
	for i := 0; i < touched; i++ {
		w.marked[(startWord+uint32(i))%Words] |= masks[i]
	}

	// the start word is the farthest from head, so its summary bit is the highest
	far := w.summaryPos(startPos)
	near := w.summaryPos(endPos)
	w.summary |= (^uint64(0) >> (WordBits - 1 - far)) & (^uint64(0) << near)
	w.numMarked += amount
}

func (w *Window) Clear(seqno uint64) {
	if !w.InWindow(seqno) {
		w.violate("Clear", seqno, "outside window")
	}
	pos := Pos(seqno)
	word := wordOf(pos)
	bit := uint64(1) << (pos % WordBits)
	if w.marked[word]&bit == 0 {
		w.violate("Clear", seqno, "not marked")
	}

	w.marked[word] &^= bit
	if w.marked[word] == 0 {
		w.summary &^= 1 << w.summaryPos(pos)
	}
	w.numMarked--
}

// AtOrBefore returns seqno minus the latest pending sequence number at or
// before seqno, or NotFound when there is none inside the window.
// seqno must not be after head.
func (w *Window) AtOrBefore(seqno uint64) int {
	if SeqAfter(seqno, w.head) {
		w.violate("AtOrBefore", seqno, "after head")
	}
	if SeqBeforeEq(seqno, w.head-Len) {
		return NotFound
	}

	pos := Pos(seqno)
	word := wordOf(pos)
	offset := int(pos % WordBits)

	// drop bits after seqno, then the top set bit is the nearest one
	if tmp := w.marked[word] << (WordBits - 1 - offset); tmp != 0 {
		return WordBits - 1 - highestSet(tmp)
	}

	// summary bits for words strictly behind seqno's word
	tmp := (w.summary >> w.summaryPos(pos)) &^ 1
	if tmp == 0 {
		return NotFound
	}
	back := lowestSet(tmp)
	found := w.marked[(word-uint32(back))%Words]
	return WordBits*back + offset - highestSet(found)
}

// EarliestMarked returns the oldest pending sequence number. The window must
// not be empty.
func (w *Window) EarliestMarked() uint64 {
	if w.numMarked == 0 {
		w.violate("EarliestMarked", w.head, "window is empty")
	}
	back := highestSet(w.summary)
	found := w.marked[(w.headWord-uint32(back))%Words]
	result := (w.head &^ (WordBits - 1)) - uint64(back)*WordBits + uint64(lowestSet(found))

	if !w.isMarked(result) || w.AtOrBefore(result-1) != NotFound {
		w.violate("EarliestMarked", result, "summary out of sync with bitmap")
	}
	return result
}

// Advance moves head forward by amount. Entries that would fall out of the
// window must be cleared first; a shift past every word requires an empty
// window.
func (w *Window) Advance(amount uint64) {
	// words crossed, counted from head's offset so head+amount may wrap
	shift := uint64(Words)
	if amount < Size {
		shift = (w.head%WordBits + amount) / WordBits
	}
	if shift >= Words {
		if w.numMarked != 0 {
			w.violate("Advance", w.head+amount, "shift evicts every word but entries are pending")
		}
		w.marked = [Words]uint64{}
		w.summary = 0
	} else {
		if w.numMarked != 0 && SeqBeforeEq(w.EarliestMarked(), w.head+amount-Len) {
			w.violate("Advance", w.head+amount, "pending entries would fall out of the window")
		}
		w.summary <<= shift
	}
	w.head += amount
	w.headWord = wordOf(Pos(w.head))
}
