package alarms

// DefaultHistorySize is used when New is given a non-positive size.
const DefaultHistorySize = 1000

// history is a bounded FIFO of record snapshots, oldest first. It is not
// safe for concurrent use.
type history struct {
	buf   []Record
	start int
	n     int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{buf: make([]Record, capacity)}
}

// append stores a copy of r, evicting the oldest entry when full.
func (h *history) append(r Record) {
	r = r.clone()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = r
		h.n++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) count() int { return h.n }

// last returns copies of the most recent n entries in chronological order.
// n <= 0 or n larger than the stored count returns everything.
func (h *history) last(n int) []Record {
	if n <= 0 || n > h.n {
		n = h.n
	}
	out := make([]Record, n)
	skip := h.n - n
	for i := range out {
		out[i] = h.buf[(h.start+skip+i)%len(h.buf)].clone()
	}
	return out
}
