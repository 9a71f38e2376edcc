package arq

import (
	"time"
)

// window is the sender side Go-Back-N bookkeeping over DATA sequence
// numbers. Frames in [base, next) are in flight; sent records when each was
// last (re)transmitted.
//
// Invariant: base <= next <= base+size and next <= limit+1.
type window struct {
	base  uint32 `desc:"lowest unacknowledged seq"`
	next  uint32 `desc:"next seq not yet sent"`
	size  uint32 `desc:"max frames in flight"`
	limit uint32 `desc:"highest DATA seq, i.e. num_packets"`
	sent  map[uint32]time.Time
}

func newWindow(size int, limit uint32) *window {
	hint := size
	if uint64(limit) < uint64(hint) {
		hint = int(limit)
	}
	return &window{
		base:  1,
		next:  1,
		size:  uint32(size),
		limit: limit,
		sent:  make(map[uint32]time.Time, hint),
	}
}

func (w *window) Len() uint32 {
	return w.next - w.base
}

// CanPush reports whether another new frame fits in the window.
func (w *window) CanPush() bool {
	return w.next < w.base+w.size && w.next <= w.limit
}

// Push marks next as sent at now and returns its sequence number.
func (w *window) Push(now time.Time) uint32 {
	seq := w.next
	w.sent[seq] = now
	w.next++
	return seq
}

// Ack applies a cumulative acknowledgment. It returns how many frames were
// newly acknowledged; stale acks (below base) and acks for frames never sent
// move nothing.
func (w *window) Ack(ack uint32) uint32 {
	if ack < w.base || ack >= w.next {
		return 0
	}
	cnt := ack - w.base + 1
	for seq := w.base; seq <= ack; seq++ {
		delete(w.sent, seq)
	}
	w.base = ack + 1
	return cnt
}

// Oldest returns when the frame at base was last sent.
func (w *window) Oldest() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	ts, ok := w.sent[w.base]
	return ts, ok
}

// Touch refreshes the send time of every frame in flight.
func (w *window) Touch(now time.Time) {
	for seq := w.base; seq < w.next; seq++ {
		w.sent[seq] = now
	}
}

func (w *window) Done() bool {
	return w.base > w.limit
}
