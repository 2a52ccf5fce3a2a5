package registry

import "room-chat/internal/models"

// ring is a fixed-capacity FIFO of envelopes; pushing past capacity evicts
// the oldest entry.
type ring struct {
	buf   []models.Envelope
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Envelope, capacity)}
}

func (r *ring) push(env models.Envelope) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = env
		r.size++
		return
	}
	r.buf[r.start] = env
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the buffered envelopes oldest first.
func (r *ring) snapshot() []models.Envelope {
	out := make([]models.Envelope, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
