package uplink

// ringBuffer is a fixed-capacity FIFO holding payloads while the broker is
// unreachable. Not safe for concurrent use; the mirror synchronizes.
type ringBuffer struct {
	buf      []Payload
	capacity int
	head     int
	count    int
	dropped  int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]Payload, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(p Payload) {
	if r.count == r.capacity {
		// Overwrite oldest; head already points at it.
		r.buf[r.head] = p
		r.head = (r.head + 1) % r.capacity
		r.dropped++
		return
	}
	r.buf[r.head] = p
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []Payload {
	if r.count == 0 {
		return nil
	}
	out := make([]Payload, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int { return r.count }
