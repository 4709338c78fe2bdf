package audit

// ring is a fixed-capacity buffer that overwrites the oldest entry once full. Not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v, evicting the oldest entry when at capacity. Reports whether an entry was evicted.
func (r *ring[T]) push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// each calls fn on entries from oldest to newest until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

func (r *ring[T]) len() int { return r.size }
