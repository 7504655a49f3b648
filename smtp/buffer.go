package smtp

// buffer is a fixed-size byte array with a movable [start, end) window over
// it. Moving the window never copies or allocates.
//
// None of the methods check their bounds: callers must keep
// 0 <= start <= end <= len(buf), and a violation panics with an index error.
type buffer struct {
	buf        []byte
	start, end int
}

func newBuffer(size int) *buffer {
	return &buffer{buf: make([]byte, size), end: size}
}

func (b *buffer) extendHead(n int) { b.start -= n }
func (b *buffer) extendTail(n int) { b.end += n }
func (b *buffer) shrinkHead(n int) { b.start += n }
func (b *buffer) shrinkTail(n int) { b.end -= n }

// reset the window to cover the whole array.
func (b *buffer) reset() { b.start, b.end = 0, len(b.buf) }

// bytes returns the current window; writes go to the backing array.
func (b *buffer) bytes() []byte { return b.buf[b.start:b.end] }

// raw returns the entire backing array, ignoring the window.
func (b *buffer) raw() []byte { return b.buf }

func (b *buffer) len() int { return b.end - b.start }
