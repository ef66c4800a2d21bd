package agent

import "sync"

const defaultTailSize = 4 * 1024

// tailBuffer keeps the most recent bytes written to it. It backs the
// stderr capture of agent processes so failures can quote the last output.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	maxSize int
}

func newTailBuffer(maxSize int) *tailBuffer {
	if maxSize <= 0 {
		maxSize = defaultTailSize
	}
	return &tailBuffer{buf: make([]byte, 0, maxSize), maxSize: maxSize}
}

// Write implements io.Writer and never fails.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.maxSize {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.maxSize:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
