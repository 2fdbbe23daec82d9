package client

import "sync"

// lineQueue hands framed lines from the reader goroutine to the processing
// tick. Push never blocks the producer; DrainAll is non-blocking and returns
// the backlog in arrival order, consumed exactly once. There is one producer
// (the reader) and one consumer (the tick), so FIFO order holds end to end.
type lineQueue struct {
	mu    sync.Mutex
	lines []string
}

func newLineQueue() *lineQueue {
	return &lineQueue{}
}

func (q *lineQueue) Push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
}

func (q *lineQueue) DrainAll() []string {
	q.mu.Lock()
	lines := q.lines
	q.lines = nil
	q.mu.Unlock()
	return lines
}

func (q *lineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
