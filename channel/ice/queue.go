/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package ice

import (
	"sync"
	"time"
)

// recvQueue bridges the substrate pump goroutine and the transport's
// RecvFrom calls. Arrivals keep their enqueue order; a sentinel marks the
// queue closed so a blocked pop is released with a distinct outcome.
type recvQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	limit  int
	closed bool
}

func newRecvQueue(limit int) *recvQueue {
	q := &recvQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends one arrival. When the queue is saturated the oldest entry
// is discarded so the substrate loop never blocks on a slow consumer.
func (q *recvQueue) push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if q.limit > 0 && len(q.items) >= q.limit {
		q.items = q.items[1:]
	}

	q.items = append(q.items, b)
	q.cond.Signal()
}

// sentinel marks the queue closed and wakes every blocked pop.
func (q *recvQueue) sentinel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// pop removes the oldest arrival, blocking up to the given timeout.
// Returns (nil, false) when the queue is closed and drained, and
// (nil, true) when the timeout elapsed with the queue still open.
func (q *recvQueue) pop(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, true
		}

		t := time.AfterFunc(remain, q.cond.Broadcast)
		q.cond.Wait()
		t.Stop()
	}

	b := q.items[0]
	q.items = q.items[1:]
	return b, true
}
