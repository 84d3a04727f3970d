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

package transport

import (
	"sync"
	"time"
)

// ackWindow remembers recently emitted full ACKs so the matching ACK²
// yields a round-trip sample measured on the receiver's own clock.
type ackWindow struct {
	mu      sync.Mutex
	entries []ackEntry
	limit   int
}

type ackEntry struct {
	tag  int32
	seq  int32
	sent time.Time
}

func newAckWindow(limit int) *ackWindow {
	if limit <= 0 {
		limit = 1024
	}
	return &ackWindow{limit: limit}
}

// store records one emitted full ACK.
func (w *ackWindow) store(tag, seq int32, sent time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) >= w.limit {
		w.entries = w.entries[1:]
	}
	w.entries = append(w.entries, ackEntry{tag: tag, seq: seq, sent: sent})
}

// acknowledge matches an ACK² tag, removing the entry and everything
// older. Returns the round-trip duration measured against now.
func (w *ackWindow) acknowledge(tag int32, now time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		if w.entries[i].tag == tag {
			d := now.Sub(w.entries[i].sent)
			w.entries = w.entries[i+1:]
			return d, true
		}
	}

	return 0, false
}
