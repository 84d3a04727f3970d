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

package buffer

import (
	"sync"
	"time"

	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

// SndLossList is the sender's ordered set of sequence ranges known to
// need retransmission. NAK arrivals insert ranges (merging overlaps);
// the sender pops the smallest sequence in strict priority over fresh
// data.
type SndLossList struct {
	mu     sync.Mutex
	ranges []sndRange
}

type sndRange struct {
	first int32
	last  int32
}

// NewSndLossList returns an empty sender loss list.
func NewSndLossList() *SndLossList {
	return &SndLossList{}
}

// Insert adds the inclusive range [first, last], merging with existing
// entries. Returns the count of sequences newly added.
func (l *SndLossList) Insert(first, last int32) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seqno.Cmp(first, last) > 0 {
		return 0
	}

	added := seqno.Length(first, last)

	out := make([]sndRange, 0, len(l.ranges)+1)
	cur := sndRange{first: first, last: last}
	placed := false

	for _, r := range l.ranges {
		switch {
		case placed:
			out = append(out, r)
		case seqno.Cmp(r.last, seqno.Decr(cur.first)) < 0:
			// r entirely before cur
			out = append(out, r)
		case seqno.Cmp(cur.last, seqno.Decr(r.first)) < 0:
			// r entirely after cur
			out = append(out, cur, r)
			placed = true
		default:
			// overlap or adjacency: fold r into cur
			added -= overlap(cur, r)
			if seqno.Cmp(r.first, cur.first) < 0 {
				cur.first = r.first
			}
			if seqno.Cmp(r.last, cur.last) > 0 {
				cur.last = r.last
			}
		}
	}

	if !placed {
		out = append(out, cur)
	}

	l.ranges = out
	if added < 0 {
		added = 0
	}
	return added
}

func overlap(a, b sndRange) int {
	lo := a.first
	if seqno.Cmp(b.first, lo) > 0 {
		lo = b.first
	}
	hi := a.last
	if seqno.Cmp(b.last, hi) < 0 {
		hi = b.last
	}
	if seqno.Cmp(lo, hi) > 0 {
		return 0
	}
	return seqno.Length(lo, hi)
}

// Pop removes and returns the smallest sequence in the list.
func (l *SndLossList) Pop() (int32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ranges) == 0 {
		return 0, false
	}

	r := &l.ranges[0]
	s := r.first

	if r.first == r.last {
		l.ranges = l.ranges[1:]
	} else {
		r.first = seqno.Incr(r.first)
	}

	return s, true
}

// RemoveUpTo drops every sequence strictly below seq, as acknowledged.
func (l *SndLossList) RemoveUpTo(seq int32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.ranges[:0]
	for _, r := range l.ranges {
		if seqno.Cmp(r.last, seq) < 0 {
			continue
		}
		if seqno.Cmp(r.first, seq) < 0 {
			r.first = seq
		}
		out = append(out, r)
	}
	l.ranges = out
}

// Len returns the number of sequences in the list.
func (l *SndLossList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, r := range l.ranges {
		n += seqno.Length(r.first, r.last)
	}
	return n
}

// RcvLossList is the receiver's ordered set of sequence ranges believed
// missing, each with the time it was last named in a NAK so feedback can
// be paced per round-trip.
type RcvLossList struct {
	mu     sync.Mutex
	ranges []rcvRange
}

type rcvRange struct {
	first    int32
	last     int32
	feedback time.Time
}

// NewRcvLossList returns an empty receiver loss list.
func NewRcvLossList() *RcvLossList {
	return &RcvLossList{}
}

// Insert records the inclusive range [first, last] as missing. The
// feedback stamp is set so the range is due for a NAK immediately.
func (l *RcvLossList) Insert(first, last int32, feedback time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.ranges {
		if seqno.Cmp(first, l.ranges[i].first) < 0 {
			l.ranges = append(l.ranges[:i], append([]rcvRange{{first: first, last: last, feedback: feedback}}, l.ranges[i:]...)...)
			return
		}
	}

	l.ranges = append(l.ranges, rcvRange{first: first, last: last, feedback: feedback})
}

// Remove takes seq out of the list when a late arrival fills it.
// Returns true when seq was listed.
func (l *RcvLossList) Remove(seq int32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.ranges {
		r := l.ranges[i]
		if seqno.Cmp(seq, r.first) < 0 || seqno.Cmp(seq, r.last) > 0 {
			continue
		}

		switch {
		case r.first == r.last:
			l.ranges = append(l.ranges[:i], l.ranges[i+1:]...)
		case seq == r.first:
			l.ranges[i].first = seqno.Incr(seq)
		case seq == r.last:
			l.ranges[i].last = seqno.Decr(seq)
		default:
			// split the range around the filled hole
			tail := rcvRange{first: seqno.Incr(seq), last: r.last, feedback: r.feedback}
			l.ranges[i].last = seqno.Decr(seq)
			l.ranges = append(l.ranges[:i+1], append([]rcvRange{tail}, l.ranges[i+1:]...)...)
		}
		return true
	}

	return false
}

// RemoveSpan drops every sequence inside [first, last], as covered by a
// message drop request.
func (l *RcvLossList) RemoveSpan(first, last int32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]rcvRange, 0, len(l.ranges))
	for _, r := range l.ranges {
		if seqno.Cmp(r.last, first) < 0 || seqno.Cmp(r.first, last) > 0 {
			out = append(out, r)
			continue
		}
		if seqno.Cmp(r.first, first) < 0 {
			out = append(out, rcvRange{first: r.first, last: seqno.Decr(first), feedback: r.feedback})
		}
		if seqno.Cmp(r.last, last) > 0 {
			out = append(out, rcvRange{first: seqno.Incr(last), last: r.last, feedback: r.feedback})
		}
	}
	l.ranges = out
}

// First returns the smallest missing sequence.
func (l *RcvLossList) First() (int32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ranges) == 0 {
		return 0, false
	}
	return l.ranges[0].first, true
}

// Len returns the number of sequences in the list.
func (l *RcvLossList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, r := range l.ranges {
		n += seqno.Length(r.first, r.last)
	}
	return n
}

// EncodeDue collects every range whose feedback stamp is older than the
// given interval, restamps them at now, and returns the compact NAK body
// encoding. An empty result means no NAK is due.
func (l *RcvLossList) EncodeDue(now time.Time, interval time.Duration) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var body []uint32
	for i := range l.ranges {
		if now.Sub(l.ranges[i].feedback) < interval {
			continue
		}
		body = append(body, packet.EncodeLoss(l.ranges[i].first, l.ranges[i].last)...)
		l.ranges[i].feedback = now
	}
	return body
}
