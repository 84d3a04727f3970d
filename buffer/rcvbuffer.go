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

	"github.com/bits-and-blooms/bitset"

	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

type rcvSlot struct {
	data    []byte
	msgno   int32
	bound   packet.Boundary
	inOrder bool
}

// RcvBuffer is the slotted ring out-of-order arrivals are deposited
// into, keyed by sequence number modulo capacity. The slot at the head
// carries the next expected sequence; contiguous occupied slots from the
// head are ready for delivery.
type RcvBuffer struct {
	mu sync.Mutex

	slots    []rcvSlot
	occ      *bitset.BitSet
	capacity int

	headSeq int32 // next expected sequence, lives in slot headPos
	headPos int
	readOff int // partial stream read offset inside the head slot
}

// NewRcvBuffer returns a receive buffer of the given slot capacity whose
// head expects isn.
func NewRcvBuffer(capacity int, isn int32) *RcvBuffer {
	if capacity <= 0 {
		capacity = 8192
	}
	return &RcvBuffer{
		slots:    make([]rcvSlot, capacity),
		occ:      bitset.New(uint(capacity)),
		capacity: capacity,
		headSeq:  isn,
	}
}

func (b *RcvBuffer) pos(off int) int {
	return (b.headPos + off) % b.capacity
}

// Add deposits one arrival. dup reports an already-delivered or
// already-buffered sequence; ok is false when the arrival falls outside
// the window and had to be discarded.
func (b *RcvBuffer) Add(seq int32, data []byte, msgno int32, bound packet.Boundary, inOrder bool) (dup bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := seqno.Off(b.headSeq, seq)
	if off < 0 {
		return true, true
	}
	if off >= b.capacity {
		return false, false
	}

	p := b.pos(off)
	if b.occ.Test(uint(p)) {
		return true, true
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	b.slots[p] = rcvSlot{data: cp, msgno: msgno, bound: bound, inOrder: inOrder}
	b.occ.Set(uint(p))
	return false, true
}

// NextExpected returns the sequence the buffer will deliver next.
func (b *RcvBuffer) NextExpected() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headSeq
}

// AvailSpace returns the free slot count, reported to the peer as the
// advertised receive window.
func (b *RcvBuffer) AvailSpace() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - int(b.occ.Count())
}

// advanceLocked releases the head slot and moves the head forward.
func (b *RcvBuffer) advanceLocked() {
	b.slots[b.headPos] = rcvSlot{}
	b.occ.Clear(uint(b.headPos))
	b.headPos = (b.headPos + 1) % b.capacity
	b.headSeq = seqno.Incr(b.headSeq)
	b.readOff = 0
}

// ReadStream drains contiguous delivered bytes from the head into dst,
// ignoring message boundaries. Returns the byte count copied.
func (b *RcvBuffer) ReadStream(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(dst) && b.occ.Test(uint(b.headPos)) {
		s := b.slots[b.headPos]
		c := copy(dst[n:], s.data[b.readOff:])
		n += c
		b.readOff += c

		if b.readOff >= len(s.data) {
			b.advanceLocked()
		}
	}
	return n
}

// HasData reports whether at least one in-order byte is deliverable.
func (b *RcvBuffer) HasData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.occ.Test(uint(b.headPos))
}

// NextMsg extracts one complete message. In-order messages are delivered
// only from the head of a contiguous run; when acceptOutOfOrder is set, a
// message whose bounds are filled is delivered from anywhere in the
// window regardless of earlier gaps, leaving a hole that a later drop
// request or head advance reclaims.
func (b *RcvBuffer) NextMsg(acceptOutOfOrder bool) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg, ok := b.headMsgLocked(); ok {
		return msg, true
	}

	if !acceptOutOfOrder {
		return nil, false
	}

	return b.scanMsgLocked()
}

// headMsgLocked assembles the message starting exactly at the head.
func (b *RcvBuffer) headMsgLocked() ([]byte, bool) {
	if !b.occ.Test(uint(b.headPos)) {
		return nil, false
	}

	first := b.slots[b.headPos]
	if first.bound != packet.BoundFirst && first.bound != packet.BoundSolo {
		// head packet is an orphaned tail; skip it so the stream of
		// messages can resynchronize
		b.advanceLocked()
		return b.headMsgLocked()
	}

	var msg []byte
	for off := 0; off < b.capacity; off++ {
		p := b.pos(off)
		if !b.occ.Test(uint(p)) {
			return nil, false
		}

		s := b.slots[p]
		msg = append(msg, s.data...)

		if s.bound == packet.BoundLast || s.bound == packet.BoundSolo {
			for i := 0; i <= off; i++ {
				b.advanceLocked()
			}
			return msg, true
		}
	}

	return nil, false
}

// scanMsgLocked searches the whole window for a complete unordered
// message and removes it in place.
func (b *RcvBuffer) scanMsgLocked() ([]byte, bool) {
	start := -1

	for off := 0; off < b.capacity; off++ {
		p := b.pos(off)
		if !b.occ.Test(uint(p)) {
			start = -1
			continue
		}

		s := b.slots[p]
		if s.inOrder {
			continue
		}

		switch s.bound {
		case packet.BoundSolo:
			msg := s.data
			b.clearLocked(off, off)
			return msg, true
		case packet.BoundFirst:
			start = off
		case packet.BoundLast:
			if start < 0 {
				continue
			}
			var msg []byte
			for i := start; i <= off; i++ {
				msg = append(msg, b.slots[b.pos(i)].data...)
			}
			b.clearLocked(start, off)
			return msg, true
		}
	}

	return nil, false
}

// clearLocked empties the slots between the given head offsets and
// advances the head across any cleared prefix.
func (b *RcvBuffer) clearLocked(fromOff, toOff int) {
	for i := fromOff; i <= toOff; i++ {
		p := b.pos(i)
		b.slots[p] = rcvSlot{}
		b.occ.Clear(uint(p))
	}

	if fromOff == 0 {
		skip := toOff - fromOff + 1
		for i := 0; i < skip; i++ {
			b.headPos = (b.headPos + 1) % b.capacity
			b.headSeq = seqno.Incr(b.headSeq)
		}
		b.readOff = 0
	}
}

// DropSpan discards buffered packets inside [first, last] and, when the
// span covers the head, advances the next expected sequence past it.
func (b *RcvBuffer) DropSpan(first, last int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lo := seqno.Off(b.headSeq, first)
	hi := seqno.Off(b.headSeq, last)
	if hi < 0 {
		return
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= b.capacity {
		hi = b.capacity - 1
	}

	for i := lo; i <= hi; i++ {
		p := b.pos(i)
		b.slots[p] = rcvSlot{}
		b.occ.Clear(uint(p))
	}

	if lo == 0 {
		for i := lo; i <= hi; i++ {
			b.headPos = (b.headPos + 1) % b.capacity
			b.headSeq = seqno.Incr(b.headSeq)
		}
		b.readOff = 0
	}
}
