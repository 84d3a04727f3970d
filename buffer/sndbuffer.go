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

// Package buffer holds the per-connection data structures of the
// transport engine: the send buffer retaining payloads until
// acknowledged, the slotted receive buffer absorbing out-of-order
// arrivals, and the sender/receiver loss lists.
package buffer

import (
	"sync"
	"time"

	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

// SndBlock is one packet-sized chunk of application data retained until
// fully acknowledged.
type SndBlock struct {
	Data    []byte
	MsgNo   int32
	Bound   packet.Boundary
	InOrder bool
	Origin  time.Time
	TTL     time.Duration // zero means unbounded
}

// DropSpan names a message whose time-to-live expired before
// acknowledgement, with the sequence span its packets occupy.
type DropSpan struct {
	MsgNo int32
	First int32
	Last  int32
}

// SndBuffer is the ring of application bytes awaiting transmission or
// pending acknowledgement. Block i in the ring carries the implicit
// sequence firstSeq+i; retransmissions rebuild packets from here by
// sequence offset.
type SndBuffer struct {
	mu sync.Mutex

	blocks   []SndBlock
	firstSeq int32 // sequence of blocks[0], the oldest unacknowledged
	nextIdx  int   // index of the next block never sent
	capacity int   // packets
	nextMsg  int32
}

// NewSndBuffer returns a send buffer whose first block will carry isn.
func NewSndBuffer(capacity int, isn int32) *SndBuffer {
	if capacity <= 0 {
		capacity = 8192
	}
	return &SndBuffer{
		firstSeq: isn,
		capacity: capacity,
	}
}

// Free returns the number of packet slots available for new data.
func (b *SndBuffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - len(b.blocks)
}

// Pending returns the count of blocks admitted but never sent.
func (b *SndBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks) - b.nextIdx
}

// Unacked returns the count of blocks sent but not yet acknowledged.
func (b *SndBuffer) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextIdx
}

// AddMessage cuts data into blocks of at most mss bytes, stamps the
// message number and boundary flags, and admits them. Returns the number
// of blocks admitted, or zero when the buffer lacks the room for the
// whole message.
func (b *SndBuffer) AddMessage(data []byte, mss int, inOrder bool, ttl time.Duration, now time.Time) int {
	if mss <= 0 || len(data) == 0 {
		return 0
	}

	n := (len(data) + mss - 1) / mss

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.capacity-len(b.blocks) {
		return 0
	}

	msgno := b.nextMsg
	b.nextMsg = seqno.MsgIncr(b.nextMsg)

	for i := 0; i < n; i++ {
		lo := i * mss
		hi := lo + mss
		if hi > len(data) {
			hi = len(data)
		}

		chunk := make([]byte, hi-lo)
		copy(chunk, data[lo:hi])

		bound := packet.BoundMiddle
		switch {
		case n == 1:
			bound = packet.BoundSolo
		case i == 0:
			bound = packet.BoundFirst
		case i == n-1:
			bound = packet.BoundLast
		}

		b.blocks = append(b.blocks, SndBlock{
			Data:    chunk,
			MsgNo:   msgno,
			Bound:   bound,
			InOrder: inOrder,
			Origin:  now,
			TTL:     ttl,
		})
	}

	return n
}

// NextSend hands out the next never-sent block together with its
// sequence number, advancing the send cursor.
func (b *SndBuffer) NextSend() (SndBlock, int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextIdx >= len(b.blocks) {
		return SndBlock{}, 0, false
	}

	blk := b.blocks[b.nextIdx]
	seq := seqno.Inc(b.firstSeq, int32(b.nextIdx))
	b.nextIdx++
	return blk, seq, true
}

// BySeq rebuilds the block for a retransmission. The block is still held
// because it has not been fully acknowledged.
func (b *SndBuffer) BySeq(seq int32) (SndBlock, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := seqno.Off(b.firstSeq, seq)
	if off < 0 || off >= b.nextIdx {
		return SndBlock{}, false
	}
	return b.blocks[off], true
}

// AckUpTo releases every block whose sequence is strictly below seq.
// Returns the number of blocks released.
func (b *SndBuffer) AckUpTo(seq int32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := seqno.Off(b.firstSeq, seq)
	if off <= 0 {
		return 0
	}
	if off > len(b.blocks) {
		off = len(b.blocks)
	}

	b.blocks = b.blocks[off:]
	b.firstSeq = seq
	b.nextIdx -= off
	if b.nextIdx < 0 {
		b.nextIdx = 0
	}

	return off
}

// Expired scans the sent, unacknowledged prefix for messages whose TTL
// elapsed and returns their drop spans. The spans' blocks stay in place
// until DropMsg removes them.
func (b *SndBuffer) Expired(now time.Time) []DropSpan {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		out  []DropSpan
		seen = map[int32]bool{}
	)

	for i := 0; i < b.nextIdx; i++ {
		blk := b.blocks[i]
		if blk.TTL <= 0 || seen[blk.MsgNo] || now.Sub(blk.Origin) < blk.TTL {
			continue
		}
		seen[blk.MsgNo] = true

		first, last := b.msgSpanLocked(blk.MsgNo)
		out = append(out, DropSpan{MsgNo: blk.MsgNo, First: first, Last: last})
	}

	return out
}

func (b *SndBuffer) msgSpanLocked(msgno int32) (int32, int32) {
	lo, hi := -1, -1
	for i := range b.blocks {
		if b.blocks[i].MsgNo != msgno {
			continue
		}
		if lo < 0 {
			lo = i
		}
		hi = i
	}
	return seqno.Inc(b.firstSeq, int32(lo)), seqno.Inc(b.firstSeq, int32(hi))
}

// DropMsg removes every block of msgno from the buffer. Blocks ahead of
// the send cursor are removed too; the cursor and the implicit sequence
// mapping stay intact by replacing dropped, already-sent blocks with
// empty tombstones so retransmission offsets keep lining up.
func (b *SndBuffer) DropMsg(msgno int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// never-sent blocks of the message can vanish entirely
	kept := b.blocks[:0:0]
	for i, blk := range b.blocks {
		if i >= b.nextIdx && blk.MsgNo == msgno {
			continue
		}
		kept = append(kept, blk)
	}
	b.blocks = kept
	if b.nextIdx > len(b.blocks) {
		b.nextIdx = len(b.blocks)
	}

	// sent blocks become tombstones to preserve sequence offsets
	for i := 0; i < b.nextIdx; i++ {
		if b.blocks[i].MsgNo == msgno {
			b.blocks[i].Data = nil
			b.blocks[i].TTL = 0
		}
	}
}
