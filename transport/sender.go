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
	"time"

	liblog "github.com/nabbar/golib/logger"

	"github.com/seesky/poleis/buffer"
	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

// senderLoop is the connection's sender task: it paces packet emissions
// on the congestion controller's clock, services the loss list in strict
// priority over fresh data, and enforces the flight window.
func (c *Conn) senderLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closedCh:
			return
		default:
		}

		if c.State() != StateConnected {
			return
		}

		now := time.Now()

		// expired message TTLs first: tell the peer, then forget
		for _, span := range c.snd.Expired(now) {
			p := packet.NewMsgDrop(span.MsgNo, span.First, span.Last)
			if err := c.emit(&p); err != nil && libchn.IsClosed(err) {
				return
			}
			c.snd.DropMsg(span.MsgNo)
			c.cnt.pktDropped.Add(int64(seqno.Length(span.First, span.Last)))
		}

		blk, seq, have, retrans := c.pickNext()
		if !have {
			c.mu.Lock()
			c.condWait(c.sndCond, time.Now().Add(SynInterval))
			c.mu.Unlock()
			continue
		}

		p := packet.NewData(seq, blk.MsgNo, blk.Bound, blk.InOrder, blk.Data)
		if err := c.emit(&p); err != nil {
			if libchn.IsClosed(err) {
				return
			}
			liblog.ErrorLevel.Logf("transport: sustained send failure on connection %d: %v", c.id, err)
			c.setBroken()
			return
		}

		c.cnt.pktSent.Add(1)
		c.cnt.bytesSent.Add(int64(len(blk.Data)))
		if retrans {
			c.cnt.pktRetrans.Add(1)
		} else {
			c.currSeq.Store(seq)
		}

		// a marked packet and its successor leave back-to-back so the
		// receiver can probe link capacity from their spacing
		if !retrans && seq%probeStride == 0 {
			continue
		}

		if period := c.cc.PeriodDuration(); period > 0 {
			time.Sleep(period)
		}
	}
}

// pickNext selects the next emission: the smallest pending
// retransmission, else fresh data when the window allows.
func (c *Conn) pickNext() (blk buffer.SndBlock, seq int32, have bool, retrans bool) {
	for {
		s, got := c.sndLoss.Pop()
		if !got {
			break
		}

		b, ok := c.snd.BySeq(s)
		if !ok || b.Data == nil {
			// acknowledged or dropped since the NAK named it
			continue
		}
		return b, s, true, true
	}

	if c.inflight() >= c.window() {
		return blk, 0, false, false
	}

	b, s, ok := c.snd.NextSend()
	if !ok {
		return blk, 0, false, false
	}
	return b, s, true, false
}

func (c *Conn) inflight() int {
	n := seqno.Off(c.lastAckRecv.Load(), c.currSeq.Load()) + 1
	if n < 0 {
		return 0
	}
	return n
}

func (c *Conn) window() int {
	w := c.cc.Window()
	if f := int(c.flowWindow.Load()); f > 0 && f < w {
		w = f
	}
	if w < 1 {
		w = 1
	}
	return w
}
