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
	"sort"
	"time"

	liblog "github.com/nabbar/golib/logger"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

const rateWindow = 16

// receiverLoop is the connection's receiver task: it pulls packets off
// the channel within the bounded receive interval, processes data and
// control arrivals, and services the SYN, NAK, keep-alive and expiry
// timers between polls.
func (c *Conn) receiverLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closedCh:
			return
		default:
		}

		switch c.State() {
		case StateBroken, StateClosed:
			return
		}

		var p packet.Packet
		addr, _, err := c.ch.RecvFrom(&p)

		switch {
		case err == nil:
			if addr != nil && c.peerAddr.Load() == nil {
				c.peerAddr.Store(addr)
			}
			c.lastRcv.Store(time.Now().UnixNano())

			if p.DstID() == 0 || p.DstID() == c.id {
				if p.IsControl() {
					c.onControl(&p)
				} else {
					c.onData(&p)
				}
			}
		case libchn.IsClosed(err):
			select {
			case <-c.closedCh:
			default:
				c.setBroken()
			}
			return
		case libchn.IsAgain(err):
			// fall through to the timers
		default:
			liblog.DebugLevel.Logf("transport: receive error on connection %d: %v", c.id, err)
		}

		c.onTimers(time.Now())
	}
}

// onTimers runs the periodic duties between channel polls.
func (c *Conn) onTimers(now time.Time) {
	// full ACK and the congestion controller's rate tick, every SYN
	if now.Sub(c.lastFullAck) >= SynInterval {
		c.sendFullAck(now)
		c.cc.Tick()
	}

	// NAK pacing: a loss is renamed after one smoothed round-trip
	if c.rcvLoss.Len() > 0 {
		interval := time.Duration(c.rttLoad()) * time.Microsecond
		if interval < SynInterval {
			interval = SynInterval
		}

		if body := c.rcvLoss.EncodeDue(now, interval); len(body) > 0 {
			p := packet.NewNak(body)
			_ = c.emit(&p)
			c.cnt.pktSentNAK.Add(1)
		}
	}

	// keep-alive on a silent link
	if now.Sub(time.Unix(0, c.lastSnd.Load())) >= KeepAliveInterval {
		p := packet.NewKeepAlive()
		_ = c.emit(&p)
	}

	// peer expiry
	if now.Sub(time.Unix(0, c.lastRcv.Load())) >= c.Options().ExpTimeout {
		liblog.ErrorLevel.Logf("transport: peer silent beyond the expiry budget on connection %d", c.id)
		c.setBroken()
	}
}

// onData processes one data packet arrival.
func (c *Conn) onData(p *packet.Packet) {
	c.cnt.pktRecv.Add(1)
	c.cnt.bytesRecv.Add(int64(len(p.Data)))

	now := time.Now()
	seq := p.SeqNo()

	c.measureRates(seq, now)

	next := seqno.Incr(c.largestSeq)
	switch {
	case seqno.Cmp(seq, next) > 0:
		// every sequence between the newest seen and this arrival is
		// missing; back-date the feedback stamp so the NAK leaves now
		c.rcvLoss.Insert(next, seqno.Decr(seq), time.Time{})
		c.largestSeq = seq
	case seq == next:
		c.largestSeq = seq
	default:
		c.rcvLoss.Remove(seq)
	}

	dup, ok := c.rcv.Add(seq, p.Data, p.MsgNo(), p.MsgBoundary(), p.InOrder())
	if dup {
		c.cnt.pktDup.Add(1)
	} else if !ok {
		c.cnt.pktDropped.Add(1)
	} else {
		c.mu.Lock()
		c.rcvCond.Broadcast()
		c.mu.Unlock()
	}

	// light cumulative acknowledgement on every arrival
	ack := packet.NewAckLight(c.rcv.NextExpected())
	_ = c.emit(&ack)
	c.cnt.pktSentACK.Add(1)
}

// measureRates feeds the packet-pair capacity probe and the arrival-rate
// window. Only the receiver task touches these fields.
func (c *Conn) measureRates(seq int32, now time.Time) {
	if c.probeArmed {
		c.probeArmed = false
		if gap := now.Sub(c.probeTime); gap > 0 {
			c.bwSamples = append(c.bwSamples, 1e6/float64(gap.Microseconds()+1))
			if len(c.bwSamples) > rateWindow {
				c.bwSamples = c.bwSamples[1:]
			}
		}
	}

	if seq%probeStride == 0 {
		c.probeArmed = true
		c.probeTime = now
	}

	c.arrivals = append(c.arrivals, now)
	if len(c.arrivals) > rateWindow {
		c.arrivals = c.arrivals[1:]
	}
}

// linkCapacity is the median of the packet-pair samples, packets/sec.
func (c *Conn) linkCapacity() int32 {
	if len(c.bwSamples) == 0 {
		return 0
	}

	s := make([]float64, len(c.bwSamples))
	copy(s, c.bwSamples)
	sort.Float64s(s)
	return int32(s[len(s)/2])
}

// recvRate is the arrival rate over the measurement window, packets/sec.
func (c *Conn) recvRate() int32 {
	if len(c.arrivals) < 2 {
		return 0
	}

	span := c.arrivals[len(c.arrivals)-1].Sub(c.arrivals[0])
	if span <= 0 {
		return 0
	}

	return int32(float64(len(c.arrivals)-1) / span.Seconds())
}

// sendFullAck emits the periodic full acknowledgement carrying the
// receiver's link state, and remembers it for the ACK² round-trip.
func (c *Conn) sendFullAck(now time.Time) {
	c.lastFullAck = now

	tag := c.ackTagNext
	c.ackTagNext = seqno.Incr(c.ackTagNext)

	ackSeq := c.rcv.NextExpected()

	p := packet.NewAckFull(tag, packet.Ack{
		Seq:      ackSeq,
		RTT:      c.rtt.Load(),
		RTTVar:   c.rttVar.Load(),
		Avail:    int32(c.rcv.AvailSpace()),
		Capacity: c.linkCapacity(),
		RecvRate: c.recvRate(),
	})

	c.ackWin.store(tag, ackSeq, now)
	if c.emit(&p) == nil {
		c.cnt.pktSentACK.Add(1)
	}
}

// onControl processes one control packet arrival.
func (c *Conn) onControl(p *packet.Packet) {
	switch p.ControlType() {
	case packet.TypeAck:
		c.onAck(p)

	case packet.TypeAck2:
		if d, ok := c.ackWin.acknowledge(p.AddInfo(), time.Now()); ok {
			c.updateRTT(int32(d.Microseconds()))
		}

	case packet.TypeNak:
		c.onNak(p)

	case packet.TypeCongestion:
		c.cc.OnWarning(c.currSeq.Load())

	case packet.TypeShutdown:
		c.markShutdown()

	case packet.TypeMsgDrop:
		first, last := p.MsgDropBody()
		c.rcv.DropSpan(first, last)
		c.rcvLoss.RemoveSpan(first, last)
		c.mu.Lock()
		c.rcvCond.Broadcast()
		c.mu.Unlock()

	case packet.TypeKeepAlive:
		// arrival time already recorded

	case packet.TypeHandshake:
		c.onLateHandshake(p)

	case packet.TypeError:
		liblog.ErrorLevel.Logf("transport: peer signalled error %d on connection %d", p.AddInfo(), c.id)
	}
}

func (c *Conn) onAck(p *packet.Packet) {
	c.cnt.pktRecvACK.Add(1)

	body := p.AckBody()
	ackSeq := body.Seq

	newly := seqno.Off(c.lastAckRecv.Load(), ackSeq)
	if newly > 0 {
		c.snd.AckUpTo(ackSeq)
		c.sndLoss.RemoveUpTo(ackSeq)
		c.lastAckRecv.Store(ackSeq)

		c.mu.Lock()
		c.sndCond.Broadcast()
		c.mu.Unlock()
	} else {
		newly = 0
	}

	if p.IsFullAck() {
		if body.RTT > 0 {
			c.updateRTT(body.RTT)
		}
		if body.Avail > 0 {
			c.flowWindow.Store(body.Avail)
		}

		c.cc.OnAck(newly, int(body.Avail), c.rtt.Load(), body.RecvRate, body.Capacity)

		// echo so the peer can measure the round-trip on its own clock
		echo := packet.NewAck2(p.AddInfo())
		_ = c.emit(&echo)
	} else {
		c.cc.OnAck(newly, int(c.flowWindow.Load()), c.rtt.Load(), 0, 0)
	}
}

func (c *Conn) onNak(p *packet.Packet) {
	c.cnt.pktRecvNAK.Add(1)

	var first int32 = -1

	err := packet.DecodeLoss(p.NakBody(), func(f, l int32) {
		if first < 0 {
			first = f
		}
		c.sndLoss.Insert(f, l)
	})
	if err != nil {
		liblog.DebugLevel.Logf("transport: malformed NAK on connection %d: %v", c.id, err)
		return
	}

	if first >= 0 {
		c.cc.OnLoss(first, c.currSeq.Load())
	}

	// preempt fresh data on the next pacing tick
	c.mu.Lock()
	c.sndCond.Broadcast()
	c.mu.Unlock()
}

// onLateHandshake keeps the handshake idempotent after establishment:
// a repeated response means the peer missed the final echo.
func (c *Conn) onLateHandshake(p *packet.Packet) {
	hs, err := p.HandshakeBody()
	if err != nil || c.State() != StateConnected {
		return
	}

	if hs.ReqType == packet.ReqResponse {
		final := c.handshakeLocal(packet.ReqFinal)
		final.Cookie = hs.Cookie
		out := packet.NewHandshake(final)
		_ = c.emit(&out)
	}
}
