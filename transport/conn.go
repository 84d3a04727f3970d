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

// Package transport implements the per-connection engine: sender and
// receiver tasks over a packet channel, selective acknowledgement,
// negative acknowledgement and retransmission, the pacing clock driven
// by the congestion controller, handshake and shutdown.
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/nabbar/golib/errors"

	"github.com/seesky/poleis/buffer"
	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/congestion"
	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/seqno"
)

const (
	// SynInterval paces full ACK emission and the congestion
	// controller's rate-control tick.
	SynInterval = 10 * time.Millisecond

	// KeepAliveInterval bounds silence toward the peer.
	KeepAliveInterval = time.Second

	// DefaultMTU is the default datagram budget, header included.
	DefaultMTU = 1500

	// DefaultFlowWindow is the default receive buffer in packets, also
	// advertised during the handshake.
	DefaultFlowWindow = 8192

	// DefaultHandshakeTimeout bounds connection establishment.
	DefaultHandshakeTimeout = 3 * time.Second

	// DefaultExpTimeout declares the peer gone after this much silence.
	DefaultExpTimeout = 8 * time.Second

	handshakeResend = 250 * time.Millisecond
	probeStride     = 16

	initialRTT    = 100_000 // microseconds, ten SYN intervals
	initialRTTVar = 50_000
)

// State is the connection lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateConnected
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateConnected:
		return "CONNECTED"
	case StateBroken:
		return "BROKEN"
	}
	return "UNKNOWN"
}

// Options carries the per-connection tunables.
type Options struct {
	// MTU is the datagram budget including the packet header.
	MTU int

	// SndBufSize / RcvBufSize size the engine buffers in packets.
	SndBufSize int
	RcvBufSize int

	// SyncSend / SyncRecv select blocking user operations.
	SyncSend bool
	SyncRecv bool

	// Rendezvous selects the both-sides-initiate connection mode.
	Rendezvous bool

	// Linger bounds how long Close waits for unsent data to drain.
	Linger time.Duration

	// MaxMsg caps the size of one message; zero means the send buffer
	// is the only bound.
	MaxMsg int

	// SndTimeout / RcvTimeout bound blocking operations; zero blocks
	// without bound.
	SndTimeout time.Duration
	RcvTimeout time.Duration

	// HandshakeTimeout bounds Connect.
	HandshakeTimeout time.Duration

	// ExpTimeout declares the connection broken after this much peer
	// silence.
	ExpTimeout time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MTU:              DefaultMTU,
		SndBufSize:       DefaultFlowWindow,
		RcvBufSize:       DefaultFlowWindow,
		SyncSend:         true,
		SyncRecv:         true,
		Linger:           3 * time.Second,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ExpTimeout:       DefaultExpTimeout,
	}
}

// Conn is one transport connection over a packet channel.
type Conn struct {
	id     uint32
	peerID atomic.Uint32

	ch       libchn.Channel
	peerAddr atomic.Pointer[net.UDPAddr]

	optMu sync.Mutex
	opt   Options

	state    atomic.Int32
	shutdown atomic.Bool // peer sent SHUTDOWN: clean end-of-stream
	start    time.Time

	mu      sync.Mutex
	sndCond *sync.Cond // space freed / data admitted / loss preempt
	rcvCond *sync.Cond // data deliverable / state change

	snd     *buffer.SndBuffer
	sndLoss *buffer.SndLossList
	rcv     *buffer.RcvBuffer
	rcvLoss *buffer.RcvLossList
	cc      *congestion.Controller
	ackWin  *ackWindow

	isn     int32
	peerISN int32

	currSeq     atomic.Int32 // newest emitted sequence
	lastAckRecv atomic.Int32 // peer's cumulative ack of our data
	flowWindow  atomic.Int32 // peer advertised receive space, packets

	rtt    atomic.Int32 // microseconds
	rttVar atomic.Int32

	lastRcv atomic.Int64 // unix nanos of last arrival from peer
	lastSnd atomic.Int64 // unix nanos of last emission toward peer

	// receiver-side state, touched only by the receiver task
	largestSeq  int32 // newest sequence seen from the peer
	probeArmed  bool
	probeTime   time.Time
	bwSamples   []float64
	arrivals    []time.Time
	lastFullAck time.Time
	ackTagNext  int32

	wg        sync.WaitGroup
	closeOnce sync.Once
	closedCh  chan struct{}

	cnt counters
}

// New returns a connection handle over the given channel, ready for
// Connect. The channel is opened during Connect.
func New(ch libchn.Channel, id uint32, isn int32, opt Options) *Conn {
	c := &Conn{
		id:       id,
		ch:       ch,
		opt:      sanitize(opt),
		isn:      isn,
		start:    time.Now(),
		closedCh: make(chan struct{}),
	}
	c.sndCond = sync.NewCond(&c.mu)
	c.rcvCond = sync.NewCond(&c.mu)
	c.state.Store(int32(StateClosed))
	c.rtt.Store(initialRTT)
	c.rttVar.Store(initialRTTVar)
	return c
}

// NewAccepted returns a connection already established by a listener's
// handshake exchange. The caller must invoke Start.
func NewAccepted(ch libchn.Channel, id, peerID uint32, peerAddr *net.UDPAddr, isn, peerISN int32, opt Options) *Conn {
	c := New(ch, id, isn, opt)
	c.peerID.Store(peerID)
	if peerAddr != nil {
		c.peerAddr.Store(peerAddr)
	}
	c.peerISN = peerISN
	c.finalize()
	return c
}

func sanitize(o Options) Options {
	if o.MTU <= packet.HeaderSize {
		o.MTU = DefaultMTU
	}
	if o.SndBufSize <= 0 {
		o.SndBufSize = DefaultFlowWindow
	}
	if o.RcvBufSize <= 0 {
		o.RcvBufSize = DefaultFlowWindow
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ExpTimeout <= 0 {
		o.ExpTimeout = DefaultExpTimeout
	}
	return o
}

// finalize allocates the engine state once both ISNs are known.
func (c *Conn) finalize() {
	o := c.Options()

	c.snd = buffer.NewSndBuffer(o.SndBufSize, c.isn)
	c.sndLoss = buffer.NewSndLossList()
	c.rcv = buffer.NewRcvBuffer(o.RcvBufSize, c.peerISN)
	c.rcvLoss = buffer.NewRcvLossList()
	c.cc = congestion.New()
	c.ackWin = newAckWindow(1024)

	c.currSeq.Store(seqno.Decr(c.isn))
	c.lastAckRecv.Store(c.isn)
	c.flowWindow.Store(int32(o.RcvBufSize))
	c.largestSeq = seqno.Decr(c.peerISN)

	c.start = time.Now()
	c.lastRcv.Store(time.Now().UnixNano())
	c.lastSnd.Store(time.Now().UnixNano())
	c.state.Store(int32(StateConnected))
}

// Start launches the sender and receiver tasks.
func (c *Conn) Start() {
	c.wg.Add(2)
	go c.senderLoop()
	go c.receiverLoop()
}

// ID returns the local socket identifier.
func (c *Conn) ID() uint32 {
	return c.id
}

// PeerID returns the peer socket identifier, zero before the handshake.
func (c *Conn) PeerID() uint32 {
	return c.peerID.Load()
}

// State returns the lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Channel exposes the packet channel the connection runs on.
func (c *Conn) Channel() libchn.Channel {
	return c.ch
}

// Options returns a copy of the connection options.
func (c *Conn) Options() Options {
	c.optMu.Lock()
	defer c.optMu.Unlock()
	return c.opt
}

// SetOptions applies fct to the connection options. Buffer sizes and MTU
// only take effect before the connection is established.
func (c *Conn) SetOptions(fct func(o *Options)) {
	c.optMu.Lock()
	defer c.optMu.Unlock()
	if fct != nil {
		fct(&c.opt)
		c.opt = sanitize(c.opt)
	}
}

func (c *Conn) payloadSize() int {
	return c.Options().MTU - packet.HeaderSize
}

// tsNow is the packet timestamp: microseconds since connection start.
func (c *Conn) tsNow() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

func (c *Conn) rttLoad() int32 {
	return c.rtt.Load()
}

// updateRTT folds one round-trip sample into the smoothed estimators.
func (c *Conn) updateRTT(sample int32) {
	r := c.rtt.Load()
	v := c.rttVar.Load()

	d := sample - r
	if d < 0 {
		d = -d
	}

	c.rttVar.Store((v*3 + d) / 4)
	c.rtt.Store((r*7 + sample) / 8)
}

// setBroken flips the connection to BROKEN and wakes every waiter.
func (c *Conn) setBroken() {
	if State(c.state.Load()) == StateConnected || State(c.state.Load()) == StateOpening {
		c.state.Store(int32(StateBroken))
	}
	c.mu.Lock()
	c.sndCond.Broadcast()
	c.rcvCond.Broadcast()
	c.mu.Unlock()
}

// markShutdown records a validated peer SHUTDOWN: the connection is
// CLOSED and pending reads drain to end-of-stream.
func (c *Conn) markShutdown() {
	c.shutdown.Store(true)
	c.state.Store(int32(StateClosed))
	c.mu.Lock()
	c.sndCond.Broadcast()
	c.rcvCond.Broadcast()
	c.mu.Unlock()
}

func (c *Conn) emit(p *packet.Packet) liberr.Error {
	p.SetTimestamp(c.tsNow())
	p.SetDstID(c.peerID.Load())

	_, err := c.ch.SendTo(c.peerAddr.Load(), p)
	if err == nil {
		c.lastSnd.Store(time.Now().UnixNano())
	}
	return err
}

// Close tears the connection down: waits up to the linger budget for
// unsent data, notifies the peer with SHUTDOWN, stops both tasks and
// releases the channel.
func (c *Conn) Close() liberr.Error {
	c.closeOnce.Do(func() {
		if c.State() == StateConnected {
			if linger := c.Options().Linger; linger > 0 && c.snd != nil {
				deadline := time.Now().Add(linger)
				for time.Now().Before(deadline) {
					if c.snd.Pending() == 0 && c.sndLoss.Len() == 0 {
						break
					}
					if c.State() != StateConnected {
						break
					}
					time.Sleep(SynInterval)
				}
			}

			p := packet.NewShutdown()
			_ = c.emit(&p)
		}

		if State(c.state.Load()) != StateBroken {
			c.state.Store(int32(StateClosed))
		}

		close(c.closedCh)

		c.mu.Lock()
		c.sndCond.Broadcast()
		c.rcvCond.Broadcast()
		c.mu.Unlock()

		_ = c.ch.Close()
		c.wg.Wait()
	})

	return nil
}

// condWait blocks on cond up to timeout (zero waits without bound).
// Returns false when the timeout elapsed. Caller holds c.mu.
func (c *Conn) condWait(cond *sync.Cond, deadline time.Time) bool {
	if deadline.IsZero() {
		cond.Wait()
		return true
	}

	remain := time.Until(deadline)
	if remain <= 0 {
		return false
	}

	t := time.AfterFunc(remain, cond.Broadcast)
	cond.Wait()
	t.Stop()
	return true
}
