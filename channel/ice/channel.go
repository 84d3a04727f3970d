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

// Package ice implements the packet channel over an ICE component: the
// agent gathers candidates, the peers exchange credentials and candidates
// out-of-band, and once a pair is nominated each packet rides the
// component as one datagram, possibly relayed.
//
// A dedicated pump goroutine owns all substrate reads and feeds a bounded
// queue; the send path is single-writer. Teardown drains in-flight sends,
// releases a blocked receive with a distinct closed error, and joins the
// pump before the agent is released.
package ice

import (
	"context"
	"net"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"
	liblog "github.com/nabbar/golib/logger"
	pioice "github.com/pion/ice/v2"
	"github.com/pion/stun"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
)

const (
	componentID    = 1
	recvQueueDepth = 1024
	maxDatagram    = 65536
	sendRetryDelay = time.Millisecond
	sendRetryMax   = 100
)

// Channel extends the packet channel with the ICE rendezvous operations:
// candidate gathering, out-of-band credential exchange and connectivity
// establishment.
type Channel interface {
	libchn.Channel

	// SetControlling records the intended ICE role. Effective at the
	// next Open.
	SetControlling(controlling bool)

	// SetStunServer caches the STUN server applied at the next Open.
	// An empty host clears it; a zero port falls back to DefaultStunPort.
	SetStunServer(host string, port uint16)

	// SetTurnRelay caches the TURN relay applied at the next Open. An
	// empty host clears it; a zero port falls back to DefaultStunPort;
	// an empty proto falls back to udp.
	SetTurnRelay(host string, port uint16, user, pass, proto string) liberr.Error

	// SetPortRange restricts locally selected UDP ports. Effective at
	// the next Open.
	SetPortRange(min, max uint16)

	// WaitForCandidates blocks until candidate gathering completed or
	// the channel failed.
	WaitForCandidates() liberr.Error

	// RestartGathering triggers a new gathering round on the open agent.
	RestartGathering() liberr.Error

	// LocalCredentials returns the local user fragment and password to
	// hand to the peer.
	LocalCredentials() (ufrag string, pwd string, err liberr.Error)

	// LocalCandidates returns the gathered local candidates in textual
	// form, filtered to IPv4 entries.
	LocalCandidates() ([]string, liberr.Error)

	// SetRemoteCredentials supplies the peer's credentials.
	SetRemoteCredentials(ufrag, pwd string) liberr.Error

	// SetRemoteCandidates supplies the peer's candidates. Entries whose
	// component does not match and non-IPv4 entries are dropped.
	SetRemoteCandidates(candidates []string) liberr.Error

	// LocalInfo bundles credentials and candidates for the out-of-band
	// exchange line.
	LocalInfo() (Info, liberr.Error)

	// SetRemoteInfo applies a parsed exchange line.
	SetRemoteInfo(i Info) liberr.Error

	// WaitUntilConnected blocks until the component is usable, the
	// timeout elapses, or establishment failed. A zero timeout waits
	// without bound.
	WaitUntilConnected(timeout time.Duration) liberr.Error
}

// New returns an ICE packet channel for the given config. No I/O happens
// before Open.
func New(cfg Config) (Channel, liberr.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Turn.Host != "" && cfg.Turn.Proto != "" && cfg.Turn.Proto != TurnProtoUDP && cfg.Turn.Proto != TurnProtoTCP {
		return nil, ErrorTurnProto.Error(nil)
	}

	c := &chn{
		controlling: cfg.Controlling,
		stunHost:    cfg.StunHost,
		stunPort:    cfg.StunPort,
		turn:        cfg.Turn,
		portMin:     cfg.PortMin,
		portMax:     cfg.PortMax,
		snd:         65536,
		rcv:         65536,
	}
	c.cond = sync.NewCond(&c.mu)
	c.closeCond = sync.NewCond(&c.closeMu)

	return c, nil
}

type chn struct {
	mu   sync.Mutex // state lock
	cond *sync.Cond // gatheringDone / connected / failed transitions

	closeMu     sync.Mutex // closing flag and in-flight send accounting
	closeCond   *sync.Cond
	closing     bool
	activeSends int

	sendMu sync.Mutex // single substrate writer, preserves send order

	controlling bool
	stunHost    string
	stunPort    uint16
	turn        ConfigTurn
	portMin     uint16
	portMax     uint16
	snd         int
	rcv         int

	agent *pioice.Agent
	conn  net.Conn
	queue *recvQueue
	wg    sync.WaitGroup

	cancelConnect context.CancelFunc
	connectOnce   bool

	gatheringDone bool
	connected     bool
	failed        bool

	candidates []string

	remoteUfrag    string
	remotePwd      string
	remoteCredsSet bool
	remoteCandsSet bool

	localAddr *net.UDPAddr
	peerAddr  *net.UDPAddr
}

func (c *chn) urls() []*stun.URI {
	var out []*stun.URI

	if c.stunHost != "" {
		port := c.stunPort
		if port == 0 {
			port = DefaultStunPort
		}
		out = append(out, &stun.URI{
			Scheme: stun.SchemeTypeSTUN,
			Host:   c.stunHost,
			Port:   int(port),
		})
	}

	if c.turn.Host != "" {
		port := c.turn.Port
		if port == 0 {
			port = DefaultStunPort
		}
		proto := stun.ProtoTypeUDP
		if c.turn.Proto == TurnProtoTCP {
			proto = stun.ProtoTypeTCP
		}
		out = append(out, &stun.URI{
			Scheme:   stun.SchemeTypeTURN,
			Host:     c.turn.Host,
			Port:     int(port),
			Username: c.turn.Username,
			Password: c.turn.Password,
			Proto:    proto,
		})
	}

	return out
}

func (c *chn) Open() liberr.Error {
	c.closeMu.Lock()
	c.closing = false
	c.activeSends = 0
	c.closeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent != nil {
		return nil
	}

	c.gatheringDone = false
	c.connected = false
	c.failed = false
	c.connectOnce = false
	c.remoteCredsSet = false
	c.remoteCandsSet = false
	c.candidates = nil
	c.localAddr = nil
	c.peerAddr = nil
	c.queue = newRecvQueue(recvQueueDepth)

	agent, err := pioice.NewAgent(&pioice.AgentConfig{
		NetworkTypes:  []pioice.NetworkType{pioice.NetworkTypeUDP4},
		Urls:          c.urls(),
		PortMin:       c.portMin,
		PortMax:       c.portMax,
		LoggerFactory: logFactory{},
	})
	if err != nil {
		return ErrorAgentCreate.Error(err)
	}

	if err = agent.OnCandidate(func(cand pioice.Candidate) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if cand == nil {
			c.gatheringDone = true
			c.cond.Broadcast()
			return
		}

		if cand.Component() != componentID {
			return
		}
		if ip := net.ParseIP(cand.Address()); ip == nil || ip.To4() == nil {
			return
		}

		c.candidates = append(c.candidates, cand.Marshal())
	}); err != nil {
		_ = agent.Close()
		return ErrorAgentCreate.Error(err)
	}

	if err = agent.OnConnectionStateChange(func(s pioice.ConnectionState) {
		c.mu.Lock()
		defer c.mu.Unlock()

		switch s {
		case pioice.ConnectionStateConnected, pioice.ConnectionStateCompleted:
			if !c.connected {
				c.connected = true
				c.cond.Broadcast()
			}
		case pioice.ConnectionStateFailed:
			c.failed = true
			c.cond.Broadcast()
			liblog.ErrorLevel.Logf("[ice] component state %s; channel marked unusable", s)
		case pioice.ConnectionStateDisconnected, pioice.ConnectionStateClosed:
			if c.connected {
				c.connected = false
				c.failed = true
				c.cond.Broadcast()
				liblog.ErrorLevel.Logf("[ice] component state %s after being connected; channel marked unusable", s)
			}
		}
	}); err != nil {
		_ = agent.Close()
		return ErrorAgentCreate.Error(err)
	}

	if err = agent.GatherCandidates(); err != nil {
		_ = agent.Close()
		return ErrorGathering.Error(err)
	}

	c.agent = agent
	return nil
}

func (c *chn) Close() liberr.Error {
	c.closeMu.Lock()
	c.closing = true
	for c.activeSends > 0 {
		c.closeCond.Wait()
	}
	c.closeMu.Unlock()

	c.mu.Lock()
	agent := c.agent
	conn := c.conn
	queue := c.queue
	cancel := c.cancelConnect
	c.agent = nil
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if queue != nil {
		queue.sentinel()
	}

	c.wg.Wait()

	if agent != nil {
		_ = agent.Close()
	}

	c.closeMu.Lock()
	c.activeSends = 0
	c.closeMu.Unlock()

	return nil
}

func (c *chn) SetControlling(controlling bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controlling = controlling
}

func (c *chn) SetStunServer(host string, port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if host == "" {
		c.stunHost = ""
		c.stunPort = 0
		return
	}

	c.stunHost = host
	if port == 0 {
		port = DefaultStunPort
	}
	c.stunPort = port
}

func (c *chn) SetTurnRelay(host string, port uint16, user, pass, proto string) liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if host == "" {
		c.turn = ConfigTurn{}
		return nil
	}

	if proto == "" {
		proto = TurnProtoUDP
	}
	if proto != TurnProtoUDP && proto != TurnProtoTCP {
		return ErrorTurnProto.Error(nil)
	}

	if port == 0 {
		port = DefaultStunPort
	}

	c.turn = ConfigTurn{Host: host, Port: port, Username: user, Password: pass, Proto: proto}
	return nil
}

func (c *chn) SetPortRange(min, max uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if min > 0 && max > 0 && min <= max {
		c.portMin = min
		c.portMax = max
	} else {
		c.portMin = 0
		c.portMax = 0
	}
}

func (c *chn) WaitForCandidates() liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.gatheringDone && !c.failed {
		c.cond.Wait()
	}

	if c.failed {
		return ErrorGathering.Error(nil)
	}
	return nil
}

func (c *chn) RestartGathering() liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent == nil {
		return libchn.ErrorNotOpen.Error(nil)
	}

	c.gatheringDone = false
	if err := c.agent.GatherCandidates(); err != nil {
		return ErrorGathering.Error(err)
	}
	return nil
}

func (c *chn) LocalCredentials() (string, string, liberr.Error) {
	c.mu.Lock()
	agent := c.agent
	c.mu.Unlock()

	if agent == nil {
		return "", "", libchn.ErrorNotOpen.Error(nil)
	}

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		return "", "", ErrorCredentials.Error(err)
	}
	return ufrag, pwd, nil
}

func (c *chn) LocalCandidates() ([]string, liberr.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent == nil {
		return nil, libchn.ErrorNotOpen.Error(nil)
	}

	out := make([]string, len(c.candidates))
	copy(out, c.candidates)
	return out, nil
}

func (c *chn) LocalInfo() (Info, liberr.Error) {
	ufrag, pwd, err := c.LocalCredentials()
	if err != nil {
		return Info{}, err
	}

	cands, err := c.LocalCandidates()
	if err != nil {
		return Info{}, err
	}

	return Info{Ufrag: ufrag, Pwd: pwd, Candidates: cands}, nil
}

func (c *chn) SetRemoteCredentials(ufrag, pwd string) liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent == nil {
		return libchn.ErrorNotOpen.Error(nil)
	}

	c.remoteUfrag = ufrag
	c.remotePwd = pwd
	c.remoteCredsSet = true

	c.maybeConnectLocked()
	return nil
}

func (c *chn) SetRemoteCandidates(candidates []string) liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent == nil {
		return libchn.ErrorNotOpen.Error(nil)
	}

	for _, s := range candidates {
		cand, err := pioice.UnmarshalCandidate(s)
		if err != nil {
			liblog.DebugLevel.Logf("[ice] dropping unparsable candidate %q: %v", s, err)
			continue
		}

		if cand.Component() != componentID {
			continue
		}
		if ip := net.ParseIP(cand.Address()); ip == nil || ip.To4() == nil {
			continue
		}

		if err = c.agent.AddRemoteCandidate(cand); err != nil {
			return ErrorCandidateParse.Error(err)
		}
	}

	c.remoteCandsSet = true
	c.maybeConnectLocked()
	return nil
}

func (c *chn) SetRemoteInfo(i Info) liberr.Error {
	if err := c.SetRemoteCredentials(i.Ufrag, i.Pwd); err != nil {
		return err
	}
	return c.SetRemoteCandidates(i.Candidates)
}

// maybeConnectLocked starts connectivity establishment once both remote
// credentials and remote candidates are known. Caller holds c.mu.
func (c *chn) maybeConnectLocked() {
	if c.connectOnce || !c.remoteCredsSet || !c.remoteCandsSet {
		return
	}

	c.connectOnce = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelConnect = cancel

	agent := c.agent
	controlling := c.controlling
	ufrag := c.remoteUfrag
	pwd := c.remotePwd

	go func() {
		var (
			conn net.Conn
			err  error
		)

		if controlling {
			conn, err = agent.Dial(ctx, ufrag, pwd)
		} else {
			conn, err = agent.Accept(ctx, ufrag, pwd)
		}

		if err != nil {
			c.mu.Lock()
			c.failed = true
			c.cond.Broadcast()
			c.mu.Unlock()
			liblog.ErrorLevel.Logf("[ice] connectivity establishment failed: %v", err)
			return
		}

		c.closeMu.Lock()
		closing := c.closing
		c.closeMu.Unlock()

		if closing {
			_ = conn.Close()
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.cond.Broadcast()
		queue := c.queue
		c.mu.Unlock()

		c.refreshAddrs()

		c.wg.Add(1)
		go c.pump(conn, queue)
	}()
}

// pump owns every substrate read, preserving arrival order into the queue.
func (c *chn) pump(conn net.Conn, queue *recvQueue) {
	defer c.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			queue.sentinel()
			return
		}

		b := make([]byte, n)
		copy(b, buf[:n])
		queue.push(b)
	}
}

func (c *chn) WaitUntilConnected(timeout time.Duration) liberr.Error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for !(c.connected && c.conn != nil) && !c.failed {
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				return ErrorConnectTimeout.Error(nil)
			}
			t := time.AfterFunc(remain, c.cond.Broadcast)
			c.cond.Wait()
			t.Stop()
		} else {
			c.cond.Wait()
		}
	}

	if c.failed {
		return ErrorConnectFailed.Error(nil)
	}
	return nil
}

func (c *chn) SendTo(_ *net.UDPAddr, p *packet.Packet) (int, liberr.Error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	failed := c.failed
	c.mu.Unlock()

	c.closeMu.Lock()
	if c.closing || failed {
		c.closeMu.Unlock()
		return -1, libchn.ErrorClosed.Error(nil)
	}
	if conn == nil {
		c.closeMu.Unlock()
		return -1, libchn.ErrorNotOpen.Error(nil)
	}
	c.activeSends++
	c.closeMu.Unlock()

	defer func() {
		c.closeMu.Lock()
		if c.activeSends > 0 {
			c.activeSends--
			if c.activeSends == 0 {
				c.closeCond.Signal()
			}
		}
		c.closeMu.Unlock()
	}()

	buf := make([]byte, packet.HeaderSize+len(p.Data))
	n, e := packet.Marshal(p, buf)
	if e != nil {
		return -1, e
	}

	for try := 0; ; try++ {
		w, err := conn.Write(buf[:n])
		if err == nil {
			return w, nil
		}

		if ne, ok := err.(net.Error); ok && ne.Timeout() && try < sendRetryMax {
			// transient substrate backpressure; retry preserving order
			time.Sleep(sendRetryDelay)
			continue
		}

		c.mu.Lock()
		c.failed = true
		c.cond.Broadcast()
		c.mu.Unlock()

		liblog.ErrorLevel.Logf("[ice] send failed; channel marked unusable: %v", err)
		return -1, libchn.ErrorSend.Error(err)
	}
}

func (c *chn) RecvFrom(p *packet.Packet) (*net.UDPAddr, int, liberr.Error) {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()

	if queue == nil {
		return nil, -1, libchn.ErrorClosed.Error(nil)
	}

	b, open := queue.pop(libchn.RecvTimeout)
	if b == nil {
		if !open {
			return nil, -1, libchn.ErrorClosed.Error(nil)
		}
		return nil, -1, libchn.ErrorAgain.Error(nil)
	}

	if e := packet.Unmarshal(b, p); e != nil {
		return nil, -1, e
	}

	return c.PeerAddr(), p.Length(), nil
}

// refreshAddrs caches the selected pair's addresses; stable once
// WaitUntilConnected returned.
func (c *chn) refreshAddrs() {
	c.mu.Lock()
	agent := c.agent
	c.mu.Unlock()

	if agent == nil {
		return
	}

	pair, err := agent.GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return
	}

	local := &net.UDPAddr{IP: net.ParseIP(pair.Local.Address()), Port: pair.Local.Port()}
	peer := &net.UDPAddr{IP: net.ParseIP(pair.Remote.Address()), Port: pair.Remote.Port()}

	c.mu.Lock()
	c.localAddr = local
	c.peerAddr = peer
	c.mu.Unlock()
}

func (c *chn) LocalAddr() *net.UDPAddr {
	c.mu.Lock()
	a := c.localAddr
	c.mu.Unlock()

	if a == nil {
		c.refreshAddrs()
		c.mu.Lock()
		a = c.localAddr
		c.mu.Unlock()
	}

	return a
}

func (c *chn) PeerAddr() *net.UDPAddr {
	c.mu.Lock()
	a := c.peerAddr
	c.mu.Unlock()

	if a == nil {
		c.refreshAddrs()
		c.mu.Lock()
		a = c.peerAddr
		c.mu.Unlock()
	}

	return a
}

func (c *chn) SendBufSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snd
}

func (c *chn) SetSendBufSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size > 0 {
		c.snd = size
	}
}

func (c *chn) RecvBufSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rcv
}

func (c *chn) SetRecvBufSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size > 0 {
		c.rcv = size
	}
}
