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

package socket

import (
	"net"
	"strconv"
	"strings"
	"time"

	liberr "github.com/nabbar/golib/errors"

	chnice "github.com/seesky/poleis/channel/ice"
	"github.com/seesky/poleis/transport"
)

// Option names a socket tunable.
type Option int

const (
	// OptMSS is the maximum datagram size including the packet header.
	OptMSS Option = iota
	// OptSndSyn selects blocking sends.
	OptSndSyn
	// OptRcvSyn selects blocking receives.
	OptRcvSyn
	// OptSndBuf / OptRcvBuf size the engine buffers in packets.
	OptSndBuf
	OptRcvBuf
	// OptUDPSndBuf / OptUDPRcvBuf size the substrate socket buffers.
	OptUDPSndBuf
	OptUDPRcvBuf
	// OptLinger bounds close-time draining.
	OptLinger
	// OptRendezvous selects the both-sides-initiate connection mode.
	OptRendezvous
	// OptSndTimeo / OptRcvTimeo bound blocking operations.
	OptSndTimeo
	OptRcvTimeo
	// OptMaxMsg caps the size of one message.
	OptMaxMsg
	// OptReuseAddr keeps the bound endpoint reusable.
	OptReuseAddr

	// OptIceUfrag / OptIcePwd read the local ICE credentials and write
	// the remote ones.
	OptIceUfrag
	OptIcePwd
	// OptIceCandidates reads the local candidate list and writes the
	// remote one.
	OptIceCandidates
	// OptIceStunServer names the STUN server as host[:port].
	OptIceStunServer
	// OptIceTurnServer names the TURN relay as host[:port],user,pass.
	OptIceTurnServer
)

// SetOption applies one socket option. Connection-wide tunables only
// take effect on connections established afterwards.
func (s *Socket) SetOption(o Option, v interface{}) liberr.Error {
	switch o {
	case OptMSS:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.MTU = n })

	case OptSndSyn:
		b, ok := v.(bool)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.SyncSend = b })
		s.applyConn(func(opt *transport.Options) { opt.SyncSend = b })

	case OptRcvSyn:
		b, ok := v.(bool)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.SyncRecv = b })
		s.applyConn(func(opt *transport.Options) { opt.SyncRecv = b })

	case OptSndBuf:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.SndBufSize = n })

	case OptRcvBuf:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.RcvBufSize = n })

	case OptUDPSndBuf:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.mu.Lock()
		s.udpSnd = n
		ch := s.ch
		s.mu.Unlock()
		if ch != nil {
			ch.SetSendBufSize(n)
		}

	case OptUDPRcvBuf:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.mu.Lock()
		s.udpRcv = n
		ch := s.ch
		s.mu.Unlock()
		if ch != nil {
			ch.SetRecvBufSize(n)
		}

	case OptLinger:
		d, ok := v.(time.Duration)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.Linger = d })
		s.applyConn(func(opt *transport.Options) { opt.Linger = d })

	case OptRendezvous:
		b, ok := v.(bool)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.Rendezvous = b })

	case OptSndTimeo:
		d, ok := v.(time.Duration)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.SndTimeout = d })
		s.applyConn(func(opt *transport.Options) { opt.SndTimeout = d })

	case OptRcvTimeo:
		d, ok := v.(time.Duration)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.RcvTimeout = d })
		s.applyConn(func(opt *transport.Options) { opt.RcvTimeout = d })

	case OptMaxMsg:
		n, ok := v.(int)
		if !ok || n < 0 {
			return ErrorOptionValue.Error(nil)
		}
		s.setOpt(func(opt *transport.Options) { opt.MaxMsg = n })
		s.applyConn(func(opt *transport.Options) { opt.MaxMsg = n })

	case OptReuseAddr:
		b, ok := v.(bool)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}
		s.mu.Lock()
		s.reuse = b
		s.mu.Unlock()

	case OptIceUfrag, OptIcePwd, OptIceCandidates, OptIceStunServer, OptIceTurnServer:
		return s.setICEOption(o, v)

	default:
		return ErrorOptionUnsupported.Error(nil)
	}

	return nil
}

// GetOption reads one socket option.
func (s *Socket) GetOption(o Option) (interface{}, liberr.Error) {
	opt := s.options()

	switch o {
	case OptMSS:
		return opt.MTU, nil
	case OptSndSyn:
		return opt.SyncSend, nil
	case OptRcvSyn:
		return opt.SyncRecv, nil
	case OptSndBuf:
		return opt.SndBufSize, nil
	case OptRcvBuf:
		return opt.RcvBufSize, nil
	case OptUDPSndBuf:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ch != nil {
			return s.ch.SendBufSize(), nil
		}
		return s.udpSnd, nil
	case OptUDPRcvBuf:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ch != nil {
			return s.ch.RecvBufSize(), nil
		}
		return s.udpRcv, nil
	case OptLinger:
		return opt.Linger, nil
	case OptRendezvous:
		return opt.Rendezvous, nil
	case OptSndTimeo:
		return opt.SndTimeout, nil
	case OptRcvTimeo:
		return opt.RcvTimeout, nil
	case OptMaxMsg:
		return opt.MaxMsg, nil
	case OptReuseAddr:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reuse, nil
	case OptIceUfrag, OptIcePwd, OptIceCandidates, OptIceStunServer, OptIceTurnServer:
		return s.getICEOption(o)
	}

	return nil, ErrorOptionUnsupported.Error(nil)
}

func (s *Socket) setOpt(fct func(o *transport.Options)) {
	s.mu.Lock()
	fct(&s.opt)
	s.mu.Unlock()
}

// applyConn forwards a runtime-changeable option onto an established
// connection.
func (s *Socket) applyConn(fct func(o *transport.Options)) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.SetOptions(fct)
	}
}

func (s *Socket) ice() (chnice.Channel, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useICE {
		return nil, ErrorNoICE.Error(nil)
	}
	if s.iceCh == nil {
		return nil, ErrorNotBound.Error(nil)
	}
	return s.iceCh, nil
}

func (s *Socket) setICEOption(o Option, v interface{}) liberr.Error {
	switch o {
	case OptIceStunServer:
		str, ok := v.(string)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}

		host, port, err := splitHostPort(str)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if !s.useICE {
			s.mu.Unlock()
			return ErrorNoICE.Error(nil)
		}
		s.iceCfg.StunHost = host
		s.iceCfg.StunPort = port
		ice := s.iceCh
		s.mu.Unlock()

		if ice != nil {
			ice.SetStunServer(host, port)
		}

	case OptIceTurnServer:
		str, ok := v.(string)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}

		cfg, err := parseTurn(str)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if !s.useICE {
			s.mu.Unlock()
			return ErrorNoICE.Error(nil)
		}
		s.iceCfg.Turn = cfg
		ice := s.iceCh
		s.mu.Unlock()

		if ice != nil {
			return ice.SetTurnRelay(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Proto)
		}

	case OptIceUfrag, OptIcePwd:
		// remote credentials travel as one Info through SetICEInfo
		return ErrorOptionUnsupported.Error(nil)

	case OptIceCandidates:
		cands, ok := v.([]string)
		if !ok {
			return ErrorOptionValue.Error(nil)
		}

		ice, err := s.ice()
		if err != nil {
			return err
		}
		return ice.SetRemoteCandidates(cands)
	}

	return nil
}

func (s *Socket) getICEOption(o Option) (interface{}, liberr.Error) {
	switch o {
	case OptIceStunServer:
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.useICE {
			return nil, ErrorNoICE.Error(nil)
		}
		if s.iceCfg.StunHost == "" {
			return "", nil
		}
		return net.JoinHostPort(s.iceCfg.StunHost, strconv.Itoa(int(s.iceCfg.StunPort))), nil

	case OptIceTurnServer:
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.useICE {
			return nil, ErrorNoICE.Error(nil)
		}
		if s.iceCfg.Turn.Host == "" {
			return "", nil
		}
		return net.JoinHostPort(s.iceCfg.Turn.Host, strconv.Itoa(int(s.iceCfg.Turn.Port))) +
			"," + s.iceCfg.Turn.Username + "," + s.iceCfg.Turn.Password, nil

	case OptIceUfrag:
		ice, err := s.ice()
		if err != nil {
			return nil, err
		}
		ufrag, _, e := ice.LocalCredentials()
		return ufrag, e

	case OptIcePwd:
		ice, err := s.ice()
		if err != nil {
			return nil, err
		}
		_, pwd, e := ice.LocalCredentials()
		return pwd, e

	case OptIceCandidates:
		ice, err := s.ice()
		if err != nil {
			return nil, err
		}
		return ice.LocalCandidates()
	}

	return nil, ErrorOptionUnsupported.Error(nil)
}

// ICEInfo gathers the local credentials and candidates to hand to the
// peer, blocking until candidate gathering completed.
func (s *Socket) ICEInfo() (chnice.Info, liberr.Error) {
	ice, err := s.ice()
	if err != nil {
		return chnice.Info{}, err
	}

	if err = ice.WaitForCandidates(); err != nil {
		return chnice.Info{}, err
	}

	return ice.LocalInfo()
}

// SetICEInfo applies the peer's credentials and candidates.
func (s *Socket) SetICEInfo(i chnice.Info) liberr.Error {
	ice, err := s.ice()
	if err != nil {
		return err
	}
	return ice.SetRemoteInfo(i)
}

func splitHostPort(v string) (string, uint16, liberr.Error) {
	if v == "" {
		return "", 0, nil
	}

	if !strings.Contains(v, ":") {
		return v, chnice.DefaultStunPort, nil
	}

	host, ps, err := net.SplitHostPort(v)
	if err != nil {
		return "", 0, ErrorOptionValue.Error(err)
	}

	port, err := strconv.ParseUint(ps, 10, 16)
	if err != nil {
		return "", 0, ErrorOptionValue.Error(err)
	}

	return host, uint16(port), nil
}

func parseTurn(v string) (chnice.ConfigTurn, liberr.Error) {
	if v == "" {
		return chnice.ConfigTurn{}, nil
	}

	parts := strings.SplitN(v, ",", 3)
	if len(parts) != 3 {
		return chnice.ConfigTurn{}, ErrorOptionValue.Error(nil)
	}

	host, port, err := splitHostPort(parts[0])
	if err != nil {
		return chnice.ConfigTurn{}, err
	}

	return chnice.ConfigTurn{
		Host:     host,
		Port:     port,
		Username: parts[1],
		Password: parts[2],
		Proto:    chnice.TurnProtoUDP,
	}, nil
}
