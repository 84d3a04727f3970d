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

// Package socket is the user-facing surface of the transport: a counted
// process-wide registry of socket handles, standard bind / listen /
// accept / connect semantics, blocking and non-blocking data operations,
// socket options, and an event multiplexer.
package socket

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"
)

const reaperInterval = time.Second

// registry is the lazily-initialized process-wide state. It is not
// exposed; Startup and Cleanup count nested users.
type registry struct {
	mu    sync.Mutex
	refs  int
	socks map[uint32]*Socket
	rng   *mrand.Rand
	stop  chan struct{}
	wg    sync.WaitGroup
}

var reg registry

// Startup initializes the transport runtime. Calls nest: each Startup
// must be matched by one Cleanup.
func Startup() liberr.Error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.refs++
	if reg.refs > 1 {
		return nil
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		reg.refs--
		return ErrorNotStarted.Error(err)
	}

	reg.socks = make(map[uint32]*Socket)
	reg.rng = mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
	reg.stop = make(chan struct{})

	reg.wg.Add(1)
	go reaper(reg.stop)

	return nil
}

// Cleanup tears the runtime down once the last nested user is gone,
// closing every remaining socket.
func Cleanup() liberr.Error {
	reg.mu.Lock()

	if reg.refs == 0 {
		reg.mu.Unlock()
		return nil
	}

	reg.refs--
	if reg.refs > 0 {
		reg.mu.Unlock()
		return nil
	}

	socks := make([]*Socket, 0, len(reg.socks))
	for _, s := range reg.socks {
		socks = append(socks, s)
	}

	close(reg.stop)
	reg.socks = nil
	reg.mu.Unlock()

	for _, s := range socks {
		_ = s.Close()
	}

	reg.wg.Wait()
	return nil
}

func started() bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.refs > 0
}

// randISN draws a random initial sequence number.
func randISN() int32 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rng.Int31n(0x7FFFFFFF)
}

// newID allocates an unused nonzero socket identifier.
func newID() uint32 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return newIDLocked()
}

func newIDLocked() uint32 {
	for {
		id := reg.rng.Uint32()
		if id == 0 {
			continue
		}
		if _, used := reg.socks[id]; used {
			continue
		}
		return id
	}
}

func register(s *Socket) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.socks != nil {
		reg.socks[s.id] = s
	}
}

func unregister(id uint32) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.socks != nil {
		delete(reg.socks, id)
	}
}

// Lookup resolves a socket identifier to its handle.
func Lookup(id uint32) (*Socket, liberr.Error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.refs == 0 {
		return nil, ErrorNotStarted.Error(nil)
	}

	s, ok := reg.socks[id]
	if !ok {
		return nil, ErrorInvalidSocket.Error(nil)
	}
	return s, nil
}

// reaper reclaims closed sockets after their linger grace period.
func reaper(stop chan struct{}) {
	defer reg.wg.Done()

	t := time.NewTicker(reaperInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			var dead []uint32

			reg.mu.Lock()
			for id, s := range reg.socks {
				if s.reapable(now) {
					dead = append(dead, id)
				}
			}
			for _, id := range dead {
				delete(reg.socks, id)
			}
			reg.mu.Unlock()
		}
	}
}
