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
	"sync/atomic"
	"time"
)

// counters aggregates the connection's throughput and control totals.
// Every field is updated atomically on the hot paths.
type counters struct {
	pktSent    atomic.Int64
	pktRecv    atomic.Int64
	bytesSent  atomic.Int64
	bytesRecv  atomic.Int64
	pktRetrans atomic.Int64
	pktDup     atomic.Int64
	pktDropped atomic.Int64
	pktSentACK atomic.Int64
	pktRecvACK atomic.Int64
	pktSentNAK atomic.Int64
	pktRecvNAK atomic.Int64
}

// Stats is the performance snapshot returned by Perfmon.
type Stats struct {
	// MbpsSendRate is the payload send rate since connection start.
	MbpsSendRate float64
	// MbpsRecvRate is the payload receive rate since connection start.
	MbpsRecvRate float64
	// RTTMs is the smoothed round-trip time in milliseconds.
	RTTMs float64
	// CongestionWindow is the current window in packets.
	CongestionWindow int
	// PacingPeriodUs is the inter-packet sending period in microseconds.
	PacingPeriodUs float64

	PktSent      int64
	PktRecv      int64
	BytesSent    int64
	BytesRecv    int64
	PktRetrans   int64
	PktDuplicate int64
	PktDropped   int64
	PktSentACK   int64
	PktRecvACK   int64
	PktSentNAK   int64
	PktRecvNAK   int64
}

// Perfmon returns a consistent snapshot of the connection's counters and
// controller state.
func (c *Conn) Perfmon() Stats {
	elapsed := time.Since(c.start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}

	s := Stats{
		CongestionWindow: c.cc.Window(),
		PacingPeriodUs:   c.cc.Period(),
		RTTMs:            float64(c.rttLoad()) / 1000.0,
		PktSent:          c.cnt.pktSent.Load(),
		PktRecv:          c.cnt.pktRecv.Load(),
		BytesSent:        c.cnt.bytesSent.Load(),
		BytesRecv:        c.cnt.bytesRecv.Load(),
		PktRetrans:       c.cnt.pktRetrans.Load(),
		PktDuplicate:     c.cnt.pktDup.Load(),
		PktDropped:       c.cnt.pktDropped.Load(),
		PktSentACK:       c.cnt.pktSentACK.Load(),
		PktRecvACK:       c.cnt.pktRecvACK.Load(),
		PktSentNAK:       c.cnt.pktSentNAK.Load(),
		PktRecvNAK:       c.cnt.pktRecvNAK.Load(),
	}

	s.MbpsSendRate = float64(s.BytesSent) * 8 / elapsed / 1e6
	s.MbpsRecvRate = float64(s.BytesRecv) * 8 / elapsed / 1e6

	return s
}
