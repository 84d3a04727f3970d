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

// Package seqno implements the modular arithmetic of the transport's
// 31-bit packet sequence space and 29-bit message-number space.
//
// Sequence numbers increase monotonically modulo 2^31. All comparisons and
// distances are defined so that wrap-around stays invisible as long as the
// circular distance between two live numbers is below the threshold
// Thresh (2^30 - 1). Message numbers follow the same scheme in a 29-bit space.
package seqno

// MaxSeqNo is the largest valid packet sequence number (2^31 - 1).
const MaxSeqNo int32 = 0x7FFFFFFF

// Thresh is the half-space threshold used to disambiguate wrapped
// comparisons (2^30 - 1).
const Thresh int32 = 0x3FFFFFFF

// MaxMsgNo is the largest valid message number (2^29 - 1).
const MaxMsgNo int32 = 0x1FFFFFFF

const msgThresh int32 = 0x0FFFFFFF

// Cmp compares two sequence numbers in the modular space.
// The result is negative when a precedes b, zero when equal, positive when
// a follows b, provided their circular distance is below Thresh.
func Cmp(a, b int32) int {
	if abs(a-b) < Thresh {
		return int(a - b)
	}
	return int(b - a)
}

// Length returns the number of sequence numbers in the inclusive span
// from a to b, accounting for wrap-around.
func Length(a, b int32) int {
	if a <= b {
		return int(b - a + 1)
	}
	return int(b - a + MaxSeqNo + 2)
}

// Off returns the signed offset from a to b in the modular space.
func Off(a, b int32) int {
	if abs(a-b) < Thresh {
		return int(b - a)
	}
	if a < b {
		return int(b - a - MaxSeqNo - 1)
	}
	return int(b - a + MaxSeqNo + 1)
}

// Incr returns the sequence number following s.
func Incr(s int32) int32 {
	if s == MaxSeqNo {
		return 0
	}
	return s + 1
}

// Decr returns the sequence number preceding s.
func Decr(s int32) int32 {
	if s == 0 {
		return MaxSeqNo
	}
	return s - 1
}

// Inc returns the sequence number n steps after s.
func Inc(s, n int32) int32 {
	if MaxSeqNo-s >= n {
		return s + n
	}
	return s - MaxSeqNo + n - 1
}

// MsgCmp compares two message numbers in the 29-bit modular space.
func MsgCmp(a, b int32) int {
	if abs(a-b) < msgThresh {
		return int(a - b)
	}
	return int(b - a)
}

// MsgLength returns the number of message numbers in the inclusive span
// from a to b.
func MsgLength(a, b int32) int {
	if a <= b {
		return int(b - a + 1)
	}
	return int(b - a + MaxMsgNo + 2)
}

// MsgOff returns the signed offset from a to b in the message space.
func MsgOff(a, b int32) int {
	if abs(a-b) < msgThresh {
		return int(b - a)
	}
	if a < b {
		return int(b - a - MaxMsgNo - 1)
	}
	return int(b - a + MaxMsgNo + 1)
}

// MsgIncr returns the message number following m.
func MsgIncr(m int32) int32 {
	if m == MaxMsgNo {
		return 0
	}
	return m + 1
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
