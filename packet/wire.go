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

package packet

import (
	"encoding/binary"

	liberr "github.com/nabbar/golib/errors"
)

// hostOrder is the in-memory byte order of control-packet bodies between
// Marshal / Unmarshal calls.
var hostOrder = binary.NativeEndian

// Marshal serializes p into buf: the four header words in network byte
// order, then the payload. For control packets the body words are
// converted to network order as well; data payloads are copied verbatim.
// The Packet value is left in host order and may be reused. Returns the
// number of bytes written.
func Marshal(p *Packet, buf []byte) (int, liberr.Error) {
	total := HeaderSize + len(p.Data)
	if len(buf) < total {
		return 0, ErrorBufferShort.Error(nil)
	}

	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(buf[i*4:], p.Header[i])
	}

	if p.IsControl() {
		if len(p.Data)%4 != 0 {
			return 0, ErrorBodyAlign.Error(nil)
		}
		for i := 0; i < len(p.Data)/4; i++ {
			binary.BigEndian.PutUint32(buf[HeaderSize+i*4:], hostOrder.Uint32(p.Data[i*4:]))
		}
	} else {
		copy(buf[HeaderSize:], p.Data)
	}

	return total, nil
}

// Unmarshal parses one wire datagram into p. The header words and, for
// control packets, the body words are converted back to host order. The
// payload is copied out of buf so the caller may reuse its receive buffer.
func Unmarshal(buf []byte, p *Packet) liberr.Error {
	if len(buf) < HeaderSize {
		return ErrorPacketShort.Error(nil)
	}

	for i := 0; i < 4; i++ {
		p.Header[i] = binary.BigEndian.Uint32(buf[i*4:])
	}

	body := buf[HeaderSize:]
	if p.IsControl() {
		if len(body)%4 != 0 {
			return ErrorBodyAlign.Error(nil)
		}
		p.Data = make([]byte, len(body))
		for i := 0; i < len(body)/4; i++ {
			hostOrder.PutUint32(p.Data[i*4:], binary.BigEndian.Uint32(body[i*4:]))
		}
	} else {
		p.Data = make([]byte, len(body))
		copy(p.Data, body)
	}

	return nil
}

// EncodeLoss compresses an inclusive sequence range for a NAK body: a
// single lost sequence is one word with the top bit clear, a range is two
// words with the first word's top bit set.
func EncodeLoss(first, last int32) []uint32 {
	if first == last {
		return []uint32{uint32(first) & maskSeqNo}
	}
	return []uint32{uint32(first)&maskSeqNo | flagControl, uint32(last) & maskSeqNo}
}

// DecodeLoss walks an encoded NAK body and invokes fct with each inclusive
// range. Returns an error on a truncated range encoding.
func DecodeLoss(body []uint32, fct func(first, last int32)) liberr.Error {
	for i := 0; i < len(body); i++ {
		if body[i]&flagControl != 0 {
			if i+1 >= len(body) {
				return ErrorLossEncoding.Error(nil)
			}
			fct(int32(body[i]&maskSeqNo), int32(body[i+1]&maskSeqNo))
			i++
		} else {
			s := int32(body[i] & maskSeqNo)
			fct(s, s)
		}
	}
	return nil
}
