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
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

const (
	ErrorPacketShort liberr.CodeError = iota + liberr.MinAvailable + 900
	ErrorBufferShort
	ErrorBodyAlign
	ErrorHandshakeShort
	ErrorLossEncoding
)

func init() {
	if liberr.ExistInMapMessage(ErrorPacketShort) {
		panic(fmt.Errorf("error code collision with package poleis/packet"))
	}
	liberr.RegisterIdFctMessage(ErrorPacketShort, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorPacketShort:
		return "packet: datagram shorter than the packet header"
	case ErrorBufferShort:
		return "packet: buffer too small for the packet"
	case ErrorBodyAlign:
		return "packet: control body is not 32-bit aligned"
	case ErrorHandshakeShort:
		return "packet: truncated handshake body"
	case ErrorLossEncoding:
		return "packet: truncated loss range encoding"
	}

	return liberr.NullMessage
}
