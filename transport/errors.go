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
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

// Error codes follow the transport's failure taxonomy: setup, connection,
// I/O, file and fatal categories each own a sub-range.

// setup failures
const (
	ErrorSetup liberr.CodeError = iota + liberr.MinAvailable + 100
	ErrorResource
	ErrorBindRefused
)

// connection failures
const (
	ErrorHandshakeTimeout liberr.CodeError = iota + liberr.MinAvailable + 200
	ErrorHandshakeRejected
	ErrorConnBroken
	ErrorConnClosed
)

// I/O failures
const (
	ErrorWouldBlock liberr.CodeError = iota + liberr.MinAvailable + 300
	ErrorTimeout
	ErrorInvalidBuffer
	ErrorMsgTooLarge
)

// file failures
const (
	ErrorFileIO liberr.CodeError = iota + liberr.MinAvailable + 400
)

// fatal / unknown
const (
	ErrorFatal liberr.CodeError = iota + liberr.MinAvailable + 600
)

func init() {
	if liberr.ExistInMapMessage(ErrorSetup) {
		panic(fmt.Errorf("error code collision with package poleis/transport"))
	}
	liberr.RegisterIdFctMessage(ErrorSetup, getMessage)
	liberr.RegisterIdFctMessage(ErrorHandshakeTimeout, getMessage)
	liberr.RegisterIdFctMessage(ErrorWouldBlock, getMessage)
	liberr.RegisterIdFctMessage(ErrorFileIO, getMessage)
	liberr.RegisterIdFctMessage(ErrorFatal, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorSetup:
		return "transport: runtime setup failed"
	case ErrorResource:
		return "transport: resource exhaustion"
	case ErrorBindRefused:
		return "transport: bind refused"
	case ErrorHandshakeTimeout:
		return "transport: handshake timed out"
	case ErrorHandshakeRejected:
		return "transport: handshake rejected by peer"
	case ErrorConnBroken:
		return "transport: connection broken"
	case ErrorConnClosed:
		return "transport: connection closed"
	case ErrorWouldBlock:
		return "transport: operation would block on non-blocking socket"
	case ErrorTimeout:
		return "transport: operation timed out"
	case ErrorInvalidBuffer:
		return "transport: invalid buffer"
	case ErrorMsgTooLarge:
		return "transport: message exceeds the maximum message size"
	case ErrorFileIO:
		return "transport: file stream I/O failed"
	case ErrorFatal:
		return "transport: unknown fatal error"
	}

	return liberr.NullMessage
}
