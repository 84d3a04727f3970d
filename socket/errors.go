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
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

// API-misuse failures: operations on sockets in the wrong state.
const (
	ErrorNotStarted liberr.CodeError = iota + liberr.MinAvailable + 500
	ErrorInvalidSocket
	ErrorWrongState
	ErrorNotBound
	ErrorNotListening
	ErrorOptionUnsupported
	ErrorOptionValue
	ErrorNoICE
)

func init() {
	if liberr.ExistInMapMessage(ErrorNotStarted) {
		panic(fmt.Errorf("error code collision with package poleis/socket"))
	}
	liberr.RegisterIdFctMessage(ErrorNotStarted, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorNotStarted:
		return "socket: transport runtime is not started"
	case ErrorInvalidSocket:
		return "socket: no such socket identifier"
	case ErrorWrongState:
		return "socket: operation not valid in this socket state"
	case ErrorNotBound:
		return "socket: socket is not bound"
	case ErrorNotListening:
		return "socket: socket is not listening"
	case ErrorOptionUnsupported:
		return "socket: unsupported option"
	case ErrorOptionValue:
		return "socket: invalid option value"
	case ErrorNoICE:
		return "socket: option requires an ICE channel"
	}

	return liberr.NullMessage
}
