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

package ice

import (
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

const (
	ErrorValidatorError liberr.CodeError = iota + liberr.MinAvailable + 800
	ErrorAgentCreate
	ErrorGathering
	ErrorCredentials
	ErrorCandidateParse
	ErrorConnectFailed
	ErrorConnectTimeout
	ErrorInfoParse
	ErrorTurnProto
)

func init() {
	if liberr.ExistInMapMessage(ErrorValidatorError) {
		panic(fmt.Errorf("error code collision with package poleis/channel/ice"))
	}
	liberr.RegisterIdFctMessage(ErrorValidatorError, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorValidatorError:
		return "channel/ice: invalid config"
	case ErrorAgentCreate:
		return "channel/ice: cannot create the agent"
	case ErrorGathering:
		return "channel/ice: candidate gathering failed"
	case ErrorCredentials:
		return "channel/ice: cannot retrieve local credentials"
	case ErrorCandidateParse:
		return "channel/ice: cannot parse candidate"
	case ErrorConnectFailed:
		return "channel/ice: connectivity establishment failed"
	case ErrorConnectTimeout:
		return "channel/ice: connectivity establishment timed out"
	case ErrorInfoParse:
		return "channel/ice: malformed credential exchange line"
	case ErrorTurnProto:
		return "channel/ice: unsupported relay transport type"
	}

	return liberr.NullMessage
}
