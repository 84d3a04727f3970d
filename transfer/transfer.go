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

// Package transfer implements the file-transfer framing the demonstration
// tools speak: a big-endian 4-byte name length, the name bytes, the
// little-endian 8-byte file size, then the raw file bytes. The mixed
// byte order is part of the wire contract and must not change.
package transfer

import (
	"encoding/binary"
	"fmt"
	"io"

	liberr "github.com/nabbar/golib/errors"
)

// MaxNameLen bounds the announced file name length.
const MaxNameLen = 1 << 20

// DefaultOutputName is the receiving side's output file name when no
// explicit destination is given.
const DefaultOutputName = "filetest"

const (
	ErrorNameLength liberr.CodeError = iota + liberr.MinAvailable + 950
	ErrorFileSize
	ErrorStream
)

func init() {
	if liberr.ExistInMapMessage(ErrorNameLength) {
		panic(fmt.Errorf("error code collision with package poleis/transfer"))
	}
	liberr.RegisterIdFctMessage(ErrorNameLength, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorNameLength:
		return "transfer: invalid file name length"
	case ErrorFileSize:
		return "transfer: invalid file size"
	case ErrorStream:
		return "transfer: stream truncated"
	}

	return liberr.NullMessage
}

// Header is the transfer preamble: the announced name and payload size.
type Header struct {
	Name string
	Size int64
}

// WriteHeader emits the preamble onto w.
func WriteHeader(w io.Writer, h Header) liberr.Error {
	if len(h.Name) > MaxNameLen {
		return ErrorNameLength.Error(nil)
	}
	if h.Size < 0 {
		return ErrorFileSize.Error(nil)
	}

	var nl [4]byte
	binary.BigEndian.PutUint32(nl[:], uint32(len(h.Name)))
	if _, err := w.Write(nl[:]); err != nil {
		return ErrorStream.Error(err)
	}

	if _, err := io.WriteString(w, h.Name); err != nil {
		return ErrorStream.Error(err)
	}

	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(h.Size))
	if _, err := w.Write(sz[:]); err != nil {
		return ErrorStream.Error(err)
	}

	return nil
}

// ReadHeader parses the preamble from r.
func ReadHeader(r io.Reader) (Header, liberr.Error) {
	var nl [4]byte
	if _, err := io.ReadFull(r, nl[:]); err != nil {
		return Header{}, ErrorStream.Error(err)
	}

	n := binary.BigEndian.Uint32(nl[:])
	if n > MaxNameLen {
		return Header{}, ErrorNameLength.Error(nil)
	}

	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return Header{}, ErrorStream.Error(err)
	}

	var sz [8]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return Header{}, ErrorStream.Error(err)
	}

	size := int64(binary.LittleEndian.Uint64(sz[:]))
	if size < 0 {
		return Header{}, ErrorFileSize.Error(nil)
	}

	return Header{Name: string(name), Size: size}, nil
}
