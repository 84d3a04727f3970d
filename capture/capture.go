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

// Package capture implements the screen-capture stream framing of the
// demonstration pipeline: a negotiation preamble naming the encoder and
// its caps, a status answer, then a loop of timestamped frames. All
// multi-byte fields travel in network byte order.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	liberr "github.com/nabbar/golib/errors"
)

// Negotiation status answers.
const (
	StatusAccept  uint32 = 0
	StatusBadCaps uint32 = 1
	StatusNoSink  uint32 = 2
)

// NoneValue marks an absent presentation timestamp or duration.
const NoneValue uint64 = math.MaxUint64

// MaxPreambleField bounds the encoder and caps string lengths.
const MaxPreambleField = 1 << 20

const (
	ErrorPreamble liberr.CodeError = iota + liberr.MinAvailable + 960
	ErrorFrameSize
	ErrorStream
)

func init() {
	if liberr.ExistInMapMessage(ErrorPreamble) {
		panic(fmt.Errorf("error code collision with package poleis/capture"))
	}
	liberr.RegisterIdFctMessage(ErrorPreamble, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorPreamble:
		return "capture: malformed negotiation preamble"
	case ErrorFrameSize:
		return "capture: invalid frame payload length"
	case ErrorStream:
		return "capture: stream truncated"
	}

	return liberr.NullMessage
}

// Preamble names the encoder and its caps string.
type Preamble struct {
	Encoder string
	Caps    string
}

// Frame is one timestamped payload of the stream. PTS and Duration hold
// NoneValue when absent.
type Frame struct {
	PTS      uint64
	Duration uint64
	Flags    uint32
	Payload  []byte
}

func writeBlob(w io.Writer, s string) liberr.Error {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	if _, err := w.Write(l[:]); err != nil {
		return ErrorStream.Error(err)
	}
	if len(s) > 0 {
		if _, err := io.WriteString(w, s); err != nil {
			return ErrorStream.Error(err)
		}
	}
	return nil
}

func readBlob(r io.Reader) (string, liberr.Error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", ErrorStream.Error(err)
	}

	n := binary.BigEndian.Uint32(l[:])
	if n > MaxPreambleField {
		return "", ErrorPreamble.Error(nil)
	}
	if n == 0 {
		return "", nil
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrorStream.Error(err)
	}
	return string(b), nil
}

// WritePreamble emits the negotiation preamble onto w.
func WritePreamble(w io.Writer, p Preamble) liberr.Error {
	if err := writeBlob(w, p.Encoder); err != nil {
		return err
	}
	return writeBlob(w, p.Caps)
}

// ReadPreamble parses the negotiation preamble from r.
func ReadPreamble(r io.Reader) (Preamble, liberr.Error) {
	enc, err := readBlob(r)
	if err != nil {
		return Preamble{}, err
	}

	caps, err := readBlob(r)
	if err != nil {
		return Preamble{}, err
	}

	return Preamble{Encoder: enc, Caps: caps}, nil
}

// WriteStatus answers the negotiation.
func WriteStatus(w io.Writer, status uint32) liberr.Error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], status)
	if _, err := w.Write(b[:]); err != nil {
		return ErrorStream.Error(err)
	}
	return nil
}

// ReadStatus reads the negotiation answer.
func ReadStatus(r io.Reader) (uint32, liberr.Error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrorStream.Error(err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteFrame emits one frame onto w.
func WriteFrame(w io.Writer, f Frame) liberr.Error {
	var hdr [24]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(hdr[4:12], f.PTS)
	binary.BigEndian.PutUint64(hdr[12:20], f.Duration)
	binary.BigEndian.PutUint32(hdr[20:24], f.Flags)

	if _, err := w.Write(hdr[:]); err != nil {
		return ErrorStream.Error(err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return ErrorStream.Error(err)
		}
	}
	return nil
}

// ReadFrame parses one frame from r. maxPayload bounds the accepted
// payload length; zero means unbounded.
func ReadFrame(r io.Reader, maxPayload int) (Frame, liberr.Error) {
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, ErrorStream.Error(err)
	}

	n := binary.BigEndian.Uint32(hdr[0:4])
	if maxPayload > 0 && int64(n) > int64(maxPayload) {
		return Frame{}, ErrorFrameSize.Error(nil)
	}

	f := Frame{
		PTS:      binary.BigEndian.Uint64(hdr[4:12]),
		Duration: binary.BigEndian.Uint64(hdr[12:20]),
		Flags:    binary.BigEndian.Uint32(hdr[20:24]),
	}

	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, ErrorStream.Error(err)
		}
	}

	return f, nil
}
