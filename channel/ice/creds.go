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
	"strconv"
	"strings"
	"unicode"

	liberr "github.com/nabbar/golib/errors"
)

// Info bundles the credentials and candidates one side must hand to its
// peer out-of-band before connectivity checks can run.
type Info struct {
	Ufrag      string
	Pwd        string
	Candidates []string
}

// FormatInfo serializes an Info as one line of length-prefixed fields of
// the form <n>:<n bytes>, in the order ufrag, pwd, candidates.
func FormatInfo(i Info) string {
	var b strings.Builder

	encodeField(&b, i.Ufrag)
	encodeField(&b, i.Pwd)
	for _, c := range i.Candidates {
		encodeField(&b, c)
	}

	return b.String()
}

func encodeField(b *strings.Builder, v string) {
	b.WriteString(strconv.Itoa(len(v)))
	b.WriteByte(':')
	b.WriteString(v)
}

// ParseInfo is the inverse of FormatInfo. Whitespace between fields is
// tolerated; a malformed length, a truncated field, or fewer than the two
// mandatory fields are rejected.
func ParseInfo(line string) (Info, liberr.Error) {
	var (
		i   Info
		pos int
		ok  bool
	)

	if i.Ufrag, pos, ok = decodeField(line, 0); !ok {
		return Info{}, ErrorInfoParse.Error(nil)
	}
	if i.Pwd, pos, ok = decodeField(line, pos); !ok {
		return Info{}, ErrorInfoParse.Error(nil)
	}

	for {
		var c string
		c, pos, ok = decodeField(line, pos)
		if !ok {
			break
		}
		i.Candidates = append(i.Candidates, c)
	}

	for ; pos < len(line); pos++ {
		if !unicode.IsSpace(rune(line[pos])) {
			return Info{}, ErrorInfoParse.Error(nil)
		}
	}

	return i, nil
}

func decodeField(line string, pos int) (string, int, bool) {
	for pos < len(line) && unicode.IsSpace(rune(line[pos])) {
		pos++
	}
	if pos >= len(line) {
		return "", pos, false
	}

	colon := strings.IndexByte(line[pos:], ':')
	if colon <= 0 {
		return "", pos, false
	}

	n, err := strconv.Atoi(line[pos : pos+colon])
	if err != nil || n < 0 {
		return "", pos, false
	}

	pos += colon + 1
	if pos+n > len(line) {
		return "", pos, false
	}

	return line[pos : pos+n], pos + n, true
}
