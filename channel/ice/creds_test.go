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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Credential Exchange Line", func() {
	Context("parsing", func() {
		It("should split length-prefixed ufrag, pwd and candidates", func() {
			i, err := ParseInfo("5:abcde8:passw0rd17:candidate:1 udp X")
			Expect(err).To(BeNil())
			Expect(i.Ufrag).To(Equal("abcde"))
			Expect(i.Pwd).To(Equal("passw0rd"))
			Expect(i.Candidates).To(Equal([]string{"candidate:1 udp X"}))
		})

		It("should accept a line without candidates", func() {
			i, err := ParseInfo("2:ab3:pwd")
			Expect(err).To(BeNil())
			Expect(i.Candidates).To(BeEmpty())
		})

		It("should tolerate surrounding whitespace", func() {
			i, err := ParseInfo("  2:ab 3:pwd 1:c \n")
			Expect(err).To(BeNil())
			Expect(i.Ufrag).To(Equal("ab"))
			Expect(i.Pwd).To(Equal("pwd"))
			Expect(i.Candidates).To(Equal([]string{"c"}))
		})

		It("should reject a line with fewer than two fields", func() {
			_, err := ParseInfo("3:abc")
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(ErrorInfoParse)).To(BeTrue())
		})

		It("should reject a truncated field", func() {
			_, err := ParseInfo("5:abcde9:passw0rd")
			Expect(err).ToNot(BeNil())
		})

		It("should reject a malformed length", func() {
			_, err := ParseInfo("x:abcde3:pwd")
			Expect(err).ToNot(BeNil())
		})

		It("should reject trailing garbage", func() {
			_, err := ParseInfo("2:ab3:pwd!!")
			Expect(err).ToNot(BeNil())
		})
	})

	Context("formatting", func() {
		It("should be the inverse of parsing", func() {
			in := Info{
				Ufrag:      "abcde",
				Pwd:        "passw0rd",
				Candidates: []string{"candidate:1 udp X", "candidate:2 udp Y"},
			}
			out, err := ParseInfo(FormatInfo(in))
			Expect(err).To(BeNil())
			Expect(out).To(Equal(in))
		})

		It("should produce the documented field layout", func() {
			Expect(FormatInfo(Info{Ufrag: "abcde", Pwd: "passw0rd", Candidates: []string{"candidate:1 udp X"}})).
				To(Equal("5:abcde8:passw0rd17:candidate:1 udp X"))
		})
	})
})
