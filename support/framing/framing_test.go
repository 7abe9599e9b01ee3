// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package framing

import (
	"bytes"
	"testing"

	"github.com/danjacques/gotracestore/support/dataio"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type testPayload struct {
	Op    string   `json:"op"`
	Count int      `json:"count,omitempty"`
	Names []string `json:"names,omitempty"`
}

var _ = Describe("End-to-End Encode/Decode", func() {
	It("can encode and then decode frames", func() {
		var buf bytes.Buffer

		p0 := testPayload{Op: "list"}
		p1 := testPayload{Op: "info", Count: 3, Names: []string{"foo", "bar"}}
		p2 := testPayload{}

		var enc Encoder
		for _, p := range []testPayload{p0, p1, p2} {
			amt, err := enc.WriteJSON(&buf, &p)
			Expect(err).ToNot(HaveOccurred(), "while encoding %+v", p)
			Expect(amt).To(BeNumerically(">", 1), "while encoding %+v", p)
		}

		var dec Decoder
		dr := dataio.MakeReader(bytes.NewReader(buf.Bytes()))
		for _, exp := range []testPayload{p0, p1, p2} {
			var got testPayload
			_, err := dec.ReadJSON(dr, &got)
			Expect(err).ToNot(HaveOccurred(), "while decoding %+v", exp)
			Expect(got).To(Equal(exp))
		}
	})

	It("rejects a frame larger than the configured limit", func() {
		var buf bytes.Buffer

		var enc Encoder
		_, err := enc.WriteJSON(&buf, &testPayload{Op: "list", Names: []string{"some-long-trace-name"}})
		Expect(err).ToNot(HaveOccurred())

		dec := Decoder{MaxFrameSize: 4}
		var got testPayload
		_, err = dec.ReadJSON(dataio.MakeReader(bytes.NewReader(buf.Bytes())), &got)
		Expect(err).To(MatchError(ErrFrameTooLarge))
	})

	It("reports a truncated frame body", func() {
		var buf bytes.Buffer

		var enc Encoder
		_, err := enc.WriteJSON(&buf, &testPayload{Op: "status"})
		Expect(err).ToNot(HaveOccurred())

		truncated := buf.Bytes()[:buf.Len()-2]

		var dec Decoder
		var got testPayload
		_, err = dec.ReadJSON(dataio.MakeReader(bytes.NewReader(truncated)), &got)
		Expect(err).To(HaveOccurred())
	})
})

func TestFraming(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing framing")
}
