// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"bytes"
	"io"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// beaconPacket returns the wire form of a beacon.
func beaconPacket(host string, controlPort, recorderPort int) []byte {
	var buf bytes.Buffer
	if err := NewBeacon(host, controlPort, recorderPort).WritePacket(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var _ = Describe("Beacon", func() {
	It("round-trips through its wire form", func() {
		var buf bytes.Buffer
		b := NewBeacon("workstation-7", 1989, 1981)
		Expect(b.WritePacket(&buf)).To(Succeed())

		parsed, err := ParseBeacon(buf.Bytes())
		Expect(err).ToNot(HaveOccurred())
		Expect(parsed.Host).To(Equal("workstation-7"))
		Expect(parsed.ControlPort).To(Equal(uint16(1989)))
		Expect(parsed.RecorderPort).To(Equal(uint16(1981)))
		Expect(parsed.Version).To(Equal(uint8(BeaconVersion)))
	})

	It("rejects foreign datagrams", func() {
		_, err := ParseBeacon([]byte("PING 192.168.0.1 keepalive"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a truncated beacon", func() {
		pkt := beaconPacket("host", 1, 2)
		_, err := ParseBeacon(pkt[:len(pkt)-2])
		Expect(err).To(HaveOccurred())
	})

	It("rejects trailing bytes", func() {
		pkt := append(beaconPacket("host", 1, 2), 0xFF)
		_, err := ParseBeacon(pkt)
		Expect(err).To(MatchError(ContainSubstring("trailing")))
	})

	It("rejects an unsupported version", func() {
		pkt := beaconPacket("host", 1, 2)
		pkt[4] = BeaconVersion + 1
		_, err := ParseBeacon(pkt)
		Expect(err).To(MatchError(ContainSubstring("version")))
	})

	It("refuses to write an oversized host name", func() {
		b := NewBeacon(strings.Repeat("x", 300), 1, 2)
		Expect(b.WritePacket(io.Discard)).ToNot(Succeed())
	})
})
