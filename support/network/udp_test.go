// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package network

import (
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	table "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

type mockDatagramSender struct {
	Packets [][]byte

	err    error
	closed bool
}

func (mds *mockDatagramSender) Close() error {
	mds.closed = true
	return mds.err
}

func (mds *mockDatagramSender) SendDatagram(b []byte) error {
	if mds.err != nil {
		return mds.err
	}

	mds.Packets = append(mds.Packets, append([]byte(nil), b...))
	return nil
}

func (mds *mockDatagramSender) MaxDatagramSize() int { return 0 }

var _ = Describe("ResilientDatagramSender", func() {
	var mocks []*mockDatagramSender
	var nextMockError error
	var factoryErr error

	var rds *ResilientDatagramSender
	BeforeEach(func() {
		mocks, nextMockError, factoryErr = nil, nil, nil

		rds = &ResilientDatagramSender{
			Factory: func() (DatagramSender, error) {
				if factoryErr != nil {
					return nil, factoryErr
				}
				mds := &mockDatagramSender{
					err: nextMockError,
				}
				mocks = append(mocks, mds)
				return mds, nil
			},
		}
	})

	It("connects lazily and reuses the connection", func() {
		By("the first send should succeed")
		err := rds.SendDatagram([]byte("beacon 1"))
		Expect(err).ToNot(HaveOccurred())

		By("a second send should succeed")
		err = rds.SendDatagram([]byte("beacon 2"))
		Expect(err).ToNot(HaveOccurred())

		By("closing the connection")
		err = rds.Close()
		Expect(err).ToNot(HaveOccurred())

		By("both sends should share one connection")
		Expect(mocks).To(HaveLen(1))
		Expect(mocks[0].Packets).To(Equal([][]byte{
			[]byte("beacon 1"),
			[]byte("beacon 2"),
		}))
	})

	It("reconnects after close", func() {
		By("connect")
		err := rds.Connect()
		Expect(err).ToNot(HaveOccurred())

		By("close")
		err = rds.Close()
		Expect(err).ToNot(HaveOccurred())

		Expect(mocks).To(HaveLen(1))
		Expect(mocks[0].closed).To(BeTrue())

		By("the next send opens a new connection")
		err = rds.SendDatagram([]byte("beacon 3"))
		Expect(err).ToNot(HaveOccurred())
		Expect(mocks).To(HaveLen(2))
	})

	It("drops the connection when a send fails", func() {
		By("the first send fails")
		nextMockError = errors.New("test error")
		err := rds.SendDatagram([]byte("lost"))
		Expect(err).To(MatchError("test error"))

		By("the next send dials a fresh connection and succeeds")
		nextMockError = nil
		err = rds.SendDatagram([]byte("beacon 4"))
		Expect(err).ToNot(HaveOccurred())

		By("closing the connection")
		err = rds.Close()
		Expect(err).ToNot(HaveOccurred())

		By("the failed datagram never reached the first connection")
		Expect(mocks).To(HaveLen(2))
		Expect(mocks[0].Packets).To(BeEmpty())
		Expect(mocks[1].Packets).To(Equal([][]byte{
			[]byte("beacon 4"),
		}))
	})

	It("forwards close errors and still recovers", func() {
		By("connect")
		err := rds.Connect()
		Expect(err).ToNot(HaveOccurred())

		By("close fails")
		Expect(mocks).To(HaveLen(1))
		mocks[0].err = errors.New("test error")

		err = rds.Close()
		Expect(err).To(MatchError("test error"))
		Expect(mocks[0].closed).To(BeTrue())

		By("the next send opens a new connection")
		err = rds.SendDatagram([]byte("beacon 5"))
		Expect(err).ToNot(HaveOccurred())
		Expect(mocks).To(HaveLen(2))
	})

	It("surfaces factory errors", func() {
		factoryErr = errors.New("no route")
		err := rds.SendDatagram([]byte("unsendable"))
		Expect(err).To(MatchError("no route"))
		Expect(mocks).To(BeEmpty())
	})
})

var _ = table.DescribeTable("HostPort",
	func(v string, defaultPort int, expected string) {
		hp, err := HostPort(v, defaultPort)
		Expect(err).ToNot(HaveOccurred())
		Expect(hp).To(Equal(expected))
	},
	table.Entry("empty value", "", 1981, ":1981"),
	table.Entry("bare host", "workstation-7", 1981, "workstation-7:1981"),
	table.Entry("host and port", "workstation-7:2000", 1981, "workstation-7:2000"),
	table.Entry("host with empty port", "workstation-7:", 1981, "workstation-7:1981"),
	table.Entry("bare IPv4", "192.168.1.10", 1981, "192.168.1.10:1981"),
	table.Entry("bracketed IPv6 with port", "[::1]:2000", 1981, "[::1]:2000"),
	table.Entry("port only", ":2000", 1981, ":2000"),
)

var _ = Describe("HostPort errors", func() {
	It("rejects a bracketed host with no port", func() {
		_, err := HostPort("[::1]", 1981)
		Expect(err).To(HaveOccurred())
	})
})

func TestNetwork(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Network")
}
