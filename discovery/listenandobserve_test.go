// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"net"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ListenAndObserve", func() {
	var (
		conn *mockListenerConnection
		l    *Listener
		reg  *Registry
	)
	BeforeEach(func() {
		conn = &mockListenerConnection{
			DataC: make(chan []byte, 1),
			ClientAddr: &net.UDPAddr{
				IP:   net.ParseIP("127.0.0.2"),
				Port: 2468,
			},
		}
		l = &Listener{}
		reg = &Registry{}
	})
	AfterEach(func() {
		_ = l.Close()
	})

	Context("with the Listener listening", func() {
		BeforeEach(func() {
			err := l.startInternal(conn)
			Expect(err).ToNot(HaveOccurred())
		})

		It("can listen and observe daemons", func() {
			c := context.Background()
			conn.DataC <- beaconPacket("gamma", 1989, 1981)

			var gotD *Daemon
			err := ListenAndObserve(c, l, reg, func(d *Daemon) error {
				gotD = d

				return l.Close()
			})
			Expect(err).To(MatchError("the Listener is not active"))
			Expect(gotD).ToNot(BeNil())
			Expect(gotD.Host()).To(Equal("gamma"))
			Expect(reg.Daemons()).To(ConsistOf(gotD))
		})
	})

	It("will terminate if Context is cancelled", func(done Done) {
		defer close(done)

		conn.readSignalC = make(chan struct{})
		err := l.startInternal(conn)
		Expect(err).ToNot(HaveOccurred())

		c, cancelFunc := context.WithCancel(context.Background())
		defer cancelFunc()

		// Wait for our read to happen, then cancel.
		go func() {
			<-conn.readSignalC
			cancelFunc()
		}()

		err = ListenAndObserve(c, l, reg, nil)
		Expect(err).To(Equal(context.Canceled))
	})

	It("will terminate if the callback returns an error", func() {
		conn.DataC <- beaconPacket("gamma", 1989, 1981)
		err := l.startInternal(conn)
		Expect(err).ToNot(HaveOccurred())

		c := context.Background()

		testErr := errors.New("test error")
		err = ListenAndObserve(c, l, reg, func(_ *Daemon) error { return testErr })
		Expect(err).To(Equal(testErr))
	})
})
