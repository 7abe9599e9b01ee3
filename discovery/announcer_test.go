// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/danjacques/gotracestore/support/network"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type mockDatagramSender struct {
	network.DatagramSender

	mu        sync.Mutex
	datagrams [][]byte
	err       error
}

func (mds *mockDatagramSender) SendDatagram(data []byte) error {
	mds.mu.Lock()
	defer mds.mu.Unlock()

	if mds.err != nil {
		return mds.err
	}
	mds.datagrams = append(mds.datagrams, append([]byte(nil), data...))
	return nil
}

func (mds *mockDatagramSender) count() int {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return len(mds.datagrams)
}

func (mds *mockDatagramSender) last() []byte {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.datagrams[len(mds.datagrams)-1]
}

var _ = Describe("Announcer", func() {
	var (
		a   *Announcer
		mds *mockDatagramSender
	)
	BeforeEach(func() {
		mds = &mockDatagramSender{}
		a = &Announcer{}
	})

	It("will broadcast a beacon", func() {
		err := a.Broadcast(mds, NewBeacon("workstation-7", 1989, 1981))
		Expect(err).ToNot(HaveOccurred())
		Expect(mds.count()).To(Equal(1))

		parsed, err := ParseBeacon(mds.last())
		Expect(err).ToNot(HaveOccurred())
		Expect(parsed.Host).To(Equal("workstation-7"))
	})

	It("rebroadcasts on its interval until cancelled", func() {
		mock := clock.NewMock()
		a.Clock = mock
		a.Interval = time.Second

		c, cancel := context.WithCancel(context.Background())
		defer cancel()

		errC := make(chan error, 1)
		go func() {
			errC <- a.Run(c, mds, NewBeacon("workstation-7", 1989, 1981))
		}()

		// The first broadcast happens immediately.
		Eventually(mds.count).Should(Equal(1))

		mock.Add(time.Second)
		Eventually(mds.count).Should(Equal(2))

		mock.Add(time.Second)
		Eventually(mds.count).Should(Equal(3))

		cancel()
		Eventually(errC).Should(Receive(Equal(context.Canceled)))
	})

	It("keeps running through send failures", func() {
		mock := clock.NewMock()
		a.Clock = mock
		a.Interval = time.Second
		mds.err = errors.New("network is down")

		c, cancel := context.WithCancel(context.Background())
		defer cancel()

		errC := make(chan error, 1)
		go func() {
			errC <- a.Run(c, mds, NewBeacon("workstation-7", 1989, 1981))
		}()

		Consistently(errC).ShouldNot(Receive())

		cancel()
		Eventually(errC).Should(Receive(Equal(context.Canceled)))
	})
})
