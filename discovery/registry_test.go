// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package discovery

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	// expirationThreshold is the expiration threshold to use on registry
	// entries.
	//
	// It should be large enough that trivial test methods don't run the risk
	// of hitting it on any testing systems, but small enough that it doesn't
	// cause our tests to take too long.
	//
	// If flake is observed, this can be increased.
	const (
		expirationThreshold = 500 * time.Millisecond

		observeThreshold = expirationThreshold / 10
	)
	timeoutThreshold := (expirationThreshold * 3).Seconds()

	var reg *Registry
	BeforeEach(func() {
		reg = &Registry{
			Expiration: expirationThreshold,
		}
	})

	AfterEach(func() {
		if reg != nil {
			reg.Shutdown()
		}
	})

	s0 := &Sighting{
		Beacon: NewBeacon("alpha", 1989, 1981),
		Source: &net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 40000},
	}
	s1 := &Sighting{
		Beacon: NewBeacon("beta", 1989, 1981),
		Source: &net.UDPAddr{IP: net.ParseIP("192.168.1.11"), Port: 40001},
	}

	It("returns an empty list of daemons by default", func() {
		daemons := reg.Daemons()
		Expect(daemons).To(BeEmpty())
	})

	It("will do nothing if an unregistered daemon is Unregistered", func() {
		reg.Unregister(newDaemon("stub"))
	})

	Context("when two daemons are newly observed", func() {
		var d0, d1 *Daemon

		BeforeEach(func() {
			var isNew bool
			d0, isNew = reg.Observe(s0)
			Expect(isNew).To(BeTrue())
			Expect(d0).ToNot(BeNil())

			d1, isNew = reg.Observe(s1)
			Expect(isNew).To(BeTrue())
			Expect(d1).ToNot(BeNil())
		})

		It("should list them in its Daemons", func() {
			daemons := reg.Daemons()
			Expect(daemons).To(ConsistOf(d0, d1))
		})

		It("exposes their announcement state", func() {
			Expect(d0.Host()).To(Equal("alpha"))
			Expect(d0.ControlAddr()).To(Equal("192.168.1.10:1989"))
			Expect(d0.RecorderAddr()).To(Equal("192.168.1.10:1981"))
			Expect(d0.LastSeen()).ToNot(BeZero())

			Expect(d1.Host()).To(Equal("beta"))
			Expect(d1.ControlAddr()).To(Equal("192.168.1.11:1989"))
		})

		Context("and they expire after being unobserved", func() {
			BeforeEach(func(done Done) {
				defer close(done)
				<-d0.DoneC()
				<-d1.DoneC()
			}, timeoutThreshold)

			It("should no longer list the daemons", func() {
				daemons := reg.Daemons()
				Expect(daemons).To(BeEmpty())
			})

			It("should have marked the daemons done", func() {
				Expect(d0.IsDone()).To(BeTrue())
				Expect(d1.IsDone()).To(BeTrue())
			})
		})

		Context("and explicitly unregisters d0", func() {
			BeforeEach(func() {
				reg.Unregister(d0)
			})

			It("should no longer list the daemon", func() {
				daemons := reg.Daemons()
				Expect(daemons).To(ConsistOf(d1))
			})

			It("should have marked d0 done, but not d1", func() {
				Expect(d0.IsDone()).To(BeTrue())
				Expect(d1.IsDone()).To(BeFalse())
			})
		})

		Context("and d0 is repeatedly observed", func() {
			// Loop, repeatedly observing d0, until d1 expires.
			BeforeEach(func(done Done) {
				defer close(done)

				timer := time.NewTimer(observeThreshold)
				defer timer.Stop()

				for {
					select {
					case <-d1.DoneC():
						return
					case <-timer.C:
						d, isNew := reg.Observe(s0)
						Expect(d).To(Equal(d0))
						Expect(isNew).To(BeFalse())

						// Reset the timer. This is safe, since we know that it
						// triggered.
						timer.Reset(observeThreshold)
					}
				}
			}, timeoutThreshold)

			It("will only list d0 in daemons", func() {
				daemons := reg.Daemons()
				Expect(daemons).To(ConsistOf(d0))
			})

			It("can re-observe d1 as a different daemon", func() {
				By("observe the new daemon")
				dN, isNew := reg.Observe(s1)
				Expect(isNew).To(BeTrue())
				Expect(dN).ToNot(Equal(d1))

				By("and list it in daemons")
				daemons := reg.Daemons()
				Expect(daemons).To(ConsistOf(d0, dN))
			})
		})
	})

	Context("when a daemon is repeatedly observed with new beacons", func() {
		var d0 *Daemon

		// Observe repeatedly, incrementing the recorder port to mark a
		// different announcement set.
		BeforeEach(func() {
			// Initial observation.
			var isNew bool
			d0, isNew = reg.Observe(s0)
			Expect(d0).ToNot(BeNil())
			Expect(isNew).To(BeTrue())

			for i := 1; i <= 10; i++ {
				s := &Sighting{
					Beacon: NewBeacon("alpha", 1989, 1981+i),
					Source: s0.Source,
				}

				d0, isNew = reg.Observe(s)
				Expect(d0).ToNot(BeNil())
				Expect(isNew).To(BeFalse())

				time.Sleep(observeThreshold)
			}
		})

		It("should have the latest announcement values for d0", func() {
			Expect(d0.RecorderAddr()).To(Equal("192.168.1.10:1991"))
		})
	})
})
