// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package recorder

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danjacques/gotracestore/store"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Recorder", func() {
	var tempDir string
	var st *store.Store
	var rec *Recorder
	var lis net.Listener

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "recorder_test")
		Expect(err).ToNot(HaveOccurred())

		st, err = store.New(filepath.Join(tempDir, "traces"))
		Expect(err).ToNot(HaveOccurred())
		rec = New(st)

		lis, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		Expect(rec.Stop()).ToNot(HaveOccurred())
		_ = lis.Close()
		Expect(os.RemoveAll(tempDir)).ToNot(HaveOccurred())
	})

	dial := func() net.Conn {
		c, err := net.Dial("tcp", lis.Addr().String())
		Expect(err).ToNot(HaveOccurred())
		return c
	}

	readTrace := func(t store.Trace) string {
		rc, err := st.Open(t.ID)
		Expect(err).ToNot(HaveOccurred())
		defer rc.Close()
		b, err := io.ReadAll(rc)
		Expect(err).ToNot(HaveOccurred())
		return string(b)
	}

	Context("recording a single connection", func() {
		It("captures its bytes to one trace", func() {
			rec.Start(lis)

			c := dial()
			for _, chunk := range []string{"hello, ", "trace ", "stream"} {
				_, err := c.Write([]byte(chunk))
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(c.Close()).ToNot(HaveOccurred())

			Eventually(func() bool {
				ts := st.Traces()
				return len(ts) == 1 && !ts[0].Live
			}).Should(BeTrue())

			Expect(readTrace(st.Traces()[0])).To(Equal("hello, trace stream"))
		})
	})

	Context("with concurrent producers", func() {
		It("gives each its own trace", func() {
			rec.Start(lis)

			payloads := []string{"first stream", "second stream", "third stream"}
			conns := make([]net.Conn, len(payloads))
			for i, p := range payloads {
				conns[i] = dial()
				_, err := conns[i].Write([]byte(p))
				Expect(err).ToNot(HaveOccurred())
			}
			for _, c := range conns {
				Expect(c.Close()).ToNot(HaveOccurred())
			}

			Eventually(func() bool {
				ts := st.Traces()
				if len(ts) != 3 {
					return false
				}
				for _, t := range ts {
					if t.Live {
						return false
					}
				}
				return true
			}).Should(BeTrue())

			var contents []string
			for _, t := range st.Traces() {
				contents = append(contents, readTrace(t))
			}
			Expect(contents).To(ConsistOf(payloads))
		})
	})

	Context("when the store cannot allocate", func() {
		It("drops the connection and keeps accepting", func() {
			rec.Start(lis)
			Expect(os.RemoveAll(st.Root())).ToNot(HaveOccurred())

			c := dial()
			Expect(c.SetReadDeadline(time.Now().Add(5 * time.Second))).ToNot(HaveOccurred())
			_, err := c.Read(make([]byte, 1))
			Expect(err).To(MatchError(io.EOF))

			By("recovering once the store can allocate again")
			Expect(os.MkdirAll(st.Root(), 0755)).ToNot(HaveOccurred())

			c2 := dial()
			_, err = c2.Write([]byte("ok"))
			Expect(err).ToNot(HaveOccurred())
			Expect(c2.Close()).ToNot(HaveOccurred())

			Eventually(func() int { return len(st.Traces()) }).Should(Equal(1))
		})
	})

	Context("housekeeping", func() {
		It("reaps closed relays on the tick", func() {
			mock := clock.NewMock()
			rec.Clock = mock
			rec.Start(lis)

			c := dial()
			_, err := c.Write([]byte("x"))
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Close()).ToNot(HaveOccurred())

			By("leaving the closed relay in place until the tick")
			Eventually(func() bool {
				s := rec.Status()
				return s.Active == 1 && len(s.Relays) == 1 && s.Relays[0].State == "closed"
			}).Should(BeTrue())

			By("sweeping it on the tick")
			Eventually(func() int {
				mock.Add(reapInterval)
				return rec.Status().Active
			}).Should(Equal(0))
			Expect(rec.Status().TotalBytes).To(Equal(int64(1)))
		})
	})

	Context("stopping", func() {
		It("closes the listener and drains relays", func() {
			rec.Start(lis)
			addr := lis.Addr().String()

			c := dial()
			_, err := c.Write([]byte("zz"))
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() int64 { return rec.Status().TotalBytes }).Should(Equal(int64(2)))

			Expect(rec.Stop()).ToNot(HaveOccurred())

			By("retiring the live trace")
			for _, t := range st.Traces() {
				Expect(t.Live).To(BeFalse())
			}

			By("refusing new connections")
			_, err = net.Dial("tcp", addr)
			Expect(err).To(HaveOccurred())

			By("tolerating a second stop")
			Expect(rec.Stop()).ToNot(HaveOccurred())
		})

		It("has no status before starting", func() {
			Expect(New(st).Status()).To(BeNil())
		})
	})
})

func TestRecorder(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Recorder")
}
