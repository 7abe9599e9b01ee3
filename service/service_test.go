// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package service

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danjacques/gotracestore/recorder"
	"github.com/danjacques/gotracestore/store"
	"github.com/danjacques/gotracestore/support/dataio"
	"github.com/danjacques/gotracestore/support/framing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Service", func() {
	var tempDir string
	var st *store.Store
	var rec *recorder.Recorder
	var srv *Server
	var recLis net.Listener
	var addr string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "service_test")
		Expect(err).ToNot(HaveOccurred())

		st, err = store.New(filepath.Join(tempDir, "traces"))
		Expect(err).ToNot(HaveOccurred())
		rec = recorder.New(st)

		recLis, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		rec.Start(recLis)

		srvLis, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		srv = New(st, rec)
		srv.Start(srvLis)
		addr = srvLis.Addr().String()
	})
	AfterEach(func() {
		Expect(srv.Stop()).ToNot(HaveOccurred())
		Expect(rec.Stop()).ToNot(HaveOccurred())
		Expect(os.RemoveAll(tempDir)).ToNot(HaveOccurred())
	})

	newClient := func() *Client {
		c, err := Dial(addr)
		Expect(err).ToNot(HaveOccurred())
		return c
	}

	// seedTrace writes a finished trace directly through the store.
	seedTrace := func(content string) uint32 {
		h, err := st.Create()
		Expect(err).ToNot(HaveOccurred())
		_, err = h.Write([]byte(content))
		Expect(err).ToNot(HaveOccurred())
		Expect(h.Close()).ToNot(HaveOccurred())
		return h.ID()
	}

	It("exposes its store and recorder", func() {
		Expect(srv.Store()).To(BeIdenticalTo(st))
		Expect(srv.Recorder()).To(BeIdenticalTo(rec))
	})

	Context("catalog operations", func() {
		It("lists and describes traces", func() {
			id := seedTrace("some trace bytes")
			seedTrace("another trace")

			c := newClient()
			defer c.Close()

			traces, err := c.ListTraces()
			Expect(err).ToNot(HaveOccurred())
			Expect(traces).To(HaveLen(2))

			info, err := c.TraceInfo(id)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.ID).To(Equal(id))
			Expect(info.Size).To(Equal(int64(len("some trace bytes"))))
			Expect(info.Live).To(BeFalse())
		})

		It("rejects unknown trace ids", func() {
			c := newClient()
			defer c.Close()

			_, err := c.TraceInfo(999)
			Expect(err).To(MatchError(ContainSubstring("no such trace")))

			By("distinguishing server-reported failures from transport ones")
			re, ok := errors.Cause(err).(*RemoteError)
			Expect(ok).To(BeTrue())
			Expect(re.Message).To(ContainSubstring("no such trace"))
		})
	})

	Context("recorder status", func() {
		It("reflects live recording activity", func() {
			c := newClient()
			defer c.Close()

			status, err := c.Status()
			Expect(err).ToNot(HaveOccurred())
			Expect(status.Recording).To(BeTrue())
			Expect(status.Active).To(Equal(0))

			By("connecting a producer")
			producer, err := net.Dial("tcp", recLis.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			defer producer.Close()
			_, err = producer.Write([]byte("ping"))
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() int {
				s, err := c.Status()
				Expect(err).ToNot(HaveOccurred())
				return s.Active
			}).Should(Equal(1))
		})
	})

	Context("reading a trace", func() {
		It("announces the size and streams the bytes", func() {
			id := seedTrace("read me back")

			c := newClient()
			ts, err := c.ReadTrace(id)
			Expect(err).ToNot(HaveOccurred())
			defer ts.Close()

			Expect(ts.Size).To(Equal(int64(len("read me back"))))
			got, err := io.ReadAll(ts)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal([]byte("read me back")))
		})

		It("consumes the client connection", func() {
			id := seedTrace("x")

			c := newClient()
			ts, err := c.ReadTrace(id)
			Expect(err).ToNot(HaveOccurred())
			defer ts.Close()

			_, err = c.ListTraces()
			Expect(err).To(MatchError(ContainSubstring("streaming")))
		})
	})

	Context("watching a live trace", func() {
		It("follows it until its recording closes", func() {
			producer, err := net.Dial("tcp", recLis.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			_, err = producer.Write([]byte("first half, "))
			Expect(err).ToNot(HaveOccurred())

			c := newClient()
			defer c.Close()

			var id uint32
			Eventually(func() bool {
				traces, err := c.ListTraces()
				Expect(err).ToNot(HaveOccurred())
				if len(traces) != 1 || !traces[0].Live {
					return false
				}
				id = traces[0].ID
				return true
			}).Should(BeTrue())

			wc := newClient()
			ts, err := wc.WatchTrace(id)
			Expect(err).ToNot(HaveOccurred())
			defer ts.Close()

			got := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()
				b, err := io.ReadAll(ts)
				Expect(err).ToNot(HaveOccurred())
				got <- b
			}()

			By("finishing the recording")
			_, err = producer.Write([]byte("second half"))
			Expect(err).ToNot(HaveOccurred())
			Expect(producer.Close()).ToNot(HaveOccurred())

			Eventually(got, 5*time.Second).Should(Receive(Equal([]byte("first half, second half"))))
		})
	})

	Context("protocol resilience", func() {
		var conn net.Conn
		var r dataio.Reader
		var enc framing.Encoder
		var dec framing.Decoder

		BeforeEach(func() {
			var err error
			conn, err = net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			r = dataio.MakeReader(bufio.NewReader(conn))
		})
		AfterEach(func() {
			_ = conn.Close()
		})

		It("answers unknown operations without dropping the peer", func() {
			_, err := enc.WriteJSON(conn, &Request{Op: "bogus"})
			Expect(err).ToNot(HaveOccurred())

			var resp Response
			_, err = dec.ReadJSON(r, &resp)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.OK).To(BeFalse())
			Expect(resp.Err).To(ContainSubstring("unknown operation"))

			By("serving a valid request afterwards")
			_, err = enc.WriteJSON(conn, &Request{Op: OpList})
			Expect(err).ToNot(HaveOccurred())
			resp = Response{}
			_, err = dec.ReadJSON(r, &resp)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.OK).To(BeTrue())
		})

		It("answers malformed bodies without dropping the peer", func() {
			_, err := conn.Write(append([]byte{4}, "{{{{"...))
			Expect(err).ToNot(HaveOccurred())

			var resp Response
			_, err = dec.ReadJSON(r, &resp)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.OK).To(BeFalse())

			By("serving a valid request afterwards")
			_, err = enc.WriteJSON(conn, &Request{Op: OpStatus})
			Expect(err).ToNot(HaveOccurred())
			resp = Response{}
			_, err = dec.ReadJSON(r, &resp)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.OK).To(BeTrue())
		})

		It("drops peers that declare oversized frames", func() {
			var size [binary.MaxVarintLen64]byte
			n := binary.PutUvarint(size[:], uint64(framing.DefaultMaxFrameSize+1))
			_, err := conn.Write(size[:n])
			Expect(err).ToNot(HaveOccurred())

			var resp Response
			_, err = dec.ReadJSON(r, &resp)
			Expect(err).To(HaveOccurred())
		})
	})
})

func TestService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Service")
}
