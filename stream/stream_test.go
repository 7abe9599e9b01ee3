// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package stream

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("FollowReader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "stream_test")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		Expect(os.RemoveAll(tempDir)).ToNot(HaveOccurred())
	})

	write := func(name string, content []byte) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, content, 0644)).ToNot(HaveOccurred())
		return path
	}

	Context("over a finished file", func() {
		It("reads it to the end", func() {
			r := Follow(write("done.trace", []byte("all of it")))
			defer r.Close()

			got, err := io.ReadAll(r)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal([]byte("all of it")))

			By("staying exhausted")
			n, err := r.Read(make([]byte, 1))
			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(io.EOF))
		})
	})

	Context("when the file cannot be opened", func() {
		It("is unusable rather than fatal", func() {
			r := Follow(filepath.Join(tempDir, "absent.trace"))

			n, err := r.Read(make([]byte, 16))
			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(io.EOF))

			Expect(r.Close()).ToNot(HaveOccurred())
		})
	})

	Context("while a writer is appending", func() {
		It("delivers bytes written after the reader caught up", func() {
			path := write("live.trace", []byte("head,"))

			var live atomic.Bool
			live.Store(true)

			r := Follow(path)
			defer r.Close()
			r.PollInterval = time.Millisecond
			r.IsLive = live.Load

			got := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()
				b, err := io.ReadAll(r)
				Expect(err).ToNot(HaveOccurred())
				got <- b
			}()

			By("appending and then retiring the stream")
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
			Expect(err).ToNot(HaveOccurred())
			_, err = f.Write([]byte("tail"))
			Expect(err).ToNot(HaveOccurred())
			Expect(f.Close()).ToNot(HaveOccurred())
			live.Store(false)

			Eventually(got).Should(Receive(Equal([]byte("head,tail"))))
		})
	})

	Context("closing a blocked reader", func() {
		It("unblocks it with EOF", func() {
			path := write("blocked.trace", []byte("head"))

			mock := clock.NewMock()
			r := Follow(path)
			r.Clock = mock
			r.IsLive = func() bool { return true }

			buf := make([]byte, 16)
			n, err := r.Read(buf)
			Expect(err).ToNot(HaveOccurred())
			Expect(buf[:n]).To(Equal([]byte("head")))

			By("parking the next read; the mock clock never fires")
			errC := make(chan error, 1)
			go func() {
				_, err := r.Read(buf)
				errC <- err
			}()

			Expect(r.Close()).ToNot(HaveOccurred())
			Eventually(errC).Should(Receive(MatchError(io.EOF)))
		})
	})
})

func TestStream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stream")
}
