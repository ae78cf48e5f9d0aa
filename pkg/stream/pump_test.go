package stream_test

import (
	"bytes"
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/stream"
)

var _ = Describe("Pump", func() {
	var (
		buf    *bytes.Buffer
		enc    *stream.Encoder
		logger *zap.Logger
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		enc = stream.NewEncoder(buf)
		logger = zap.NewNop()
	})

	It("forwards non-empty deltas then writes done", func() {
		src := &sliceStream{deltas: []string{"Hel", "lo", ""}}

		res := stream.Pump(context.Background(), src, enc, logger)

		Expect(buf.String()).To(Equal("data: Hel\n\ndata: lo\n\ndata: [DONE]\n\n"))
		Expect(res.Outcome).To(Equal(stream.OutcomeDone))
		Expect(res.Tokens).To(Equal(2))
		Expect(res.Content).To(Equal("Hello"))
		Expect(res.Err).NotTo(HaveOccurred())
		Expect(src.closed).To(BeTrue())
	})

	It("writes done alone for an empty completion", func() {
		res := stream.Pump(context.Background(), &sliceStream{}, enc, logger)

		Expect(buf.String()).To(Equal("data: [DONE]\n\n"))
		Expect(res.Outcome).To(Equal(stream.OutcomeDone))
		Expect(res.Tokens).To(BeZero())
	})

	It("writes exactly one error after an upstream failure mid-stream", func() {
		boom := errors.New("upstream reset")
		src := &sliceStream{deltas: []string{"Hi"}, failErr: boom}

		res := stream.Pump(context.Background(), src, enc, logger)

		Expect(buf.String()).To(Equal("data: Hi\n\ndata: [ERROR]\n\n"))
		Expect(res.Outcome).To(Equal(stream.OutcomeError))
		Expect(res.Content).To(Equal("Hi"))
		Expect(res.Err).To(MatchError(boom))
		Expect(src.closed).To(BeTrue())
	})

	It("writes error when the context is already cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &sliceStream{deltas: []string{"never"}}

		res := stream.Pump(ctx, src, enc, logger)

		Expect(buf.String()).To(Equal("data: [ERROR]\n\n"))
		Expect(res.Outcome).To(Equal(stream.OutcomeError))
		Expect(res.Err).To(MatchError(context.Canceled))
		Expect(src.pulls).To(BeZero())
	})

	It("stops pulling from upstream once the client stops reading", func() {
		w := &failingWriter{limit: 1}
		src := &sliceStream{deltas: []string{"a", "b", "c", "d"}}

		res := stream.Pump(context.Background(), src, stream.NewEncoder(w), logger)

		Expect(res.Outcome).To(Equal(stream.OutcomeAborted))
		Expect(res.Tokens).To(Equal(1))
		Expect(res.Content).To(Equal("a"))
		Expect(res.Err).To(HaveOccurred())
		Expect(src.pulls).To(Equal(2))
		Expect(src.closed).To(BeTrue())
		Expect(w.buf.String()).To(Equal("data: a\n\n"))
	})

	It("reports abort when the terminal frame cannot be written", func() {
		w := &failingWriter{limit: 1}
		src := &sliceStream{deltas: []string{"only"}}

		res := stream.Pump(context.Background(), src, stream.NewEncoder(w), logger)

		Expect(res.Outcome).To(Equal(stream.OutcomeAborted))
		Expect(res.Content).To(Equal("only"))
	})

	It("round-trips through the decoder", func() {
		deltas := []string{"line one\n", "line two\r\n", `C:\tmp`, "[ERROR]"}
		stream.Pump(context.Background(), &sliceStream{deltas: deltas}, enc, logger)

		events, dec := feedAll(byteByByte(buf.Bytes())...)

		Expect(tokenTexts(events)).To(Equal(deltas))
		Expect(events[len(events)-1]).To(Equal(stream.Done()))
		Expect(dec.Skipped()).To(BeZero())
	})
})

var _ = Describe("FailOpen", func() {
	It("writes a single error frame", func() {
		buf := &bytes.Buffer{}
		openErr := errors.New("connection refused")

		res := stream.FailOpen(stream.NewEncoder(buf), openErr, zap.NewNop())

		Expect(buf.String()).To(Equal("data: [ERROR]\n\n"))
		Expect(res.Outcome).To(Equal(stream.OutcomeError))
		Expect(res.Err).To(MatchError(openErr))
	})
})

var _ = Describe("Outcome", func() {
	DescribeTable("String",
		func(o stream.Outcome, want string) {
			Expect(o.String()).To(Equal(want))
		},
		Entry("done", stream.OutcomeDone, "done"),
		Entry("error", stream.OutcomeError, "error"),
		Entry("aborted", stream.OutcomeAborted, "aborted"),
	)
})
