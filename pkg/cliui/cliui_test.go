package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("returns the result of fn and prints a success line", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "Connecting", func() error { return nil })

		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("Connecting"))
		Expect(buf.String()).To(HaveSuffix("\n"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})

	It("propagates the error and prints a failure mark", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")

		Expect(cliui.Step(&buf, "Connecting", func() error { return boom })).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})
})

var _ = Describe("FormatDuration", func() {
	DescribeTable("formats for display",
		func(d time.Duration, expected string) {
			Expect(cliui.FormatDuration(d)).To(Equal(expected))
		},
		Entry("milliseconds", 12*time.Millisecond, "12ms"),
		Entry("seconds", 3200*time.Millisecond, "3.2s"),
	)
})

var _ = Describe("RenderMarkdown", func() {
	It("keeps the text of the document", func() {
		out, err := cliui.RenderMarkdown("# Title\n\nhello **world**", 40)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Title"))
		Expect(out).To(ContainSubstring("world"))
	})
})
