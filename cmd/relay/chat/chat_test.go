package chatcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/conversation"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/stream"
)

// fakeRelay answers each turn with the next scripted body.
type fakeRelay struct {
	mu       sync.Mutex
	bodies   []string
	requests []llm.ChatRequest
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer GinkgoRecover()

	var req llm.ChatRequest
	Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())

	f.mu.Lock()
	f.requests = append(f.requests, req)
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, body)
}

func newTestCommander(target, input string, out io.Writer) *chatCommander {
	return &chatCommander{
		target:  target,
		path:    "/api/chat",
		timeout: 5 * time.Second,
		logger:  logger.Nop(),
		in:      strings.NewReader(input),
		out:     out,
	}
}

var _ = Describe("chat command", func() {
	It("registers its flags with config defaults", func() {
		cmd := NewChatCmd()
		Expect(cmd.Flags().Lookup("target").DefValue).To(Equal("http://localhost:8080"))
		Expect(cmd.Flags().Lookup("path").DefValue).To(Equal("/api/chat"))
		Expect(cmd.Flags().Lookup("markdown")).NotTo(BeNil())
	})

	Describe("run", func() {
		var (
			relay *fakeRelay
			srv   *httptest.Server
			out   *bytes.Buffer
		)

		BeforeEach(func() {
			relay = &fakeRelay{}
			srv = httptest.NewServer(relay)
			out = &bytes.Buffer{}
		})

		AfterEach(func() {
			srv.Close()
		})

		It("streams answers and keeps the history across turns", func() {
			relay.bodies = []string{
				"data: Hel\n\ndata: lo\n\ndata: [DONE]\n\n",
				"data: Again\n\ndata: [DONE]\n\n",
			}

			c := newTestCommander(srv.URL, "hi\n\n   \nmore\n", out)
			Expect(c.run(context.Background())).To(Succeed())

			Expect(out.String()).To(ContainSubstring("assistant> Hello\n\n"))
			Expect(out.String()).To(ContainSubstring("assistant> Again\n\n"))

			Expect(relay.requests).To(HaveLen(2))
			Expect(relay.requests[1].Messages).To(Equal([]llm.Message{
				llm.NewTextMessage(llm.RoleUser, "hi"),
				llm.NewTextMessage(llm.RoleAssistant, "Hello"),
				llm.NewTextMessage(llm.RoleUser, "more"),
			}))
		})

		It("stops at /exit", func() {
			relay.bodies = []string{"data: [DONE]\n\n"}

			c := newTestCommander(srv.URL, "/exit\nnever sent\n", out)
			Expect(c.run(context.Background())).To(Succeed())
			Expect(relay.requests).To(BeEmpty())
		})

		It("sends the system prompt and model", func() {
			relay.bodies = []string{"data: ok\n\ndata: [DONE]\n\n"}

			c := newTestCommander(srv.URL, "hi\n", out)
			c.system = "be brief"
			c.model = "gemini-2.5-flash"
			Expect(c.run(context.Background())).To(Succeed())

			Expect(relay.requests[0].Model).To(Equal("gemini-2.5-flash"))
			Expect(relay.requests[0].Messages[0]).To(Equal(llm.NewTextMessage(llm.RoleSystem, "be brief")))
		})

		It("shows the error text when a turn fails and keeps going", func() {
			relay.bodies = []string{"data: Hal", "data: fine\n\ndata: [DONE]\n\n"}

			c := newTestCommander(srv.URL, "one\ntwo\n", out)
			Expect(c.run(context.Background())).To(Succeed())

			Expect(out.String()).To(ContainSubstring(conversation.ErrorText))
			Expect(out.String()).To(ContainSubstring("assistant> fine"))
		})

		It("notes an answer that was cut short", func() {
			relay.bodies = []string{"data: Hi\n\ndata: [ERROR]\n\n"}

			c := newTestCommander(srv.URL, "hi\n", out)
			Expect(c.run(context.Background())).To(Succeed())

			Expect(out.String()).To(ContainSubstring("assistant> Hi"))
			Expect(out.String()).To(ContainSubstring("cut short"))
		})

		It("rejects an invalid target", func() {
			c := newTestCommander("localhost:8080", "hi\n", out)
			Expect(c.run(context.Background())).To(HaveOccurred())
		})
	})
})

var _ = Describe("renderer", func() {
	var (
		conv *conversation.Conversation
		out  *bytes.Buffer
	)

	BeforeEach(func() {
		conv = conversation.New()
		out = &bytes.Buffer{}
	})

	It("prints tokens as they are applied", func() {
		r := newRenderer(out, conv, false, false, 0)

		_, err := conv.Send("hi")
		Expect(err).NotTo(HaveOccurred())
		r.awaiting()
		Expect(conv.Begin()).To(Succeed())
		Expect(conv.Apply(stream.Token("a"))).To(Succeed())
		Expect(conv.Apply(stream.Token("b"))).To(Succeed())
		Expect(conv.Apply(stream.Done())).To(Succeed())

		Expect(out.String()).To(HaveSuffix("ab\n\n"))
		Expect(out.String()).NotTo(ContainSubstring(typingIndicator))
	})

	It("shows and then erases the typing indicator when interactive", func() {
		r := newRenderer(out, conv, true, false, 0)

		_, err := conv.Send("hi")
		Expect(err).NotTo(HaveOccurred())
		r.awaiting()
		Expect(out.String()).To(ContainSubstring(typingIndicator))

		Expect(conv.Begin()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("\r"))
	})

	It("puts a failure on its own line after partial text", func() {
		r := newRenderer(out, conv, false, false, 0)

		_, err := conv.Send("hi")
		Expect(err).NotTo(HaveOccurred())
		r.awaiting()
		Expect(conv.Apply(stream.Token("Hal"))).To(Succeed())
		conv.Fail(context.DeadlineExceeded)

		Expect(out.String()).To(ContainSubstring("Hal\n"))
		Expect(out.String()).To(ContainSubstring(conversation.ErrorText))
	})

	It("renders the completed answer as markdown", func() {
		r := newRenderer(out, conv, false, true, 60)

		_, err := conv.Send("hi")
		Expect(err).NotTo(HaveOccurred())
		r.awaiting()
		Expect(conv.Apply(stream.Token("# Title\n\n"))).To(Succeed())
		Expect(conv.Apply(stream.Token("some **bold** text"))).To(Succeed())
		Expect(conv.Apply(stream.Done())).To(Succeed())

		Expect(out.String()).To(ContainSubstring("Title"))
		Expect(out.String()).To(ContainSubstring("bold"))
		Expect(out.String()).To(HaveSuffix("\n\n"))
	})
})
