package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/proxy/header"
	"github.com/papercomputeco/relay/proxy/worker"
)

func newTestProxy(streamer *fakeStreamer, publisher *recordingPublisher, mutate ...func(*Config)) *Proxy {
	cfg := Config{
		ListenAddr: ":0",
		Routes: []Route{
			{Path: "/api/chat", Model: "gemini-2.5-flash-lite"},
			{Path: "/api/llm-chat", Model: "gemini-2.5-flash"},
			{Path: "/api/default"},
		},
		DefaultModel: "default-model",
		Publisher:    publisher,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	p, err := New(cfg, streamer, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return p
}

func chatBody(messages ...llm.Message) []byte {
	body, err := json.Marshal(llm.ChatRequest{Messages: messages})
	Expect(err).NotTo(HaveOccurred())
	return body
}

func post(p *Proxy, path string, body []byte) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.server.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

func decodeError(resp *http.Response) string {
	var errResp llm.ErrorResponse
	Expect(json.Unmarshal([]byte(readBody(resp)), &errResp)).To(Succeed())
	return errResp.Error
}

var _ = Describe("New", func() {
	It("requires a streamer", func() {
		_, err := New(Config{Routes: []Route{{Path: "/api/chat"}}}, nil, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	It("requires at least one route", func() {
		_, err := New(Config{}, &fakeStreamer{}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("at least one route")))
	})

	It("rejects relative route paths", func() {
		_, err := New(Config{Routes: []Route{{Path: "api/chat"}}}, &fakeStreamer{}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("must start with /")))
	})

	It("rejects duplicate route paths", func() {
		_, err := New(Config{Routes: []Route{{Path: "/a"}, {Path: "/a"}}}, &fakeStreamer{}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("duplicate")))
	})
})

var _ = Describe("Proxy", func() {
	var (
		streamer  *fakeStreamer
		publisher *recordingPublisher
		p         *Proxy
	)

	BeforeEach(func() {
		streamer = &fakeStreamer{}
		publisher = &recordingPublisher{}
	})

	JustBeforeEach(func() {
		p = newTestProxy(streamer, publisher)
	})

	AfterEach(func() {
		Expect(p.Close()).To(Succeed())
	})

	Describe("a successful turn", func() {
		BeforeEach(func() {
			streamer.deltas = []string{"Hel", "lo", ""}
		})

		It("writes one token frame per non-empty delta and a single done", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("data: Hel\n\ndata: lo\n\ndata: [DONE]\n\n"))
		})

		It("sets the event stream headers", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))
			defer resp.Body.Close()

			Expect(header.IsEventStream(resp.Header.Get("Content-Type"))).To(BeTrue())
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get(header.TurnIDHeader)).NotTo(BeEmpty())
		})

		It("forwards the full conversation to the upstream", func() {
			resp := post(p, "/api/chat", chatBody(
				llm.NewTextMessage(llm.RoleSystem, "be brief"),
				llm.NewTextMessage(llm.RoleUser, "hi"),
				llm.NewTextMessage(llm.RoleAssistant, "hello"),
				llm.NewTextMessage(llm.RoleUser, "again"),
			))
			readBody(resp)

			req := streamer.lastRequest()
			Expect(req).NotTo(BeNil())
			Expect(req.Messages).To(HaveLen(4))
			Expect(req.Messages[3]).To(Equal(llm.NewTextMessage(llm.RoleUser, "again")))
		})

		It("decodes back into the same tokens", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))
			defer resp.Body.Close()

			r := stream.NewReader(resp.Body, logger.Nop())
			var events []stream.Event
			for {
				ev, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				Expect(err).NotTo(HaveOccurred())
				events = append(events, ev)
			}

			Expect(events).To(Equal([]stream.Event{stream.Token("Hel"), stream.Token("lo"), stream.Done()}))
		})

		It("closes the upstream stream", func() {
			readBody(post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi"))))

			streamer.mu.Lock()
			defer streamer.mu.Unlock()
			Expect(streamer.streams).To(HaveLen(1))
			Expect(streamer.streams[0].closed.Load()).To(BeTrue())
		})

		It("publishes a completed turn event", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))
			turnID := resp.Header.Get(header.TurnIDHeader)
			readBody(resp)

			Eventually(publisher.published).WithTimeout(2 * time.Second).Should(HaveLen(1))
			event := publisher.published()[0]
			Expect(event.RequestMeta.TurnID).To(Equal(turnID))
			Expect(event.Source.Route).To(Equal("/api/chat"))
			Expect(event.Source.Provider).To(Equal("fake"))
			Expect(event.Source.Model).To(Equal("gemini-2.5-flash-lite"))
			Expect(event.Stream.Outcome).To(Equal("done"))
			Expect(event.Stream.Tokens).To(Equal(2))
			Expect(event.Stream.ContentBytes).To(Equal(len("Hello")))
		})
	})

	Describe("model selection", func() {
		It("uses the model bound to each route", func() {
			readBody(post(p, "/api/llm-chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi"))))
			Expect(streamer.lastRequest().Model).To(Equal("gemini-2.5-flash"))

			readBody(post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi"))))
			Expect(streamer.lastRequest().Model).To(Equal("gemini-2.5-flash-lite"))
		})

		It("falls back to the default model", func() {
			readBody(post(p, "/api/default", chatBody(llm.NewTextMessage(llm.RoleUser, "hi"))))
			Expect(streamer.lastRequest().Model).To(Equal("default-model"))
		})

		It("ignores a body model unless overrides are allowed", func() {
			body := []byte(`{"model":"other","messages":[{"role":"user","content":"hi"}]}`)
			readBody(post(p, "/api/chat", body))
			Expect(streamer.lastRequest().Model).To(Equal("gemini-2.5-flash-lite"))
		})

		It("honours a body model when overrides are allowed", func() {
			Expect(p.Close()).To(Succeed())
			p = newTestProxy(streamer, publisher, func(c *Config) { c.AllowModelOverride = true })

			body := []byte(`{"model":"other","messages":[{"role":"user","content":"hi"}]}`)
			readBody(post(p, "/api/chat", body))
			Expect(streamer.lastRequest().Model).To(Equal("other"))
		})
	})

	Describe("an upstream failure mid-stream", func() {
		BeforeEach(func() {
			streamer.deltas = []string{"Hi"}
			streamer.failErr = &llm.UpstreamError{Provider: "fake", Err: io.ErrUnexpectedEOF}
		})

		It("ends the stream with a single error frame", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("data: Hi\n\ndata: [ERROR]\n\n"))
		})

		It("publishes the failure", func() {
			readBody(post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi"))))

			Eventually(publisher.published).WithTimeout(2 * time.Second).Should(HaveLen(1))
			event := publisher.published()[0]
			Expect(event.Stream.Outcome).To(Equal("error"))
			Expect(event.Stream.Error).To(ContainSubstring("unexpected EOF"))
		})
	})

	Describe("an upstream that rejects the request", func() {
		BeforeEach(func() {
			streamer.openErr = &llm.UpstreamError{Provider: "fake", StatusCode: http.StatusTooManyRequests, Err: errors.New("quota")}
		})

		It("still answers with a well-formed event stream", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("data: [ERROR]\n\n"))
		})
	})

	Describe("a missing credential", func() {
		BeforeEach(func() {
			streamer.openErr = &llm.ConfigurationError{Field: "api_key", Reason: "is not set"}
		})

		It("fails the request with 500 and no stream", func() {
			resp := post(p, "/api/chat", chatBody(llm.NewTextMessage(llm.RoleUser, "hi")))

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(header.IsEventStream(resp.Header.Get("Content-Type"))).To(BeFalse())
			Expect(decodeError(resp)).To(ContainSubstring("api_key"))
		})
	})

	Describe("request validation", func() {
		DescribeTable("rejects malformed bodies before calling the upstream",
			func(body string) {
				resp := post(p, "/api/chat", []byte(body))

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).NotTo(BeEmpty())
				Expect(streamer.calls.Load()).To(BeZero())
			},
			Entry("messages absent", `{}`),
			Entry("messages null", `{"messages":null}`),
			Entry("messages is a string", `{"messages":"hi"}`),
			Entry("messages is an object", `{"messages":{"role":"user","content":"hi"}}`),
			Entry("messages is empty", `{"messages":[]}`),
			Entry("entry is not an object", `{"messages":["hi"]}`),
			Entry("entry lacks content", `{"messages":[{"role":"user"}]}`),
			Entry("entry has unknown role", `{"messages":[{"role":"tool","content":"x"}]}`),
			Entry("invalid JSON", `{"messages":[`),
			Entry("empty body", ``),
		)
	})

	Describe("other methods", func() {
		It("answers 405 with an Allow header", func() {
			resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, "/api/chat", nil), -1)
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			Expect(resp.Header.Get("Allow")).To(Equal("POST"))
			Expect(decodeError(resp)).To(ContainSubstring("GET"))
			Expect(streamer.calls.Load()).To(BeZero())
		})
	})

	Describe("ping", func() {
		It("reports ok", func() {
			resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`{"status":"ok"}`))
		})
	})

	Describe("a client that goes away", func() {
		It("stops pulling from the upstream and records an aborted turn", func() {
			chunks := &fakeChunks{deltas: []string{"a", "b", "c"}}
			pr, pw := io.Pipe()
			Expect(pr.Close()).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			p.relayTurn(ctx, cancel, pw, chunks, nil, worker.Job{TurnID: "gone", StartedAt: time.Now()}, logger.Nop())

			Expect(chunks.pulls.Load()).To(Equal(int32(1)))
			Expect(chunks.closed.Load()).To(BeTrue())

			Eventually(publisher.published).WithTimeout(2 * time.Second).Should(HaveLen(1))
			Expect(publisher.published()[0].Stream.Outcome).To(Equal("aborted"))
		})
	})
})
