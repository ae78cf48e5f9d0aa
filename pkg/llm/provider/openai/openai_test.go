package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider/openai"
)

func sseChunk(content string, finish string) string {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(
		"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1700000000,\"model\":\"gemini-2.5-flash\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":%s}]}\n\n",
		content, finishJSON,
	)
}

func drain(s llm.ChunkStream) ([]string, error) {
	var deltas []string
	for {
		chunk, err := s.Next()
		if err != nil {
			return deltas, err
		}
		if chunk.Delta != "" {
			deltas = append(deltas, chunk.Delta)
		}
	}
}

var _ = Describe("OpenAI Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		gotBody map[string]any
		gotAuth string
		req     *llm.ChatRequest
	)

	BeforeEach(func() {
		gotBody = nil
		gotAuth = ""
		req = &llm.ChatRequest{
			Model: "gemini-2.5-flash",
			Messages: []llm.Message{
				llm.NewTextMessage(llm.RoleUser, "Hi"),
			},
		}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/chat/completions"))
			gotAuth = r.Header.Get("Authorization")
			Expect(json.NewDecoder(r.Body).Decode(&gotBody)).To(Succeed())
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newClient := func(apiKey string) *openai.Client {
		return openai.New(openai.Config{BaseURL: server.URL + "/", APIKey: apiKey})
	}

	Describe("Name", func() {
		It("returns 'openai'", func() {
			Expect(newClient("k").Name()).To(Equal("openai"))
		})
	})

	Context("with a well-formed stream", func() {
		BeforeEach(func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, ": keep-alive\n\n")
				fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n")
				fmt.Fprint(w, sseChunk("Hel", ""))
				fmt.Fprint(w, sseChunk("lo", ""))
				fmt.Fprint(w, sseChunk("", "stop"))
				fmt.Fprint(w, "data: [DONE]\n\n")
			}
		})

		It("sends the conversation as a streaming request", func() {
			s, err := newClient("secret").Stream(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()
			_, _ = drain(s)

			Expect(gotAuth).To(Equal("Bearer secret"))
			Expect(gotBody).To(HaveKeyWithValue("model", "gemini-2.5-flash"))
			Expect(gotBody).To(HaveKeyWithValue("stream", true))
			Expect(gotBody["messages"]).To(ConsistOf(
				map[string]any{"role": "user", "content": "Hi"},
			))
		})

		It("yields deltas in order and ends with io.EOF", func() {
			s, err := newClient("secret").Stream(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			deltas, err := drain(s)
			Expect(err).To(MatchError(io.EOF))
			Expect(deltas).To(Equal([]string{"Hel", "lo"}))

			_, err = s.Next()
			Expect(err).To(MatchError(io.EOF))
		})

		It("reports the stop reason on the final chunk", func() {
			s, err := newClient("secret").Stream(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			var last *llm.StreamChunk
			for {
				chunk, err := s.Next()
				if err != nil {
					break
				}
				last = chunk
			}
			Expect(last.Done).To(BeTrue())
			Expect(last.StopReason).To(Equal("stop"))
			Expect(last.Model).To(Equal("gemini-2.5-flash"))
		})
	})

	It("treats a body that ends after a finish reason as complete", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, sseChunk("ok", "stop"))
		}

		s, err := newClient("k").Stream(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		deltas, err := drain(s)
		Expect(err).To(MatchError(io.EOF))
		Expect(deltas).To(Equal([]string{"ok"}))
	})

	It("reports a truncated body as an upstream error", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, sseChunk("Hi", ""))
		}

		s, err := newClient("k").Stream(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		deltas, err := drain(s)
		Expect(deltas).To(Equal([]string{"Hi"}))

		var upErr *llm.UpstreamError
		Expect(errors.As(err, &upErr)).To(BeTrue())
		Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())

		_, again := s.Next()
		Expect(again).To(Equal(err))
	})

	It("reports malformed chunks as an upstream error", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "data: {not json\n\n")
		}

		s, err := newClient("k").Stream(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Next()
		var upErr *llm.UpstreamError
		Expect(errors.As(err, &upErr)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("decoding stream chunk"))
	})

	It("reports in-band errors as an upstream error", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, sseChunk("Hi", ""))
			fmt.Fprint(w, "data: {\"error\":{\"message\":\"quota exceeded\"}}\n\n")
		}

		s, err := newClient("k").Stream(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		_, err = drain(s)
		Expect(err).To(MatchError(ContainSubstring("quota exceeded")))
	})

	It("maps a rejected request to an upstream error with its status", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"API key not valid","type":"invalid_request_error"}}`)
		}

		_, err := newClient("bad").Stream(context.Background(), req)

		var upErr *llm.UpstreamError
		Expect(errors.As(err, &upErr)).To(BeTrue())
		Expect(upErr.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(upErr.Provider).To(Equal("openai"))
		Expect(err.Error()).To(ContainSubstring("API key not valid"))
	})

	It("extracts the message from array-wrapped error bodies", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `[{"error":{"code":400,"message":"model not found"}}]`)
		}

		_, err := newClient("k").Stream(context.Background(), req)
		Expect(err).To(MatchError(ContainSubstring("model not found")))
	})

	It("fails with a configuration error before any network call when the key is missing", func() {
		called := false
		handler = func(http.ResponseWriter, *http.Request) { called = true }

		_, err := newClient("").Stream(context.Background(), req)

		var cfgErr *llm.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("api_key"))
		Expect(called).To(BeFalse())
	})

	It("fails with a configuration error when no model is set", func() {
		req.Model = ""
		_, err := newClient("k").Stream(context.Background(), req)

		var cfgErr *llm.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("model"))
	})

	It("stops yielding once closed", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, sseChunk("a", ""))
			fmt.Fprint(w, sseChunk("b", ""))
			fmt.Fprint(w, "data: [DONE]\n\n")
		}

		s, err := newClient("k").Stream(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())

		_, err = s.Next()
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, io.EOF)).To(BeFalse())
	})
})
