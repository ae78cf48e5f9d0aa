package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/papercomputeco/relay/cmd/relay/auth"
	"github.com/papercomputeco/relay/pkg/credentials"
)

var _ = Describe("auth command", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	execute := func(stdin string, args ...string) error {
		cmd := authcmder.NewAuthCmd()
		cmd.Flags().String("config-dir", "", "")
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	storedKey := func(upstream string) string {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		key, err := mgr.GetKey(upstream)
		Expect(err).NotTo(HaveOccurred())
		return key
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("stores a piped key", func() {
		Expect(execute("  g-secret  \nignored\n", "gemini")).To(Succeed())
		Expect(storedKey("gemini")).To(Equal("g-secret"))
		Expect(out.String()).NotTo(ContainSubstring("g-secret"))
	})

	It("normalizes the upstream name", func() {
		Expect(execute("sk-1\n", "OpenAI")).To(Succeed())
		Expect(storedKey("openai")).To(Equal("sk-1"))
	})

	It("rejects unsupported upstreams", func() {
		Expect(execute("k\n", "anthropic")).To(MatchError(ContainSubstring("unsupported upstream")))
	})

	It("rejects an empty key", func() {
		Expect(execute("   \n", "openai")).To(MatchError(ContainSubstring("cannot be empty")))
		Expect(execute("", "openai")).To(MatchError(ContainSubstring("no input")))
	})

	It("requires an upstream", func() {
		Expect(execute("")).To(MatchError(ContainSubstring("upstream argument required")))
	})

	It("lists and removes stored keys", func() {
		Expect(execute("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No stored keys"))

		Expect(execute("sk-1\n", "openai")).To(Succeed())
		out.Reset()
		Expect(execute("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("openai"))
		Expect(out.String()).To(ContainSubstring("OPENAI_API_KEY"))

		Expect(execute("", "--remove", "openai")).To(Succeed())
		Expect(storedKey("openai")).To(BeEmpty())
	})
})
