package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/chatty/cmd/chatty/auth"
	"github.com/papercomputeco/chatty/pkg/credentials"
)

var _ = Describe("Auth Command", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	newCmd := func(stdin string, args ...string) *cobra.Command {
		cmd := authcmder.NewAuthCmd()
		cmd.PersistentFlags().String("config-dir", "", "Override the .chatty/ directory")
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("creates a command with expected flags", func() {
		cmd := authcmder.NewAuthCmd()
		Expect(cmd.Use).To(Equal("auth [provider]"))
		Expect(cmd.Flags().Lookup("list")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("remove")).NotTo(BeNil())
	})

	It("stores a piped key", func() {
		Expect(newCmd("sk-ant-test\n", "anthropic").Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Stored"))

		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.GetKey("anthropic")).To(Equal("sk-ant-test"))
	})

	It("stores the matrix access token", func() {
		Expect(newCmd("  syt_token  \n", "Matrix").Execute()).To(Succeed())

		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.GetKey("matrix")).To(Equal("syt_token"))
	})

	It("rejects unsupported providers and empty keys", func() {
		Expect(newCmd("key\n", "ollama").Execute()).To(MatchError(ContainSubstring("unsupported provider")))
		Expect(newCmd("\n", "openai").Execute()).To(MatchError(ContainSubstring("cannot be empty")))
		Expect(newCmd("").Execute()).To(MatchError(ContainSubstring("provider argument required")))
	})

	It("lists and removes stored credentials", func() {
		Expect(newCmd("", "--list").Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No stored credentials."))

		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetKey("gemini", "g-key")).To(Succeed())

		out.Reset()
		Expect(newCmd("", "--list").Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("gemini"))
		Expect(out.String()).To(ContainSubstring("GEMINI_API_KEY"))

		Expect(newCmd("", "--remove", "gemini").Execute()).To(Succeed())
		Expect(mgr.ListProviders()).To(BeEmpty())
	})
})
