package chattycmder_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	chattycmder "github.com/papercomputeco/chatty/cmd/chatty"
	"github.com/papercomputeco/chatty/cmd/chatty/sqlitepath"
	utilstest "github.com/papercomputeco/chatty/pkg/utils/test"
)

var _ = Describe("NewChattyCmd", func() {
	It("registers every subcommand", func() {
		cmd := chattycmder.NewChattyCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("serve", "chat", "facts", "forget", "config", "auth", "version"))
	})

	It("exposes the global flags", func() {
		cmd := chattycmder.NewChattyCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("prints the version", func() {
		cmd := chattycmder.NewChattyCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"version"})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Version: dev"))
	})

	It("requires a key or --all to forget", func() {
		cmd := chattycmder.NewChattyCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"forget", "--user", "sam"})
		Expect(cmd.Execute()).To(MatchError(ContainSubstring("either a fact key or --all")))
	})
})

var _ = Describe("Memory commands", func() {
	var (
		server    *httptest.Server
		configDir string
		origEnv   string
	)

	run := func(stdin string, args ...string) (string, error) {
		cmd := chattycmder.NewChattyCmd()
		out := &bytes.Buffer{}
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args,
			"--config-dir", configDir,
			"--embedding-target", server.URL,
			"--embedding-dimensions", "3",
		))
		err := cmd.Execute()
		return out.String(), err
	}

	facts := func() []map[string]string {
		out, err := run("", "facts", "--user", "sam", "--json")
		Expect(err).NotTo(HaveOccurred())

		var parsed []map[string]string
		Expect(json.Unmarshal([]byte(out), &parsed)).To(Succeed())
		return parsed
	}

	BeforeEach(func() {
		server = utilstest.NewOllamaServer(
			"Nice to meet you, Sam!",
			`{"facts":[{"key":"city","value":"User lives in Lisbon"}]}`,
			3,
		)
		DeferCleanup(server.Close)

		configDir = filepath.Join(GinkgoT().TempDir(), ".chatty")

		origEnv = os.Getenv(sqlitepath.EnvVar)
		Expect(os.Unsetenv(sqlitepath.EnvVar)).To(Succeed())
		DeferCleanup(func() {
			Expect(os.Setenv(sqlitepath.EnvVar, origEnv)).To(Succeed())
		})
	})

	It("remembers a terminal conversation and forgets on request", func() {
		out, err := run("I live in Lisbon\n", "chat", "--user", "sam", "--plain", "--llm-target", server.URL)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Nice to meet you, Sam!"))
		Expect(filepath.Join(configDir, "chatty.sqlite")).To(BeARegularFile())

		remembered := facts()
		Expect(remembered).To(HaveLen(1))
		Expect(remembered[0]["key"]).To(Equal("user.city"))
		Expect(remembered[0]["text"]).To(Equal("User lives in Lisbon"))
		Expect(remembered[0]["platform"]).To(Equal("console"))

		out, err = run("", "forget", "--user", "sam", "City")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("user.city"))
		Expect(facts()).To(BeEmpty())
	})

	It("forgets everything with --all", func() {
		_, err := run("I live in Lisbon\n", "chat", "--user", "sam", "--plain", "--llm-target", server.URL)
		Expect(err).NotTo(HaveOccurred())

		out, err := run("", "forget", "--user", "sam", "--all")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Forgot everything about sam"))
		Expect(facts()).To(BeEmpty())
	})

	It("prints a friendly message when nothing is remembered", func() {
		out, err := run("", "facts", "--user", "nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No facts remembered for nobody."))
	})
})
