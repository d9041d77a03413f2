package character_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/character"
)

const juneYAML = `
name: June
personality: Dry humor, endlessly patient.
background: Grew up reading sci-fi paperbacks.
conversation_style: Lowercase, brief.
example_responses:
  - "oh no. tell me everything"
proactive_prompts:
  check_in: Ask how their week is going.
`

var _ = Describe("Character", func() {
	It("parses a persona", func() {
		c, err := character.Parse([]byte(juneYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Name).To(Equal("June"))
		Expect(c.ExampleResponses).To(ConsistOf("oh no. tell me everything"))
		Expect(c.CheckInPrompt()).To(Equal("Ask how their week is going."))
	})

	It("falls back to defaults for missing fields", func() {
		c, err := character.Parse([]byte("background: quiet"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Name).To(Equal("Assistant"))
		Expect(c.CheckInPrompt()).To(Equal(character.DefaultCheckIn))
	})

	It("rejects invalid YAML", func() {
		_, err := character.Parse([]byte("name: [unclosed"))
		Expect(err).To(MatchError(ContainSubstring("character parse")))
	})

	It("reports a missing file", func() {
		_, err := character.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	Describe("SystemPrompt", func() {
		It("includes the user name and known facts", func() {
			prompt := character.Default().SystemPrompt("Sam", []string{"User's name is Sam", "Lives in Oslo"})
			Expect(prompt).To(ContainSubstring("You are Mira"))
			Expect(prompt).To(ContainSubstring("You are talking to Sam."))
			Expect(prompt).To(ContainSubstring("- Lives in Oslo"))
		})

		It("omits empty sections", func() {
			c, err := character.Parse([]byte("name: Bare"))
			Expect(err).NotTo(HaveOccurred())
			prompt := c.SystemPrompt("", nil)
			Expect(prompt).NotTo(ContainSubstring("## User"))
			Expect(prompt).NotTo(ContainSubstring("## Background"))
			Expect(prompt).NotTo(ContainSubstring("What you know"))
		})
	})
})

var _ = Describe("Watcher", func() {
	var (
		path string
		w    *character.Watcher
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "character.yaml")
		Expect(os.WriteFile(path, []byte(juneYAML), 0o600)).To(Succeed())

		var err error
		w, err = character.NewWatcher(path, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("loads the file up front", func() {
		Expect(w.Current().Name).To(Equal("June"))
	})

	It("reloads on write and keeps the last good persona on a bad edit", func() {
		reloaded := w.Reloaded()
		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)
		go func() { _ = w.Run(ctx) }()

		Eventually(func() string {
			_ = os.WriteFile(path, []byte("name: Juniper\n"), 0o600)
			return w.Current().Name
		}).Should(Equal("Juniper"))

		Expect(os.WriteFile(path, []byte("name: [broken"), 0o600)).To(Succeed())
		Eventually(reloaded).Should(Receive())
		Consistently(func() string { return w.Current().Name }, "50ms").Should(Equal("Juniper"))
	})
})

var _ = Describe("Parse", func() {
	It("rejects an empty document", func() {
		_, err := character.Parse([]byte("  \n"))
		Expect(err).To(HaveOccurred())
	})
})
