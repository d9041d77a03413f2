package platform_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/platform"
	testutils "github.com/papercomputeco/chatty/pkg/utils/test"
)

var _ = Describe("Registry", func() {
	var (
		ctx      context.Context
		matrix   *testutils.MockMessenger
		console  *testutils.MockMessenger
		registry *platform.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		matrix = testutils.NewMockMessenger("matrix")
		console = testutils.NewMockMessenger("console")
		registry = platform.NewRegistry(matrix, console)
	})

	It("routes sends by platform", func() {
		Expect(registry.Send(ctx, "matrix", "!room", "hi")).To(Succeed())
		Expect(matrix.Messages()).To(Equal([]testutils.SentMessage{{Handle: "!room", Text: "hi"}}))
		Expect(console.Messages()).To(BeEmpty())
	})

	It("fails delivery for an unknown platform", func() {
		err := registry.Send(ctx, "discord", "x", "hi")
		Expect(errors.Is(err, platform.ErrDeliveryFailure)).To(BeTrue())
	})

	It("keeps ErrDeliveryFailure on messenger errors", func() {
		matrix.SetFailSends(1)
		err := registry.Send(ctx, "matrix", "!room", "hi")
		Expect(errors.Is(err, platform.ErrDeliveryFailure)).To(BeTrue())
	})

	It("lists messengers by name and closes them all", func() {
		names := []string{}
		for _, m := range registry.All() {
			names = append(names, m.Platform())
		}
		Expect(names).To(Equal([]string{"console", "matrix"}))

		Expect(registry.Close()).To(Succeed())
		Expect(matrix.Closed).To(BeTrue())
		Expect(console.Closed).To(BeTrue())
	})
})

var _ = Describe("Allowlist", func() {
	It("allows listed users only on their platform", func() {
		a, err := platform.ParseAllowlist([]string{"matrix:@sam:example.org", "console:local"})
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Allowed("matrix", "@sam:example.org")).To(BeTrue())
		Expect(a.Allowed("console", "local")).To(BeTrue())
		Expect(a.Allowed("console", "@sam:example.org")).To(BeFalse())
		Expect(a.Allowed("matrix", "@eve:example.org")).To(BeFalse())
		Expect(a.Entries()).To(Equal([]string{"console:local", "matrix:@sam:example.org"}))
	})

	It("supports a per-platform wildcard", func() {
		a, err := platform.ParseAllowlist([]string{"webhook:*"})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Allowed("webhook", "anyone")).To(BeTrue())
		Expect(a.Allowed("webhook", "")).To(BeFalse())
		Expect(a.Allowed("matrix", "anyone")).To(BeFalse())
	})

	It("denies everyone when empty", func() {
		var a platform.Allowlist
		Expect(a.Allowed("console", "local")).To(BeFalse())

		var nilList *platform.Allowlist
		Expect(nilList.Allowed("console", "local")).To(BeFalse())
	})

	DescribeTable("rejects malformed entries",
		func(entry string) {
			_, err := platform.ParseAllowlist([]string{entry})
			Expect(err).To(HaveOccurred())
		},
		Entry("no separator", "matrix"),
		Entry("no platform", ":sam"),
		Entry("no user", "matrix:"),
	)
})
