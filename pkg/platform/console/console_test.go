package console_test

import (
	"bytes"
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/console"
)

var _ platform.Messenger = (*console.Messenger)(nil)

var _ = Describe("Messenger", func() {
	It("hands each non-empty line to the handler and prints replies", func() {
		out := &bytes.Buffer{}
		m := console.New(console.Config{
			In:            strings.NewReader("hello\n\n  my name is Sam  \n"),
			Out:           out,
			UserID:        "sam",
			UserName:      "Sam",
			AssistantName: "Mira",
		})

		var got []platform.Inbound
		err := m.Start(context.Background(), func(ctx context.Context, msg platform.Inbound) {
			got = append(got, msg)
			Expect(m.Send(ctx, msg.Handle, "echo: "+msg.Text)).To(Succeed())
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(got).To(HaveLen(2))
		Expect(got[1].Text).To(Equal("my name is Sam"))
		Expect(got[1].Platform).To(Equal("console"))
		Expect(got[1].UserID).To(Equal("sam"))
		Expect(got[1].Handle).To(Equal(console.Handle))

		// A buffer is not a terminal, so output is plain text.
		Expect(out.String()).To(ContainSubstring("Mira> echo: hello\n"))
		Expect(out.String()).To(ContainSubstring("you> "))
		Expect(out.String()).NotTo(ContainSubstring("\x1b["))
	})

	It("defaults the user id", func() {
		m := console.New(console.Config{In: strings.NewReader("hi\n"), Out: &bytes.Buffer{}})
		var user string
		Expect(m.Start(context.Background(), func(_ context.Context, msg platform.Inbound) {
			user = msg.UserID
		})).To(Succeed())
		Expect(user).To(Equal("local"))
	})
})
