package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/api/search"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/logger"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/webhook"
	"github.com/papercomputeco/chatty/pkg/proactive"
	"github.com/papercomputeco/chatty/pkg/retry"
	"github.com/papercomputeco/chatty/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/chatty/pkg/utils/test"
)

var _ = Describe("Server", func() {
	var (
		ctx       context.Context
		stack     *testutils.MemoryStack
		completer *testutils.MockCompleter
		scheduler *proactive.Scheduler
		outbox    *webhook.Outbox
		server    *Server
	)

	do := func(method, target, body string) *http.Response {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, target, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, into any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(into)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

		var err error
		stack, err = testutils.NewMemoryStack(fake)
		Expect(err).NotTo(HaveOccurred())

		completer = testutils.NewMockCompleter()
		completer.Default = "Hello from chatty"
		outbox = webhook.NewOutbox(0)

		scheduler, err = proactive.NewScheduler(ctx, proactive.Config{
			Store:  inmemory.NewDriver(),
			Sender: platform.NewRegistry(outbox),
			Policy: proactive.DefaultPolicy(),
			Clock:  fake,
		})
		Expect(err).NotTo(HaveOccurred())

		allow, err := platform.ParseAllowlist([]string{"webhook:*", "matrix:@sam:example.org"})
		Expect(err).NotTo(HaveOccurred())

		orch, err := chat.NewOrchestrator(chat.Config{
			Completer: completer,
			Memory:    stack.Store,
			Retriever: stack.Engine,
			Activity:  scheduler,
			Allowlist: allow,
			Retry:     retry.Config{MaxAttempts: 1},
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())

		server, err = NewServer(Config{
			ListenAddr: ":0",
			Chat:       orch,
			Retriever:  stack.Engine,
			Idle:       scheduler,
			Outbox:     outbox,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a logger", func() {
		_, err := NewServer(Config{}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("answers ping", func() {
		resp := do(http.MethodGet, "/ping", "")
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
	})

	Describe("POST /v1/messages", func() {
		It("returns the reply and stores the exchange", func() {
			resp := do(http.MethodPost, "/v1/messages", `{"user_id":"alice","user_name":"Alice","text":"hi there"}`)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body MessageResponse
			decode(resp, &body)
			Expect(body.Reply).To(Equal("Hello from chatty"))
			Expect(body.Degraded).To(BeFalse())

			turns, err := stack.Store.Recent(ctx, "alice", "webhook", memory.KindTurn, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))

			state, _, ok := scheduler.State("alice", "webhook")
			Expect(ok).To(BeTrue())
			Expect(state.Handle).To(Equal("alice"))
		})

		It("does not queue the reply in the outbox", func() {
			resp := do(http.MethodPost, "/v1/messages", `{"user_id":"alice","text":"hi"}`)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(outbox.Drain("alice")).To(BeEmpty())
		})

		It("reports a degraded reply", func() {
			completer.SetDown(true)

			resp := do(http.MethodPost, "/v1/messages", `{"user_id":"alice","text":"hi"}`)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body MessageResponse
			decode(resp, &body)
			Expect(body.Degraded).To(BeTrue())
			Expect(body.Reply).To(Equal(chat.Apology))
		})

		It("rejects senders missing from the allowlist", func() {
			resp := do(http.MethodPost, "/v1/messages", `{"platform":"matrix","user_id":"@eve:example.org","text":"hi"}`)
			Expect(resp.StatusCode).To(Equal(fiber.StatusForbidden))
		})

		It("validates the body", func() {
			Expect(do(http.MethodPost, "/v1/messages", `{"text":"hi"}`).StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(do(http.MethodPost, "/v1/messages", `{"user_id":"alice","text":"  "}`).StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(do(http.MethodPost, "/v1/messages", `not json`).StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/outbox", func() {
		It("drains pending messages once", func() {
			Expect(outbox.Send(ctx, "alice", "checking in")).To(Succeed())

			resp := do(http.MethodGet, "/v1/outbox?platform=webhook&handle=alice", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body OutboxResponse
			decode(resp, &body)
			Expect(body.Messages).To(HaveLen(1))
			Expect(body.Messages[0].Text).To(Equal("checking in"))

			resp = do(http.MethodGet, "/v1/outbox?handle=alice", "")
			decode(resp, &body)
			Expect(body.Messages).To(BeEmpty())
		})

		It("requires a handle", func() {
			Expect(do(http.MethodGet, "/v1/outbox", "").StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("rejects other platforms", func() {
			Expect(do(http.MethodGet, "/v1/outbox?platform=matrix&handle=x", "").StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("facts and memory", func() {
		BeforeEach(func() {
			_, err := stack.Store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.name", Text: "User's name is Sam"})
			Expect(err).NotTo(HaveOccurred())
			_, err = stack.Store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.city", Text: "Lives in Oslo"})
			Expect(err).NotTo(HaveOccurred())
		})

		samPath := "/v1/users/" + url.PathEscape("@sam:example.org")

		It("lists facts for user ids with special characters", func() {
			resp := do(http.MethodGet, samPath+"/facts", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body FactsResponse
			decode(resp, &body)
			Expect(body.UserID).To(Equal("@sam:example.org"))
			Expect(body.Count).To(Equal(2))
		})

		It("forgets one fact", func() {
			resp := do(http.MethodDelete, samPath+"/facts/city", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

			facts, err := stack.Store.Facts(ctx, "@sam:example.org")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].FactKey).To(Equal("user.name"))
		})

		It("resets all memory and idle state", func() {
			Expect(scheduler.RecordActivity(ctx, "@sam:example.org", "matrix", "!room", time.Time{})).To(Succeed())

			resp := do(http.MethodDelete, samPath+"/memory", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

			facts, err := stack.Store.Facts(ctx, "@sam:example.org")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())

			_, _, ok := scheduler.State("@sam:example.org", "matrix")
			Expect(ok).To(BeFalse())
		})

		It("answers 503 when the store is down", func() {
			stack.Driver.SetDown(true)
			Expect(do(http.MethodGet, samPath+"/facts", "").StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})

		It("retrieves memories for a query", func() {
			resp := do(http.MethodGet, samPath+"/retrieve?query=where+do+I+live&fact_budget=1&turn_budget=1", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body search.SearchOutput
			decode(resp, &body)
			Expect(body.Count).To(Equal(1))
			Expect(body.Results[0].Kind).To(Equal("fact"))
		})

		It("validates retrieval parameters", func() {
			Expect(do(http.MethodGet, samPath+"/retrieve", "").StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(do(http.MethodGet, samPath+"/retrieve?query=x&turn_budget=-1", "").StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/users/:user_id/idle", func() {
		It("reports the scheduler state", func() {
			Expect(scheduler.RecordActivity(ctx, "alice", "webhook", "alice", time.Time{})).To(Succeed())

			resp := do(http.MethodGet, "/v1/users/alice/idle?platform=webhook", "")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var body IdleResponse
			decode(resp, &body)
			Expect(body.Status).To(Equal(string(proactive.StatusIdleBelowThreshold)))
			Expect(body.LastActivityAt).NotTo(BeNil())
			Expect(body.LastProactiveAt).To(BeNil())
			Expect(body.RepliedSinceProactive).To(BeTrue())
		})

		It("answers 404 for unknown users and 400 without a platform", func() {
			Expect(do(http.MethodGet, "/v1/users/nobody/idle?platform=webhook", "").StatusCode).To(Equal(fiber.StatusNotFound))
			Expect(do(http.MethodGet, "/v1/users/nobody/idle", "").StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	It("answers 503 for unconfigured collaborators", func() {
		bare, err := NewServer(Config{}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		server = bare

		Expect(do(http.MethodGet, "/v1/users/alice/facts", "").StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		Expect(do(http.MethodGet, "/v1/outbox?handle=a", "").StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		Expect(do(http.MethodGet, "/v1/users/alice/retrieve?query=x", "").StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		Expect(do(http.MethodGet, "/v1/users/alice/idle?platform=webhook", "").StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		Expect(do(http.MethodGet, "/mcp", "").StatusCode).To(Equal(fiber.StatusNotFound))
	})
})
