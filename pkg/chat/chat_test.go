package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/character"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/extract"
	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/proactive"
	"github.com/papercomputeco/chatty/pkg/retrieval"
	"github.com/papercomputeco/chatty/pkg/retry"
	"github.com/papercomputeco/chatty/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/chatty/pkg/utils/test"
	"github.com/papercomputeco/chatty/pkg/worker"
)

// syncQueue runs extraction inline so specs can assert on its effects.
type syncQueue struct {
	mu        sync.Mutex
	extractor *extract.Extractor
	jobs      []worker.Job
}

func (q *syncQueue) Enqueue(job worker.Job) bool {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	if q.extractor != nil {
		_, _ = q.extractor.ExtractAndCommit(context.Background(), job.Turns, job.UserID, job.Platform)
	}
	return true
}

// overlapCompleter reports the highest number of completions it served at
// once.
type overlapCompleter struct {
	mu      sync.Mutex
	active  int
	overlap int
}

func (c *overlapCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.active++
	c.overlap = max(c.overlap, c.active)
	c.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return "ok", nil
}

func (c *overlapCompleter) maxOverlap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlap
}

// toolScriptCompleter asks for one memory_search, then answers.
type toolScriptCompleter struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (c *toolScriptCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	return "no tools", nil
}

func (c *toolScriptCompleter) CompleteWithTools(_ context.Context, req llm.CompletionRequest, tools []llm.ToolSpec) (llm.ToolResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.requests) == 1 {
		Expect(tools).To(HaveLen(1))
		return llm.ToolResponse{Calls: []llm.ToolCall{{ID: "call_1", Name: tools[0].Name, Arguments: map[string]any{"query": "job"}}}}, nil
	}
	return llm.ToolResponse{Text: "Good luck on Friday!"}, nil
}

func systemText(req llm.CompletionRequest) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			parts = append(parts, m.GetText())
		}
	}
	return strings.Join(parts, "\n\n")
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		fake         *clock.Fake
		embedder     *testutils.MockEmbedder
		driver       *testutils.MockVectorDriver
		store        *memory.Store
		completer    *testutils.MockCompleter
		extractorLLM *testutils.MockCompleter
		messenger    *testutils.MockMessenger
		scheduler    *proactive.Scheduler
		queue        *syncQueue
		orch         *chat.Orchestrator
	)

	inbound := func(text string) platform.Inbound {
		return platform.Inbound{
			Platform:   "matrix",
			UserID:     "@sam:example.org",
			Handle:     "!room:example.org",
			UserName:   "Sam",
			Text:       text,
			ReceivedAt: fake.Now(),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake = clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		embedder = testutils.NewMockEmbedder()
		driver = testutils.NewMockVectorDriver()

		var err error
		store, err = memory.NewStore(memory.Config{Embedder: embedder, Driver: driver, Dimensions: 3, Clock: fake})
		Expect(err).NotTo(HaveOccurred())

		engine, err := retrieval.NewEngine(retrieval.Config{Embedder: embedder, Store: store, Clock: fake})
		Expect(err).NotTo(HaveOccurred())

		completer = testutils.NewMockCompleter()
		completer.Default = "ok"
		extractorLLM = testutils.NewMockCompleter()
		extractorLLM.Default = `{"facts":[]}`

		extractor, err := extract.New(extract.Config{Completer: extractorLLM, Store: store})
		Expect(err).NotTo(HaveOccurred())
		queue = &syncQueue{extractor: extractor}

		messenger = testutils.NewMockMessenger("matrix")
		registry := platform.NewRegistry(messenger)

		scheduler, err = proactive.NewScheduler(ctx, proactive.Config{
			Store:  inmemory.NewDriver(),
			Sender: registry,
			Policy: proactive.DefaultPolicy(),
			Clock:  fake,
		})
		Expect(err).NotTo(HaveOccurred())

		allow, err := platform.ParseAllowlist([]string{"matrix:@sam:example.org"})
		Expect(err).NotTo(HaveOccurred())

		orch, err = chat.NewOrchestrator(chat.Config{
			Completer:   completer,
			Memory:      store,
			Retriever:   engine,
			Activity:    scheduler,
			Extractions: queue,
			Sender:      registry,
			Allowlist:   allow,
			Character:   character.Default(),
			Retry:       retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
			Clock:       fake,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires its collaborators", func() {
		_, err := chat.NewOrchestrator(chat.Config{Completer: completer})
		Expect(err).To(HaveOccurred())
	})

	It("remembers the user's name across turns", func() {
		completer.Queue("Nice to meet you, Sam!")
		extractorLLM.Queue(`{"facts":[{"key":"user.name","value":"User's name is Sam"}]}`)

		reply, err := orch.HandleMessage(ctx, inbound("My name is Sam"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("Nice to meet you, Sam!"))
		Expect(reply.Delivered).To(BeTrue())

		facts, err := store.Facts(ctx, "@sam:example.org")
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(1))
		Expect(facts[0].FactKey).To(Equal("user.name"))

		fake.Advance(time.Hour)
		completer.Queue("Your name is Sam.")
		reply, err = orch.HandleMessage(ctx, inbound("What's my name?"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("Your name is Sam."))

		req := completer.LastRequest()
		Expect(systemText(req)).To(ContainSubstring("User's name is Sam"))
		Expect(req.Messages[len(req.Messages)-1].GetText()).To(Equal("What's my name?"))

		// The previous exchange arrives as chat history.
		texts := []string{}
		for _, m := range req.Messages {
			if m.Role != llm.RoleSystem {
				texts = append(texts, m.GetText())
			}
		}
		Expect(texts).To(Equal([]string{"My name is Sam", "Nice to meet you, Sam!", "What's my name?"}))

		Expect(messenger.Texts()).To(Equal([]string{"Nice to meet you, Sam!", "Your name is Sam."}))
	})

	It("stores both turns and records activity", func() {
		_, err := orch.HandleMessage(ctx, inbound("hello"))
		Expect(err).NotTo(HaveOccurred())

		turns, err := store.Recent(ctx, "@sam:example.org", "", memory.KindTurn, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[0].Role).To(Equal(memory.RoleUser))
		Expect(turns[1].Role).To(Equal(memory.RoleAssistant))

		state, status, ok := scheduler.State("@sam:example.org", "matrix")
		Expect(ok).To(BeTrue())
		Expect(status).To(Equal(proactive.StatusIdleBelowThreshold))
		Expect(state.Handle).To(Equal("!room:example.org"))
	})

	It("passes the recent turns to extraction", func() {
		for _, t := range []string{"one", "two", "three", "four"} {
			_, err := orch.HandleMessage(ctx, inbound(t))
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(queue.jobs).To(HaveLen(4))
		last := queue.jobs[3]
		Expect(last.Turns).To(HaveLen(chat.DefaultExtractWindow))
		Expect(last.Turns[len(last.Turns)-2].Text).To(Equal("four"))
		Expect(last.Turns[len(last.Turns)-1].Role).To(Equal(memory.RoleAssistant))
	})

	It("rejects senders missing from the allowlist without recording anything", func() {
		in := inbound("hi")
		in.UserID = "@eve:example.org"

		_, err := orch.HandleMessage(ctx, in)
		Expect(errors.Is(err, chat.ErrUnauthorized)).To(BeTrue())
		Expect(completer.Calls()).To(BeZero())
		Expect(driver.Adds).To(BeZero())
		Expect(messenger.Messages()).To(BeEmpty())

		_, _, ok := scheduler.State("@eve:example.org", "matrix")
		Expect(ok).To(BeFalse())
	})

	It("still replies without memory during an embedding outage", func() {
		embedder.SetDown(true)
		completer.Queue("Hello there!")

		reply, err := orch.HandleMessage(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("Hello there!"))
		Expect(reply.Degraded).To(BeFalse())
		Expect(messenger.Texts()).To(Equal([]string{"Hello there!"}))

		// Nothing could be embedded, so nothing was stored.
		Expect(driver.Adds).To(BeZero())

		req := completer.LastRequest()
		system := 0
		for _, m := range req.Messages {
			if m.Role == llm.RoleSystem {
				system++
			}
		}
		Expect(system).To(Equal(1))
		Expect(systemText(req)).NotTo(ContainSubstring("Relevant past conversation"))
		Expect(systemText(req)).NotTo(ContainSubstring("Known facts about the user"))
	})

	It("answers one user at a time across platforms", func() {
		slow := &overlapCompleter{}
		allow, err := platform.ParseAllowlist([]string{"matrix:@sam:example.org", "console:@sam:example.org"})
		Expect(err).NotTo(HaveOccurred())
		engine, err := retrieval.NewEngine(retrieval.Config{Embedder: embedder, Store: store, Clock: fake})
		Expect(err).NotTo(HaveOccurred())

		serial, err := chat.NewOrchestrator(chat.Config{
			Completer: slow,
			Memory:    store,
			Retriever: engine,
			Allowlist: allow,
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for _, name := range []string{"matrix", "console"} {
			in := inbound("hello from " + name)
			in.Platform = name
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := serial.Respond(ctx, in)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(slow.maxOverlap()).To(Equal(1))
	})

	It("lets the model search memory when tools are enabled", func() {
		embedder.Set("Has a job interview on Friday", []float32{1, 0, 0})
		embedder.Set("job", []float32{1, 0, 0})
		_, err := store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.job", Text: "Has a job interview on Friday"})
		Expect(err).NotTo(HaveOccurred())

		tc := &toolScriptCompleter{}
		engine, err := retrieval.NewEngine(retrieval.Config{Embedder: embedder, Store: store, Clock: fake})
		Expect(err).NotTo(HaveOccurred())
		allow, err := platform.ParseAllowlist([]string{"matrix:@sam:example.org"})
		Expect(err).NotTo(HaveOccurred())

		withTools, err := chat.NewOrchestrator(chat.Config{
			Completer: tc,
			Memory:    store,
			Retriever: engine,
			Allowlist: allow,
			Tools:     true,
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())

		reply, err := withTools.Respond(ctx, inbound("anything coming up?"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("Good luck on Friday!"))

		Expect(tc.requests).To(HaveLen(2))
		Expect(tc.requests[0].Temperature).To(Equal(llm.DefaultToolTemperature))
		last := tc.requests[1].Messages
		result := last[len(last)-1]
		Expect(result.Role).To(Equal(llm.RoleTool))
		Expect(result.Content[0].ToolName).To(Equal("memory_search"))
		Expect(result.Content[0].IsError).To(BeFalse())
		Expect(result.Content[0].ToolOutput).To(ContainSubstring("Has a job interview on Friday"))
	})

	It("ignores the tools setting for completers without tool support", func() {
		completer.Queue("plain")
		engine, err := retrieval.NewEngine(retrieval.Config{Embedder: embedder, Store: store, Clock: fake})
		Expect(err).NotTo(HaveOccurred())
		allow, err := platform.ParseAllowlist([]string{"matrix:@sam:example.org"})
		Expect(err).NotTo(HaveOccurred())

		plain, err := chat.NewOrchestrator(chat.Config{
			Completer: completer,
			Memory:    store,
			Retriever: engine,
			Allowlist: allow,
			Tools:     true,
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())

		reply, err := plain.Respond(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("plain"))
	})

	It("replies without memory when the store is down", func() {
		driver.SetDown(true)
		completer.Queue("Still here.")

		reply, err := orch.HandleMessage(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("Still here."))
	})

	It("apologizes and stores nothing when the completion fails", func() {
		completer.SetDown(true)

		reply, err := orch.HandleMessage(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Degraded).To(BeTrue())
		Expect(reply.Text).To(Equal(chat.Apology))
		Expect(messenger.Texts()).To(Equal([]string{chat.Apology}))

		turns, err := store.Recent(ctx, "@sam:example.org", "", memory.KindTurn, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(BeEmpty())
		Expect(queue.jobs).To(BeEmpty())
	})

	It("retries delivery and reports persistent failures", func() {
		messenger.SetFailSends(1)
		reply, err := orch.HandleMessage(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Delivered).To(BeTrue())
		Expect(messenger.Attempts).To(Equal(2))

		messenger.SetFailSends(10)
		reply, err = orch.HandleMessage(ctx, inbound("again"))
		Expect(errors.Is(err, platform.ErrDeliveryFailure)).To(BeTrue())
		Expect(reply.Delivered).To(BeFalse())
		Expect(reply.Text).To(Equal("ok"))
	})

	It("ignores blank messages", func() {
		reply, err := orch.HandleMessage(ctx, inbound("   "))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal(chat.Reply{}))
		Expect(completer.Calls()).To(BeZero())
	})

	It("keeps the apology out of the completion path when Respond is used directly", func() {
		completer.Queue("direct")
		reply, err := orch.Respond(ctx, inbound("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("direct"))
		Expect(messenger.Messages()).To(BeEmpty())
	})

	Describe("commands", func() {
		BeforeEach(func() {
			_, err := store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.name", Text: "User's name is Sam"})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.city", Text: "Lives in Oslo"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("greets on /start", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/start"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Command).To(BeTrue())
			Expect(reply.Text).To(ContainSubstring("Hi Sam! I'm Mira."))
			Expect(completer.Calls()).To(BeZero())
		})

		It("lists commands on /help", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/help"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Text).To(ContainSubstring("/forget all"))
		})

		It("lists facts", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/facts"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Text).To(ContainSubstring("- Lives in Oslo (user.city)"))
			Expect(reply.Text).To(ContainSubstring("- User's name is Sam (user.name)"))
		})

		It("forgets a single fact", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/forget City"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Text).To(Equal("Okay, I've forgotten user.city."))

			facts, err := orch.Facts(ctx, "@sam:example.org")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].FactKey).To(Equal("user.name"))
		})

		It("forgets everything with /forget all", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/forget all"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Text).To(ContainSubstring("forgotten everything"))

			facts, err := orch.Facts(ctx, "@sam:example.org")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())

			_, _, ok := scheduler.State("@sam:example.org", "matrix")
			Expect(ok).To(BeFalse())
		})

		It("asks what to forget without an argument", func() {
			reply, err := orch.HandleMessage(ctx, inbound("/forget"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Text).To(ContainSubstring("/forget <key>"))
		})

		It("does not store commands as turns", func() {
			_, err := orch.HandleMessage(ctx, inbound("/facts"))
			Expect(err).NotTo(HaveOccurred())

			turns, err := store.Recent(ctx, "@sam:example.org", "", memory.KindTurn, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(BeEmpty())
		})

		It("treats unknown commands as conversation", func() {
			completer.Queue("Not sure what that means!")
			reply, err := orch.HandleMessage(ctx, inbound("/dance"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Command).To(BeFalse())
			Expect(reply.Text).To(Equal("Not sure what that means!"))
		})
	})

	Describe("proactive check-ins", func() {
		It("composes from the check-in prompt, facts and truncated recent turns", func() {
			_, err := store.Put(ctx, memory.Record{Kind: memory.KindFact, UserID: "@sam:example.org", FactKey: "user.job", Text: "Has a job interview on Friday"})
			Expect(err).NotTo(HaveOccurred())
			long := strings.Repeat("a", 300)
			_, err = store.Put(ctx, memory.Record{Kind: memory.KindTurn, Role: memory.RoleUser, UserID: "@sam:example.org", Platform: "matrix", Text: long})
			Expect(err).NotTo(HaveOccurred())

			completer.Queue("  Hey Sam, how did the interview go?  ")
			text, err := orch.ComposeProactive(ctx, proactive.IdleState{UserID: "@sam:example.org", Platform: "matrix"})
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Hey Sam, how did the interview go?"))

			req := completer.LastRequest()
			Expect(systemText(req)).To(ContainSubstring("Has a job interview on Friday"))
			user := req.Messages[len(req.Messages)-1].GetText()
			Expect(user).To(ContainSubstring(character.DefaultCheckIn))
			Expect(user).To(ContainSubstring(strings.Repeat("a", 200) + "..."))
			Expect(user).NotTo(ContainSubstring(strings.Repeat("a", 201)))
		})

		It("fails when the completion is unavailable", func() {
			completer.SetDown(true)
			_, err := orch.ComposeProactive(ctx, proactive.IdleState{UserID: "@sam:example.org", Platform: "matrix"})
			Expect(errors.Is(err, llm.ErrUnavailable)).To(BeTrue())
		})

		It("stores a delivered check-in as an assistant turn", func() {
			orch.RecordProactive(ctx, proactive.IdleState{UserID: "@sam:example.org", Platform: "matrix"}, "Thinking of you!")

			turns, err := store.Recent(ctx, "@sam:example.org", "", memory.KindTurn, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Role).To(Equal(memory.RoleAssistant))
			Expect(turns[0].Text).To(Equal("Thinking of you!"))
		})
	})
})
