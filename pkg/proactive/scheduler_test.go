package proactive_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/proactive"
	"github.com/papercomputeco/chatty/pkg/storage/inmemory"
)

type sent struct {
	platform, handle, text string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recordingSender) Send(_ context.Context, platform, handle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sent{platform, handle, text})
	return nil
}

func (r *recordingSender) sent() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func (r *recordingSender) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type stubComposer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *stubComposer) ComposeProactive(_ context.Context, state proactive.IdleState) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "Hey " + state.UserID + ", how did the interview go?", nil
}

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		start     time.Time
		fake      *clock.Fake
		store     *inmemory.Driver
		sender    *recordingSender
		composer  *stubComposer
		delivered []string
		scheduler *proactive.Scheduler
	)

	newScheduler := func() *proactive.Scheduler {
		s, err := proactive.NewScheduler(ctx, proactive.Config{
			Store:    store,
			Composer: composer,
			Sender:   sender,
			Policy:   proactive.DefaultPolicy(),
			Clock:    fake,
			OnDelivered: func(_ context.Context, _ proactive.IdleState, text string) {
				delivered = append(delivered, text)
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		fake = clock.NewFake(start)
		store = inmemory.NewDriver()
		sender = &recordingSender{}
		composer = &stubComposer{}
		delivered = nil
		scheduler = newScheduler()
	})

	It("rejects an invalid policy", func() {
		p := proactive.DefaultPolicy()
		p.PollInterval = 48 * time.Hour
		_, err := proactive.NewScheduler(ctx, proactive.Config{Store: store, Policy: p})
		Expect(err).To(MatchError(proactive.ErrInvalidPolicy))
	})

	It("sends one check-in after the idle threshold and then cools down", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())

		fake.Advance(23 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(0))

		fake.Advance(2 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(1))
		Expect(sender.sent()).To(Equal([]sent{{"matrix", "!room", "Hey sam, how did the interview go?"}}))
		Expect(delivered).To(HaveLen(1))

		state, status, ok := scheduler.State("sam", "matrix")
		Expect(ok).To(BeTrue())
		Expect(status).To(Equal(proactive.StatusCooldown))
		Expect(state.LastProactiveAt).To(Equal(start.Add(25 * time.Hour)))

		// Without a reply the user is never pinged again.
		fake.Advance(7 * 24 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(0))
		Expect(sender.sent()).To(HaveLen(1))
	})

	It("becomes eligible again after a reply and another idle period", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		fake.Advance(25 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(1))

		fake.Advance(time.Hour)
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "", fake.Now())).To(Succeed())
		_, status, _ := scheduler.State("sam", "matrix")
		Expect(status).To(Equal(proactive.StatusIdleBelowThreshold))

		fake.Advance(24 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(0))

		fake.Advance(time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(1))
		Expect(sender.sent()).To(HaveLen(2))
		Expect(sender.sent()[1].handle).To(Equal("!room"))
	})

	It("retries on the next tick when delivery fails", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		fake.Advance(25 * time.Hour)

		sender.fail(errors.New("homeserver unreachable"))
		Expect(scheduler.Tick(ctx)).To(Equal(0))
		state, status, _ := scheduler.State("sam", "matrix")
		Expect(state.LastProactiveAt.IsZero()).To(BeTrue())
		Expect(status).To(Equal(proactive.StatusEligible))
		Expect(delivered).To(BeEmpty())

		sender.fail(nil)
		fake.Advance(time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(1))
	})

	It("retries on the next tick when composing fails", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		fake.Advance(25 * time.Hour)

		composer.err = errors.New("completion unavailable")
		Expect(scheduler.Tick(ctx)).To(Equal(0))
		Expect(sender.sent()).To(BeEmpty())

		composer.err = nil
		Expect(scheduler.Tick(ctx)).To(Equal(1))
	})

	It("skips users without a delivery handle", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "console", "", fake.Now())).To(Succeed())
		fake.Advance(25 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(0))
		Expect(composer.calls).To(BeZero())
	})

	It("persists state so a restarted scheduler keeps its timing", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		fake.Advance(25 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(1))

		restarted := newScheduler()
		fake.Advance(2 * time.Hour)
		Expect(restarted.Tick(ctx)).To(Equal(0))

		state, status, ok := restarted.State("sam", "matrix")
		Expect(ok).To(BeTrue())
		Expect(status).To(Equal(proactive.StatusCooldown))
		Expect(state.Handle).To(Equal("!room"))
	})

	It("forgets a user on Reset", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		Expect(scheduler.RecordActivity(ctx, "sam", "console", "tty", fake.Now())).To(Succeed())
		Expect(scheduler.Reset(ctx, "sam")).To(Succeed())

		_, _, ok := scheduler.State("sam", "matrix")
		Expect(ok).To(BeFalse())

		all, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(BeEmpty())

		fake.Advance(25 * time.Hour)
		Expect(scheduler.Tick(ctx)).To(Equal(0))
	})

	It("ignores an older activity timestamp", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "", start.Add(-time.Hour))).To(Succeed())

		state, _, _ := scheduler.State("sam", "matrix")
		Expect(state.LastActivityAt).To(Equal(start))
	})

	It("ticks on every poll interval while running", func() {
		Expect(scheduler.RecordActivity(ctx, "sam", "matrix", "!room", fake.Now())).To(Succeed())

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(runCtx) }()

		for range 25 {
			Eventually(fake.Waiters).Should(Equal(1))
			fake.Advance(time.Hour)
		}
		Eventually(sender.sent).Should(HaveLen(1))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
