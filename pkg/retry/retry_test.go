package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/retry"
)

var _ = Describe("Do", func() {
	fast := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	It("stops after the first success", func() {
		calls := 0
		err := retry.Do(context.Background(), fast, func() error {
			calls++
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("retries until success", func() {
		calls := 0
		err := retry.Do(context.Background(), fast, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
	})

	It("gives up after MaxAttempts with the last error", func() {
		sentinel := errors.New("permanent")
		calls := 0
		err := retry.Do(context.Background(), fast, func() error {
			calls++
			return sentinel
		})
		Expect(err).To(MatchError(sentinel))
		Expect(calls).To(Equal(3))
	})

	It("does not retry errors the predicate rejects", func() {
		permanent := errors.New("permanent")
		cfg := fast
		cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

		calls := 0
		err := retry.Do(context.Background(), cfg, func() error {
			calls++
			return permanent
		})
		Expect(err).To(MatchError(permanent))
		Expect(calls).To(Equal(1))
	})

	It("treats zero attempts as one", func() {
		calls := 0
		_ = retry.Do(context.Background(), retry.Config{}, func() error {
			calls++
			return errors.New("nope")
		})
		Expect(calls).To(Equal(1))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := retry.Config{MaxAttempts: 5, InitialDelay: time.Hour}

		calls := 0
		err := retry.Do(ctx, cfg, func() error {
			calls++
			cancel()
			return errors.New("transient")
		})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})
})
