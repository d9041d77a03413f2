// Package storagetest holds a shared ginkgo suite every storage.Driver runs.
package storagetest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/storage"
)

var base = time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)

// DescribeDriver registers the idle state store contract. newDriver is called
// before every spec and the returned driver is closed after it.
func DescribeDriver(name string, newDriver func() storage.Driver) bool {
	return Describe(name+" conformance", func() {
		var (
			ctx    context.Context
			driver storage.Driver
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = nil
			driver = newDriver()
		})

		AfterEach(func() {
			if driver != nil {
				Expect(driver.Close()).To(Succeed())
			}
		})

		It("returns NotFoundError for unknown users", func() {
			_, err := driver.Load(ctx, "nobody", "console")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("round-trips a state including zero times", func() {
			state := storage.IdleState{
				UserID:         "u1",
				Platform:       "matrix",
				Handle:         "!room:example.org",
				LastActivityAt: base,
			}
			Expect(driver.Save(ctx, state)).To(Succeed())

			got, err := driver.Load(ctx, "u1", "matrix")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Handle).To(Equal("!room:example.org"))
			Expect(got.LastActivityAt.Equal(base)).To(BeTrue())
			Expect(got.LastProactiveAt.IsZero()).To(BeTrue())
		})

		It("replaces the state for the same user and platform", func() {
			Expect(driver.Save(ctx, storage.IdleState{UserID: "u1", Platform: "console", LastActivityAt: base})).To(Succeed())
			Expect(driver.Save(ctx, storage.IdleState{
				UserID:          "u1",
				Platform:        "console",
				LastActivityAt:  base,
				LastProactiveAt: base.Add(time.Hour),
			})).To(Succeed())

			all, err := driver.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].LastProactiveAt.Equal(base.Add(time.Hour))).To(BeTrue())
		})

		It("lists ordered by platform then user", func() {
			for _, s := range []storage.IdleState{
				{UserID: "b", Platform: "matrix"},
				{UserID: "a", Platform: "matrix"},
				{UserID: "z", Platform: "console"},
			} {
				Expect(driver.Save(ctx, s)).To(Succeed())
			}

			all, err := driver.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			keys := make([]string, 0, len(all))
			for _, s := range all {
				keys = append(keys, s.Platform+":"+s.UserID)
			}
			Expect(keys).To(Equal([]string{"console:z", "matrix:a", "matrix:b"}))
		})

		It("deletes a user on every platform and is idempotent", func() {
			Expect(driver.Save(ctx, storage.IdleState{UserID: "u1", Platform: "console"})).To(Succeed())
			Expect(driver.Save(ctx, storage.IdleState{UserID: "u1", Platform: "matrix"})).To(Succeed())
			Expect(driver.Save(ctx, storage.IdleState{UserID: "u2", Platform: "matrix"})).To(Succeed())

			Expect(driver.Delete(ctx, "u1")).To(Succeed())
			Expect(driver.Delete(ctx, "u1")).To(Succeed())

			all, err := driver.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].UserID).To(Equal("u2"))
		})

		It("rejects a state without a user id", func() {
			Expect(driver.Save(ctx, storage.IdleState{Platform: "console"})).NotTo(Succeed())
		})
	})
}
