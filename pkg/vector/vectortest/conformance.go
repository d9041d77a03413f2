// Package vectortest holds a shared ginkgo suite every vector.Driver runs.
package vectortest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/vector"
)

// Dimensions is the vector size used by the conformance documents.
const Dimensions = 4

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Doc builds a conformance document.
func Doc(id, userID, kind string, emb []float32, at time.Duration, seq int64) vector.Document {
	return vector.Document{
		ID:        id,
		Text:      "text " + id,
		Kind:      kind,
		UserID:    userID,
		Platform:  "console",
		CreatedAt: base.Add(at),
		Seq:       seq,
		Embedding: emb,
	}
}

func ids(results []vector.QueryResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func docIDs(docs []vector.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

// DescribeDriver registers the driver contract specs. newDriver is called
// before every spec and the returned driver is closed after it. newDriver may
// call Skip when its backing service is not available.
func DescribeDriver(name string, newDriver func() vector.Driver) bool {
	return Describe(name+" conformance", func() {
		var (
			ctx    context.Context
			driver vector.Driver
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

		It("returns an empty slice from an empty store", func() {
			results, err := driver.Query(ctx, vector.Query{Embedding: []float32{1, 0, 0, 0}, TopK: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).NotTo(BeNil())
			Expect(results).To(BeEmpty())

			docs, err := driver.List(ctx, vector.Filter{UserID: "u1"}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})

		It("orders by similarity and respects TopK", func() {
			Expect(driver.Add(ctx, []vector.Document{
				Doc("near", "u1", "turn", []float32{1, 0, 0, 0}, 0, 1),
				Doc("mid", "u1", "turn", []float32{1, 1, 0, 0}, time.Minute, 2),
				Doc("far", "u1", "turn", []float32{0, 0, 1, 0}, 2*time.Minute, 3),
			})).To(Succeed())

			results, err := driver.Query(ctx, vector.Query{Embedding: []float32{1, 0, 0, 0}, TopK: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"near", "mid"}))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-4))
			Expect(results[1].Score).To(BeNumerically("~", 0.7071, 1e-3))
		})

		It("breaks similarity ties by newest CreatedAt then Seq", func() {
			same := []float32{0, 1, 0, 0}
			Expect(driver.Add(ctx, []vector.Document{
				Doc("old", "u1", "turn", same, 0, 1),
				Doc("new-low", "u1", "turn", same, time.Hour, 2),
				Doc("new-high", "u1", "turn", same, time.Hour, 3),
			})).To(Succeed())

			results, err := driver.Query(ctx, vector.Query{Embedding: same, TopK: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"new-high", "new-low", "old"}))
		})

		It("applies filters and MinScore", func() {
			Expect(driver.Add(ctx, []vector.Document{
				Doc("mine", "u1", "turn", []float32{1, 0, 0, 0}, 0, 1),
				Doc("theirs", "u2", "turn", []float32{1, 0, 0, 0}, 0, 2),
				Doc("fact", "u1", "fact", []float32{1, 0, 0, 0}, 0, 3),
				Doc("unrelated", "u1", "turn", []float32{0, 0, 0, 1}, 0, 4),
			})).To(Succeed())

			results, err := driver.Query(ctx, vector.Query{
				Embedding: []float32{1, 0, 0, 0},
				Filter:    vector.Filter{UserID: "u1", Kind: "turn"},
				TopK:      10,
				MinScore:  0.5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"mine"}))
			Expect(results[0].UserID).To(Equal("u1"))
			Expect(results[0].Text).To(Equal("text mine"))
			Expect(results[0].CreatedAt.Equal(base)).To(BeTrue())
		})

		It("upserts by ID", func() {
			Expect(driver.Add(ctx, []vector.Document{Doc("a", "u1", "turn", []float32{1, 0, 0, 0}, 0, 1)})).To(Succeed())

			updated := Doc("a", "u1", "turn", []float32{0, 1, 0, 0}, time.Minute, 2)
			updated.Text = "updated"
			Expect(driver.Add(ctx, []vector.Document{updated})).To(Succeed())

			docs, err := driver.List(ctx, vector.Filter{UserID: "u1"}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Text).To(Equal("updated"))
			Expect(docs[0].Embedding).To(HaveLen(Dimensions))
		})

		It("replaces every document matching the filter", func() {
			first := Doc("f1", "u1", "fact", []float32{1, 0, 0, 0}, 0, 1)
			first.FactKey = "user.name"
			Expect(driver.Add(ctx, []vector.Document{first})).To(Succeed())

			other := Doc("f2", "u1", "fact", []float32{0, 1, 0, 0}, 0, 2)
			other.FactKey = "user.city"
			Expect(driver.Add(ctx, []vector.Document{other})).To(Succeed())

			next := Doc("f3", "u1", "fact", []float32{0, 0, 1, 0}, time.Minute, 3)
			next.FactKey = "user.name"
			next.Text = "User's name is Sam"
			Expect(driver.Replace(ctx, vector.Filter{UserID: "u1", Kind: "fact", FactKey: "user.name"}, next)).To(Succeed())

			docs, err := driver.List(ctx, vector.Filter{UserID: "u1", Kind: "fact", FactKey: "user.name"}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(docIDs(docs)).To(Equal([]string{"f3"}))
			Expect(docs[0].Text).To(Equal("User's name is Sam"))

			all, err := driver.List(ctx, vector.Filter{UserID: "u1"}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})

		It("lists newest first with a limit", func() {
			Expect(driver.Add(ctx, []vector.Document{
				Doc("t1", "u1", "turn", []float32{1, 0, 0, 0}, 0, 1),
				Doc("t2", "u1", "turn", []float32{1, 0, 0, 0}, time.Minute, 2),
				Doc("t3", "u1", "turn", []float32{1, 0, 0, 0}, time.Minute, 3),
			})).To(Succeed())

			docs, err := driver.List(ctx, vector.Filter{UserID: "u1", Kind: "turn"}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(docIDs(docs)).To(Equal([]string{"t3", "t2"}))
		})

		It("deletes by filter and is idempotent", func() {
			Expect(driver.Add(ctx, []vector.Document{
				Doc("a", "u1", "turn", []float32{1, 0, 0, 0}, 0, 1),
				Doc("b", "u2", "turn", []float32{1, 0, 0, 0}, 0, 2),
			})).To(Succeed())

			Expect(driver.Delete(ctx, vector.Filter{UserID: "u1"})).To(Succeed())
			Expect(driver.Delete(ctx, vector.Filter{UserID: "u1"})).To(Succeed())

			results, err := driver.Query(ctx, vector.Query{Embedding: []float32{1, 0, 0, 0}, TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"b"}))
		})
	})
}
