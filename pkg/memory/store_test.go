package memory_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/embeddings"
	"github.com/papercomputeco/chatty/pkg/eventstream"
	"github.com/papercomputeco/chatty/pkg/memory"
	testutils "github.com/papercomputeco/chatty/pkg/utils/test"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MemoryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *eventstream.MemoryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		embedder  *testutils.MockEmbedder
		driver    *testutils.MockVectorDriver
		fake      *clock.Fake
		publisher *recordingPublisher
		store     *memory.Store
	)

	turn := func(text string, role memory.Role) memory.Record {
		return memory.Record{Kind: memory.KindTurn, Role: role, UserID: "u1", Platform: "console", Text: text}
	}
	fact := func(key, text string) memory.Record {
		return memory.Record{Kind: memory.KindFact, UserID: "u1", Platform: "console", FactKey: key, Text: text}
	}

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		driver = testutils.NewMockVectorDriver()
		fake = clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		publisher = &recordingPublisher{}

		var err error
		store, err = memory.NewStore(memory.Config{
			Embedder:   embedder,
			Driver:     driver,
			Dimensions: 3,
			Clock:      fake,
			Publisher:  publisher,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires an embedder and a driver", func() {
		_, err := memory.NewStore(memory.Config{Driver: driver})
		Expect(err).To(HaveOccurred())
		_, err = memory.NewStore(memory.Config{Embedder: embedder})
		Expect(err).To(HaveOccurred())
	})

	Describe("Put", func() {
		It("embeds the text and assigns id, timestamp and sequence", func() {
			rec, err := store.Put(ctx, turn("hello there", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ID).NotTo(BeEmpty())
			Expect(rec.Embedding).To(HaveLen(3))
			Expect(rec.CreatedAt).To(Equal(fake.Now()))
			Expect(rec.Seq).To(BeNumerically(">", 0))
			Expect(embedder.Calls).To(Equal(1))
		})

		It("keeps a provided embedding", func() {
			r := turn("hello", memory.RoleUser)
			r.Embedding = []float32{0, 1, 0}
			rec, err := store.Put(ctx, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Embedding).To(Equal([]float32{0, 1, 0}))
			Expect(embedder.Calls).To(BeZero())
		})

		It("assigns strictly increasing sequences at the same instant", func() {
			a, err := store.Put(ctx, turn("one", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())
			b, err := store.Put(ctx, turn("two", memory.RoleAssistant))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Seq).To(BeNumerically(">", a.Seq))
		})

		It("appends identical turns as distinct records", func() {
			a, err := store.Put(ctx, turn("same words", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())
			b, err := store.Put(ctx, turn("same words", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())
			Expect(a.ID).NotTo(Equal(b.ID))

			recent, err := store.Recent(ctx, "u1", "", memory.KindTurn, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(recent).To(HaveLen(2))
		})

		It("retains exactly one fact per key, equal to the latest value", func() {
			for _, age := range []string{"User is 24", "User is 25", "User is 26"} {
				_, err := store.Put(ctx, fact("user.age", age))
				Expect(err).NotTo(HaveOccurred())
				fake.Advance(time.Minute)
			}
			_, err := store.Put(ctx, fact("user.name", "Sam"))
			Expect(err).NotTo(HaveOccurred())

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))

			var ages []string
			for _, f := range facts {
				if f.FactKey == "user.age" {
					ages = append(ages, f.Text)
				}
			}
			Expect(ages).To(Equal([]string{"User is 26"}))
		})

		It("normalizes fact keys before superseding", func() {
			_, err := store.Put(ctx, fact("  Favorite Color ", "blue"))
			Expect(err).NotTo(HaveOccurred())
			rec, err := store.Put(ctx, fact("user.favorite_color", "green"))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.FactKey).To(Equal("user.favorite_color"))

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Text).To(Equal("green"))
		})

		It("keeps facts of different users apart", func() {
			_, err := store.Put(ctx, fact("user.name", "Sam"))
			Expect(err).NotTo(HaveOccurred())
			other := fact("user.name", "Alex")
			other.UserID = "u2"
			_, err = store.Put(ctx, other)
			Expect(err).NotTo(HaveOccurred())

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Text).To(Equal("Sam"))
		})

		It("serializes concurrent writes to the same fact key", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := store.Put(ctx, fact("user.mood", "fine"))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
		})

		It("never persists a record whose embedding fails", func() {
			embedder.SetDown(true)
			_, err := store.Put(ctx, turn("lost", memory.RoleUser))
			Expect(errors.Is(err, embeddings.ErrUnavailable)).To(BeTrue())
			Expect(driver.Adds).To(BeZero())
		})

		It("rejects zero and wrongly sized vectors as embedding failures", func() {
			embedder.Set("zero", []float32{0, 0, 0})
			_, err := store.Put(ctx, turn("zero", memory.RoleUser))
			Expect(errors.Is(err, embeddings.ErrUnavailable)).To(BeTrue())

			embedder.Set("short", []float32{1, 0})
			_, err = store.Put(ctx, turn("short", memory.RoleUser))
			Expect(errors.Is(err, embeddings.ErrUnavailable)).To(BeTrue())
			Expect(driver.Adds).To(BeZero())
		})

		DescribeTable("rejects invalid records",
			func(rec memory.Record) {
				_, err := store.Put(ctx, rec)
				Expect(errors.Is(err, memory.ErrInvalidRecord)).To(BeTrue())
			},
			Entry("missing user", memory.Record{Kind: memory.KindTurn, Role: memory.RoleUser, Text: "hi"}),
			Entry("missing text", memory.Record{Kind: memory.KindTurn, Role: memory.RoleUser, UserID: "u1"}),
			Entry("unknown kind", memory.Record{Kind: "note", UserID: "u1", Text: "hi"}),
			Entry("turn without role", memory.Record{Kind: memory.KindTurn, UserID: "u1", Text: "hi"}),
			Entry("fact without key", memory.Record{Kind: memory.KindFact, UserID: "u1", Text: "hi"}),
			Entry("fact with role", memory.Record{Kind: memory.KindFact, Role: memory.RoleUser, FactKey: "user.x", UserID: "u1", Text: "hi"}),
		)

		It("reports store outages as ErrStoreUnavailable", func() {
			driver.SetDown(true)
			_, err := store.Put(ctx, turn("hi", memory.RoleUser))
			Expect(errors.Is(err, memory.ErrStoreUnavailable)).To(BeTrue())

			_, err = store.Put(ctx, fact("user.name", "Sam"))
			Expect(errors.Is(err, memory.ErrStoreUnavailable)).To(BeTrue())
		})

		It("publishes a stored event and tolerates publish failures", func() {
			publisher.err = errors.New("broker down")
			_, err := store.Put(ctx, fact("user.name", "Sam"))
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.types()).To(Equal([]string{eventstream.EventTypeRecordStored}))
			Expect(publisher.events[0].Record.FactKey).To(Equal("user.name"))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			embedder.Set("cats are great", []float32{1, 0, 0})
			embedder.Set("dogs are loyal", []float32{0, 1, 0})
			embedder.Set("User's name is Sam", []float32{0, 0, 1})
			for _, t := range []string{"cats are great", "dogs are loyal"} {
				_, err := store.Put(ctx, turn(t, memory.RoleUser))
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := store.Put(ctx, fact("user.name", "User's name is Sam"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the most similar records of the requested kind", func() {
			hits, err := store.Search(ctx, memory.SearchQuery{
				Embedding: []float32{1, 0.1, 0},
				UserID:    "u1",
				Kind:      memory.KindTurn,
				TopK:      1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].Text).To(Equal("cats are great"))
			Expect(hits[0].Similarity).To(BeNumerically(">", 0.9))
		})

		It("applies MinScore", func() {
			hits, err := store.Search(ctx, memory.SearchQuery{
				Embedding: []float32{0, 0, 1},
				UserID:    "u1",
				TopK:      10,
				MinScore:  0.5,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].Kind).To(Equal(memory.KindFact))
		})

		It("breaks similarity ties by recency", func() {
			embedder.Set("cats again", []float32{1, 0, 0})
			fake.Advance(time.Hour)
			_, err := store.Put(ctx, turn("cats again", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())

			hits, err := store.Search(ctx, memory.SearchQuery{
				Embedding: []float32{1, 0, 0},
				UserID:    "u1",
				Kind:      memory.KindTurn,
				TopK:      2,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits[0].Text).To(Equal("cats again"))
			Expect(hits[1].Text).To(Equal("cats are great"))
		})

		It("returns an empty slice for an unknown user", func() {
			hits, err := store.Search(ctx, memory.SearchQuery{Embedding: []float32{1, 0, 0}, UserID: "nobody", TopK: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).NotTo(BeNil())
			Expect(hits).To(BeEmpty())
		})

		It("distinguishes outages from empty results", func() {
			driver.SetDown(true)
			_, err := store.Search(ctx, memory.SearchQuery{Embedding: []float32{1, 0, 0}, UserID: "u1", TopK: 5})
			Expect(errors.Is(err, memory.ErrStoreUnavailable)).To(BeTrue())
		})
	})

	Describe("Recent", func() {
		It("returns the newest turns in chronological order", func() {
			for _, t := range []string{"first", "second", "third"} {
				_, err := store.Put(ctx, turn(t, memory.RoleUser))
				Expect(err).NotTo(HaveOccurred())
				fake.Advance(time.Second)
			}

			recent, err := store.Recent(ctx, "u1", "", memory.KindTurn, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(recent).To(HaveLen(2))
			Expect(recent[0].Text).To(Equal("second"))
			Expect(recent[1].Text).To(Equal("third"))
		})
	})

	Describe("Forget and DeleteAll", func() {
		BeforeEach(func() {
			_, err := store.Put(ctx, fact("user.name", "Sam"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Put(ctx, fact("user.city", "Lisbon"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Put(ctx, turn("hello", memory.RoleUser))
			Expect(err).NotTo(HaveOccurred())
		})

		It("forgets one fact by its normalized key", func() {
			Expect(store.Forget(ctx, "u1", "Name")).To(Succeed())

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].FactKey).To(Equal("user.city"))
			Expect(publisher.types()).To(ContainElement(eventstream.EventTypeFactForgotten))
		})

		It("deletes every record idempotently", func() {
			Expect(store.DeleteAll(ctx, "u1")).To(Succeed())
			Expect(store.DeleteAll(ctx, "u1")).To(Succeed())

			facts, err := store.Facts(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())

			turns, err := store.Recent(ctx, "u1", "", memory.KindTurn, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(BeEmpty())
			Expect(publisher.types()).To(ContainElement(eventstream.EventTypeUserReset))
		})
	})
})

var _ = DescribeTable("NormalizeFactKey",
	func(in, want string) {
		Expect(memory.NormalizeFactKey(in)).To(Equal(want))
	},
	Entry("already normalized", "user.name", "user.name"),
	Entry("case and space", "  User.Name ", "user.name"),
	Entry("no namespace", "Occupation", "user.occupation"),
	Entry("inner whitespace", "favorite  color", "user.favorite_color"),
	Entry("other namespace", "pet.name", "pet.name"),
	Entry("empty", "   ", ""),
)
