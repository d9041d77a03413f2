package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/papercomputeco/chatty/pkg/platform"
)

var _ platform.Messenger = (*Messenger)(nil)

var _ = Describe("Messenger", func() {
	var (
		m        *Messenger
		mu       sync.Mutex
		received []platform.Inbound
	)

	textEvent := func(sender, room, body string, at time.Time) *event.Event {
		return &event.Event{
			Sender:    id.UserID(sender),
			RoomID:    id.RoomID(room),
			Type:      event.EventMessage,
			Timestamp: at.UnixMilli(),
			Content: event.Content{Parsed: &event.MessageEventContent{
				MsgType: event.MsgText,
				Body:    body,
			}},
		}
	}

	BeforeEach(func() {
		var err error
		m, err = New(Config{
			Homeserver:  "http://127.0.0.1:1",
			UserID:      "@chatty:example.org",
			AccessToken: "token",
			Rooms:       []string{"!home:example.org"},
		})
		Expect(err).NotTo(HaveOccurred())

		received = nil
		m.handler = func(_ context.Context, msg platform.Inbound) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, msg)
		}
		m.startedAt = time.Now().Add(-time.Minute)
	})

	It("requires credentials", func() {
		_, err := New(Config{Homeserver: "http://localhost"})
		Expect(err).To(HaveOccurred())
	})

	It("converts text messages into Inbound", func() {
		at := time.Now().Truncate(time.Millisecond)
		m.handleMessage(context.Background(), textEvent("@sam:example.org", "!home:example.org", "hi there", at))

		Expect(received).To(HaveLen(1))
		Expect(received[0]).To(Equal(platform.Inbound{
			Platform:   "matrix",
			UserID:     "@sam:example.org",
			Handle:     "!home:example.org",
			UserName:   "sam",
			Text:       "hi there",
			ReceivedAt: at,
		}))
	})

	It("ignores its own messages, other rooms, notices and replayed history", func() {
		now := time.Now()
		m.handleMessage(context.Background(), textEvent("@chatty:example.org", "!home:example.org", "echo", now))
		m.handleMessage(context.Background(), textEvent("@sam:example.org", "!elsewhere:example.org", "hi", now))
		m.handleMessage(context.Background(), textEvent("@sam:example.org", "!home:example.org", "old", now.Add(-time.Hour)))

		notice := textEvent("@sam:example.org", "!home:example.org", "fyi", now)
		notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
		m.handleMessage(context.Background(), notice)

		Expect(received).To(BeEmpty())
	})

	Describe("Send", func() {
		It("puts an m.room.message event", func() {
			var (
				path string
				body map[string]any
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				_ = json.NewDecoder(r.Body).Decode(&body)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"event_id":"$abc"}`))
			}))
			DeferCleanup(server.Close)

			sender, err := New(Config{Homeserver: server.URL, UserID: "@chatty:example.org", AccessToken: "token"})
			Expect(err).NotTo(HaveOccurred())

			Expect(sender.Send(context.Background(), "!home:example.org", "hello Sam")).To(Succeed())
			Expect(path).To(ContainSubstring("/send/m.room.message/"))
			Expect(strings.Contains(path, "!home:example.org") || strings.Contains(path, "%21home")).To(BeTrue())
			Expect(body).To(HaveKeyWithValue("body", "hello Sam"))
		})

		It("wraps send errors as delivery failures", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
			}))
			DeferCleanup(server.Close)

			sender, err := New(Config{Homeserver: server.URL, UserID: "@chatty:example.org", AccessToken: "token"})
			Expect(err).NotTo(HaveOccurred())

			err = sender.Send(context.Background(), "!home:example.org", "hello")
			Expect(errors.Is(err, platform.ErrDeliveryFailure)).To(BeTrue())
		})
	})
})
