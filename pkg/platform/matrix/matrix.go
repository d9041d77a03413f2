// Package matrix provides a Matrix messenger built on mautrix.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/utils"
)

// Name is the platform name used in allowlists and idle state.
const Name = "matrix"

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// Rooms are joined on start. When empty, messages from any joined room
	// are accepted.
	Rooms []string

	Logger *zap.Logger
}

// Messenger implements platform.Messenger for Matrix.
type Messenger struct {
	client *mautrix.Client
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	handler   platform.Handler
	startedAt time.Time
}

// New creates a Matrix messenger. No network calls are made until Start.
func New(c Config) (*Messenger, error) {
	if c.Homeserver == "" || c.UserID == "" || c.AccessToken == "" {
		return nil, errors.New("matrix requires a homeserver, user id and access token")
	}

	client, err := mautrix.NewClient(c.Homeserver, id.UserID(c.UserID), c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.UserAgent = utils.UserAgent()

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Messenger{
		client: client,
		config: c,
		logger: logger,
	}, nil
}

func (m *Messenger) Platform() string {
	return Name
}

// Start joins the configured rooms and syncs until ctx is cancelled,
// reconnecting with exponential backoff after sync errors.
func (m *Messenger) Start(ctx context.Context, handler platform.Handler) error {
	m.mu.Lock()
	m.handler = handler
	m.startedAt = time.Now()
	m.mu.Unlock()

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix client has no default syncer")
	}
	syncer.OnEventType(event.EventMessage, m.handleMessage)

	for _, roomID := range m.config.Rooms {
		if err := m.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	m.logger.Info("matrix sync starting",
		zap.String("homeserver", m.config.Homeserver),
		zap.String("user_id", m.config.UserID),
	)

	backoff := backoffMin
	for {
		err := m.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}

		m.logger.Error("matrix sync stopped, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// Send delivers a plain text message to a room.
func (m *Messenger) Send(ctx context.Context, handle, text string) error {
	if _, err := m.client.SendText(ctx, id.RoomID(handle), text); err != nil {
		return fmt.Errorf("%w: matrix send to %s: %v", platform.ErrDeliveryFailure, handle, err)
	}
	return nil
}

func (m *Messenger) Close() error {
	m.client.StopSync()
	return nil
}

func (m *Messenger) acceptsRoom(roomID string) bool {
	return len(m.config.Rooms) == 0 || slices.Contains(m.config.Rooms, roomID)
}

// handleMessage converts text messages from other users into Inbound.
func (m *Messenger) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.config.UserID) {
		return
	}

	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}

	if !m.acceptsRoom(evt.RoomID.String()) {
		return
	}

	m.mu.Lock()
	handler, startedAt := m.handler, m.startedAt
	m.mu.Unlock()

	received := time.UnixMilli(evt.Timestamp)
	// The first sync replays room history, which was handled before.
	if received.Before(startedAt) {
		return
	}

	if handler == nil {
		return
	}
	handler(ctx, platform.Inbound{
		Platform:   Name,
		UserID:     evt.Sender.String(),
		Handle:     evt.RoomID.String(),
		UserName:   evt.Sender.Localpart(),
		Text:       msg.Body,
		ReceivedAt: received,
	})
}

func (m *Messenger) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := m.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			m.logger.Warn("join room forbidden, continuing", zap.String("room", roomID.String()))
			return nil
		}
		return err
	}
	return nil
}
