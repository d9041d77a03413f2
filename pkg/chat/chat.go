// Package chat orchestrates a conversation turn: it recalls memories, asks the
// completion model for a reply, stores the exchange and schedules fact
// extraction.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/character"
	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/retrieval"
	"github.com/papercomputeco/chatty/pkg/retry"
	"github.com/papercomputeco/chatty/pkg/worker"
)

// Apology is sent when the completion model cannot produce a reply.
const Apology = "Sorry, I had trouble processing that. Could you try again?"

// ErrUnauthorized is returned for senders missing from the allowlist.
var ErrUnauthorized = errors.New("unauthorized sender")

const (
	DefaultTurnBudget     = 5
	DefaultFactBudget     = 5
	DefaultRecentTurns    = 10
	DefaultExtractWindow  = 6
	DefaultProactiveFacts = 10
	DefaultProactiveTurns = 5
	DefaultContextChars   = 24000
	DefaultMaxTokens      = 1024
	DefaultTemperature    = 0.7
	DefaultTimeout        = 60 * time.Second

	proactiveSnippetChars = 200
)

// Memory is the subset of memory.Store the orchestrator uses.
type Memory interface {
	Put(ctx context.Context, rec memory.Record) (memory.Record, error)
	Recent(ctx context.Context, userID, platform string, kind memory.Kind, limit int) ([]memory.Record, error)
	Facts(ctx context.Context, userID string) ([]memory.Record, error)
	Forget(ctx context.Context, userID, factKey string) error
	DeleteAll(ctx context.Context, userID string) error
}

// Retriever recalls memories relevant to a message.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error)
}

// ActivityTracker is the proactive scheduler's write side.
type ActivityTracker interface {
	RecordActivity(ctx context.Context, userID, platform, handle string, at time.Time) error
	Reset(ctx context.Context, userID string) error
}

// ExtractionQueue accepts background fact extraction jobs.
type ExtractionQueue interface {
	Enqueue(job worker.Job) bool
}

// Sender delivers replies.
type Sender interface {
	Send(ctx context.Context, platform, handle, text string) error
}

// Persona supplies the current character.
type Persona interface {
	Current() *character.Character
}

// Config configures an Orchestrator. Budgets left at zero take the defaults.
type Config struct {
	Completer llm.Completer
	Memory    Memory
	Retriever Retriever

	// Activity is optional. Without it no idle state is tracked.
	Activity ActivityTracker

	// Extractions is optional. Without it no facts are extracted.
	Extractions ExtractionQueue

	// Sender is optional. Without it HandleMessage only returns the reply.
	Sender Sender

	Allowlist *platform.Allowlist
	Character Persona

	TurnBudget     int
	FactBudget     int
	RecentTurns    int
	ExtractWindow  int
	ProactiveFacts int
	ProactiveTurns int

	// ContextChars bounds the prompt size passed to the model.
	ContextChars int

	MaxTokens   int
	Temperature float64

	// Tools lets the model search memory mid-reply when the completer
	// supports tool calling.
	Tools bool

	// Timeout bounds each completion. The completion is not cancelled
	// with the caller's context.
	Timeout time.Duration

	// Retry controls reply delivery retries.
	Retry retry.Config

	Clock  clock.Clock
	Logger *zap.Logger
}

// Reply is the outcome of handling one message.
type Reply struct {
	Text string

	// Degraded is set when the apology was sent instead of a model reply.
	Degraded bool

	// Command is set when the message was a slash command.
	Command bool

	// Delivered is set once the reply reached the sender.
	Delivered bool
}

// Orchestrator handles messages for every platform.
type Orchestrator struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	locks userLocks
}

// NewOrchestrator validates c and applies defaults.
func NewOrchestrator(c Config) (*Orchestrator, error) {
	if c.Completer == nil || c.Memory == nil || c.Retriever == nil {
		return nil, errors.New("orchestrator requires a completer, a memory store and a retriever")
	}
	if c.Character == nil {
		c.Character = character.Default()
	}

	setDefault(&c.TurnBudget, DefaultTurnBudget)
	setDefault(&c.FactBudget, DefaultFactBudget)
	setDefault(&c.RecentTurns, DefaultRecentTurns)
	setDefault(&c.ExtractWindow, DefaultExtractWindow)
	setDefault(&c.ProactiveFacts, DefaultProactiveFacts)
	setDefault(&c.ProactiveTurns, DefaultProactiveTurns)
	setDefault(&c.ContextChars, DefaultContextChars)
	setDefault(&c.MaxTokens, DefaultMaxTokens)
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig
	}

	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c.Retry.Logger = logger

	return &Orchestrator{cfg: c, clock: clk, logger: logger}, nil
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Facts lists what is remembered about a user, newest first.
func (o *Orchestrator) Facts(ctx context.Context, userID string) ([]memory.Record, error) {
	return o.cfg.Memory.Facts(ctx, userID)
}

// Forget deletes one fact.
func (o *Orchestrator) Forget(ctx context.Context, userID, factKey string) error {
	return o.cfg.Memory.Forget(ctx, userID, factKey)
}

// Reset deletes every memory of a user and their idle state.
func (o *Orchestrator) Reset(ctx context.Context, userID string) error {
	var errs []error
	if err := o.cfg.Memory.DeleteAll(ctx, userID); err != nil {
		errs = append(errs, fmt.Errorf("deleting memories: %w", err))
	}
	if o.cfg.Activity != nil {
		if err := o.cfg.Activity.Reset(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("resetting idle state: %w", err))
		}
	}
	return errors.Join(errs...)
}

// detached returns a context that survives cancellation of ctx but is
// bounded by the completion timeout.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeout)
}

// userLocks hands out one mutex per user. Memory is shared across
// platforms, so the key ignores the platform.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (u *userLocks) lock(key string) func() {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*sync.Mutex)
	}
	m, ok := u.locks[key]
	if !ok {
		m = &sync.Mutex{}
		u.locks[key] = m
	}
	u.mu.Unlock()

	m.Lock()
	return m.Unlock
}
