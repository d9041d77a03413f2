// Package console provides a stdin/stdout messenger for local chat sessions.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/cliui"
	"github.com/papercomputeco/chatty/pkg/platform"
)

// Name is the platform name used in allowlists and idle state.
const Name = "console"

// Handle is the single delivery handle of a console session.
const Handle = "tty"

// Config configures a console messenger.
type Config struct {
	In  io.Reader
	Out io.Writer

	UserID        string
	UserName      string
	AssistantName string

	// Markdown renders replies through glamour. It is ignored when Out is
	// not a terminal.
	Markdown bool

	Logger *zap.Logger
}

// Messenger implements platform.Messenger over a reader and a writer.
type Messenger struct {
	config  Config
	palette cliui.Palette
	render  bool
	logger  *zap.Logger

	mu sync.Mutex
}

func New(c Config) *Messenger {
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.AssistantName == "" {
		c.AssistantName = "chatty"
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Messenger{
		config:  c,
		palette: cliui.NewPalette(c.Out),
		render:  c.Markdown && cliui.IsTerminal(c.Out),
		logger:  logger,
	}
}

func (m *Messenger) Platform() string {
	return Name
}

// Start reads one message per line and hands each to handler before prompting
// for the next. It returns at end of input or when ctx is cancelled.
func (m *Messenger) Start(ctx context.Context, handler platform.Handler) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.config.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	m.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						return fmt.Errorf("reading console input: %w", err)
					}
				default:
				}
				return nil
			}

			text := strings.TrimSpace(line)
			if text != "" {
				handler(ctx, platform.Inbound{
					Platform:   Name,
					UserID:     m.config.UserID,
					Handle:     Handle,
					UserName:   m.config.UserName,
					Text:       text,
					ReceivedAt: time.Now(),
				})
			}
			m.prompt()
		}
	}
}

// Send prints a reply. The handle is ignored since a console has one user.
func (m *Messenger) Send(_ context.Context, _, text string) error {
	body := text
	if m.render {
		if rendered, err := cliui.RenderMarkdown(text); err == nil {
			body = strings.TrimSpace(rendered)
		} else {
			m.logger.Debug("markdown render failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := fmt.Fprintf(m.config.Out, "%s %s\n", m.palette.Assistant.Render(m.config.AssistantName+">"), body)
	if err != nil {
		return fmt.Errorf("%w: console write: %v", platform.ErrDeliveryFailure, err)
	}
	return nil
}

// Notice prints a dimmed status line.
func (m *Messenger) Notice(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.config.Out, m.palette.Notice.Render(text))
}

func (m *Messenger) prompt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.config.Out, "%s ", m.palette.User.Render("you>"))
}

func (m *Messenger) Close() error {
	return nil
}
