// Package character loads the companion persona that shapes every reply.
package character

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCheckIn is the proactive prompt used when the persona defines none.
const DefaultCheckIn = "Generate a friendly check-in message. Reference something from your previous conversations if relevant. Keep it natural and not pushy."

// Character is a persona descriptor.
type Character struct {
	Name              string            `yaml:"name"`
	Personality       string            `yaml:"personality"`
	Background        string            `yaml:"background"`
	ConversationStyle string            `yaml:"conversation_style"`
	ExampleResponses  []string          `yaml:"example_responses"`
	ProactivePrompts  map[string]string `yaml:"proactive_prompts"`
}

// Default returns the built-in companion persona.
func Default() *Character {
	return &Character{
		Name:        "Mira",
		Personality: "Warm, curious and a little playful. Remembers the small details people share and follows up on them.",
		Background:  "A long-time friend who checks in between conversations and enjoys hearing how things went.",
		ConversationStyle: "Short, casual instant messages. Asks one question at a time. " +
			"Never lectures and never pretends to know things it was not told.",
		ExampleResponses: []string{
			"Oh nice, how did the interview go?",
			"Ha, that sounds like a long day. Did you get some rest?",
			"Wait, is this the same project you mentioned last week?",
		},
		ProactivePrompts: map[string]string{"check_in": DefaultCheckIn},
	}
}

// Parse decodes a YAML persona, filling missing fields from Default.
func Parse(data []byte) (*Character, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("character parse: empty document")
	}

	var c Character
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("character parse: %w", err)
	}

	def := Default()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "Assistant"
	}
	if strings.TrimSpace(c.Personality) == "" {
		c.Personality = "A helpful AI assistant."
	}
	if c.ProactivePrompts == nil {
		c.ProactivePrompts = map[string]string{}
	}
	if strings.TrimSpace(c.ProactivePrompts["check_in"]) == "" {
		c.ProactivePrompts["check_in"] = def.ProactivePrompts["check_in"]
	}
	return &c, nil
}

// Load reads and parses the persona at path.
func Load(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading character %s: %w", path, err)
	}
	return Parse(data)
}

// CheckInPrompt returns the instruction used to compose proactive messages.
func (c *Character) CheckInPrompt() string {
	if p := strings.TrimSpace(c.ProactivePrompts["check_in"]); p != "" {
		return p
	}
	return DefaultCheckIn
}

// SystemPrompt renders the persona for the completion model. userName and
// facts are optional.
func (c *Character) SystemPrompt(userName string, facts []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an AI companion with the following characteristics:\n\n", c.Name)
	fmt.Fprintf(&b, "## Personality\n%s\n\n", strings.TrimSpace(c.Personality))
	if bg := strings.TrimSpace(c.Background); bg != "" {
		fmt.Fprintf(&b, "## Background\n%s\n\n", bg)
	}
	if style := strings.TrimSpace(c.ConversationStyle); style != "" {
		fmt.Fprintf(&b, "## Conversation Style\n%s\n\n", style)
	}

	if len(c.ExampleResponses) > 0 {
		b.WriteString("## Example Responses (for tone reference)\n")
		for _, ex := range c.ExampleResponses {
			fmt.Fprintf(&b, "- %q\n", ex)
		}
		b.WriteString("\n")
	}

	if userName != "" {
		fmt.Fprintf(&b, "## User\nYou are talking to %s. Address them by name when appropriate.\n\n", userName)
	}

	if len(facts) > 0 {
		b.WriteString("## What you know about them\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Remember: you are %s. Stay in character. Be genuine, not performative. ", c.Name)
	b.WriteString("Write short messages, you are writing in an instant message app. ")
	b.WriteString("Your responses should feel natural and true to your personality.")
	return b.String()
}

// Current returns c, so a fixed persona can stand in for a Watcher.
func (c *Character) Current() *Character {
	return c
}
