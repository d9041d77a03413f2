package llm

// TrimToBudget drops the oldest non-system messages until the total text
// length is within maxChars. System messages and the final message are always
// kept. A maxChars of zero or less disables trimming.
func TrimToBudget(messages []Message, maxChars int) []Message {
	if maxChars <= 0 || len(messages) == 0 {
		return messages
	}

	total := 0
	for i := range messages {
		total += len(messages[i].GetText())
	}

	last := len(messages) - 1
	drop := make([]bool, len(messages))
	for i := 0; i < last && total > maxChars; i++ {
		if messages[i].Role == RoleSystem {
			continue
		}
		drop[i] = true
		total -= len(messages[i].GetText())
	}

	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}

// SplitSystem separates system messages, joined by blank lines, from the rest
// of the conversation for providers that take the system prompt separately.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.GetText()
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
