package task

// CallIDs returns the IDs of all tool calls requested by assistant
// messages in the history, in call order.
func CallIDs(history []Message) []string {
	var ids []string
	for _, m := range history {
		for _, c := range m.ToolCalls {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ResultIDs returns the set of tool-call IDs answered by tool messages.
func ResultIDs(history []Message) map[string]bool {
	ids := map[string]bool{}
	for _, m := range history {
		if m.Role == RoleTool && m.ToolCallID != "" {
			ids[m.ToolCallID] = true
		}
	}
	return ids
}

// RepairHistory enforces the tool-call pairing invariant.
//
// Assistant tool calls with no answering tool message are dropped (an
// assistant message left with no calls and no content is removed), and tool
// messages answering no known call are dropped. Correctness of the
// conversation is preferred over fidelity to corrupted state, so repair
// never fails; it returns the repaired history and the number of entries
// changed or removed.
func RepairHistory(history []Message) ([]Message, int) {
	answered := ResultIDs(history)
	known := map[string]bool{}
	for _, id := range CallIDs(history) {
		known[id] = true
	}

	repaired := make([]Message, 0, len(history))
	dropped := 0
	for _, m := range history {
		switch {
		case len(m.ToolCalls) > 0:
			kept := make([]ToolCall, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				if answered[c.ID] {
					kept = append(kept, c)
				}
			}
			if len(kept) < len(m.ToolCalls) {
				dropped++
			}
			if len(kept) == 0 && m.Content == "" {
				continue
			}
			m.ToolCalls = kept
			repaired = append(repaired, m)
		case m.Role == RoleTool:
			if !known[m.ToolCallID] {
				dropped++
				continue
			}
			repaired = append(repaired, m)
		default:
			repaired = append(repaired, m)
		}
	}
	return repaired, dropped
}

// Paired returns true if every tool message references exactly one known
// call and every call has exactly one answering tool message.
func Paired(history []Message) bool {
	answers := map[string]int{}
	for _, m := range history {
		if m.Role == RoleTool {
			answers[m.ToolCallID]++
		}
	}
	calls := map[string]int{}
	for _, id := range CallIDs(history) {
		calls[id]++
	}
	for id, n := range calls {
		if n != 1 || answers[id] != 1 {
			return false
		}
	}
	for id := range answers {
		if calls[id] != 1 {
			return false
		}
	}
	return true
}
