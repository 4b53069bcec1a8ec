package conversation

// DefaultBudget is the character budget used when none is configured.
const DefaultBudget = 20000

// Compact returns a copy of c trimmed to roughly budget characters.
//
// The preamble (c[0]) is always kept and never counted. Messages after it are
// taken newest first while the weight accumulated so far has not exceeded
// budget, so the result may overshoot by at most one message and the newest
// message always survives, even with a zero budget. Within the kept suffix
// only the newest status snapshot is retained. Order is never changed.
func Compact(c Conversation, budget int) Conversation {
	if len(c) <= 1 {
		return c.Clone()
	}
	if budget < 0 {
		budget = 0
	}

	// newest first
	kept := make([]Message, 0, len(c)-1)
	total := 0
	for i := len(c) - 1; i >= 1; i-- {
		if len(kept) > 0 && total > budget {
			break
		}
		total += c[i].Weight()
		kept = append(kept, c[i])
	}

	kept = dropStaleStatus(kept)

	out := make(Conversation, 0, len(kept)+1)
	out = append(out, c[0])
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

// dropStaleStatus filters a newest-first slice so that only its first status
// message survives.
func dropStaleStatus(newestFirst []Message) []Message {
	pos := -1
	for i, m := range newestFirst {
		if m.IsStatus() {
			pos = i
			break
		}
	}
	if pos < 0 {
		return newestFirst
	}
	out := newestFirst[:pos+1]
	for _, m := range newestFirst[pos+1:] {
		if !m.IsStatus() {
			out = append(out, m)
		}
	}
	return out
}
