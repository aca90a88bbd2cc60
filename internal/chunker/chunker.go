package chunker

import "strings"

// DefaultBudget caps a chunk at roughly what the model can voice in one
// pass. The runtime caps generation around max_new_tokens=1200, which is
// 10-15 seconds of audio; chunks under ~200 characters stay inside that.
const DefaultBudget = 200

// Chunker splits input text into bounded synthesis units.
type Chunker struct {
	budget int
}

// New returns a chunker with the given character budget. Non-positive
// budgets fall back to DefaultBudget.
func New(budget int) *Chunker {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Chunker{budget: budget}
}

// Split breaks text into ordered chunks, never returning an empty slice.
// Whitespace is normalized, sentences are split on terminal punctuation,
// and sentences over budget are re-split on clause separators and packed
// greedily. An indivisible piece over budget is kept whole; dropping or
// truncating text is never acceptable.
func (c *Chunker) Split(text string) []string {
	text = normalize(text)
	if text == "" {
		return []string{""}
	}

	var chunks []string
	for _, sentence := range splitSentences(text) {
		if len(sentence) <= c.budget {
			chunks = append(chunks, sentence)
			continue
		}
		chunks = c.packClauses(chunks, splitClauses(sentence))
	}

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// packClauses greedily joins clause pieces into the largest chunk that fits
// the budget, flushing whenever the next piece would overflow.
func (c *Chunker) packClauses(chunks []string, parts []string) []string {
	current := ""
	for _, part := range parts {
		if current == "" {
			current = part
			continue
		}
		if len(current)+1+len(part) <= c.budget {
			current = current + " " + part
			continue
		}
		chunks = append(chunks, current)
		current = part
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences splits after '.', '!' or '?' followed by whitespace. The
// terminator stays attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == ' ' {
			sentence := strings.TrimSpace(string(runes[start : i+1]))
			if sentence != "" {
				out = append(out, sentence)
			}
			start = i + 2
			i++
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitClauses splits after ',', ';' or a dash followed by whitespace.
func splitClauses(sentence string) []string {
	var out []string
	start := 0
	runes := []rune(sentence)
	for i := 0; i < len(runes); i++ {
		if !isClauseSep(runes[i]) {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == ' ' {
			part := strings.TrimSpace(string(runes[start : i+1]))
			if part != "" {
				out = append(out, part)
			}
			start = i + 2
			i++
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	if len(out) == 0 {
		return []string{sentence}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClauseSep(r rune) bool {
	return r == ',' || r == ';' || r == '–' || r == '—'
}
