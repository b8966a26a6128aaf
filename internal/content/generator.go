// Package content builds the file body and commit message of a scheduled commit.
package content

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// markerTimeFormat is the timestamp layout written into marker lines.
const markerTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrNoPhrases indicates a rule without commit phrases.
var ErrNoPhrases = errors.New("content: no commit phrases")

// IntSource yields uniformly distributed values in [0, n).
type IntSource interface {
	IntN(n int) int
}

// Result is the output of one generation.
type Result struct {
	Body    string // New file content.
	Phrase  string // Phrase chosen for this commit.
	Message string // Message sent upstream, phrase plus attribution.
}

// Generator appends a marker line to the existing file content.
type Generator struct {
	source      IntSource
	now         func() time.Time
	attribution string
}

// NewGenerator builds a Generator. now defaults to time.Now.
func NewGenerator(source IntSource, now func() time.Time, attribution string) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{source: source, now: now, attribution: strings.TrimSpace(attribution)}
}

// Generate picks one phrase uniformly and appends "<!-- phrase - timestamp -->" to existing.
// Empty existing content is valid and yields a new file.
func (g *Generator) Generate(phrases []string, existing string) (Result, error) {
	candidates := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		if trimmed := strings.TrimSpace(phrase); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoPhrases
	}

	phrase := candidates[g.source.IntN(len(candidates))]
	timestamp := g.now().UTC().Format(markerTimeFormat)
	body := fmt.Sprintf("%s\n<!-- %s - %s -->\n", existing, sanitizeMarker(phrase), timestamp)

	return Result{
		Body:    body,
		Phrase:  phrase,
		Message: g.Message(phrase),
	}, nil
}

// Message returns the upstream commit message for phrase.
func (g *Generator) Message(phrase string) string {
	if g.attribution == "" {
		return phrase
	}
	return phrase + "\n\n" + g.attribution
}

// sanitizeMarker keeps a phrase from closing the HTML comment early.
func sanitizeMarker(phrase string) string {
	phrase = strings.ReplaceAll(phrase, "\n", " ")
	return strings.ReplaceAll(phrase, "--", "- -")
}
