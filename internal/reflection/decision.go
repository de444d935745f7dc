// ABOUTME: Reflection prompt construction and decision parsing.
// ABOUTME: Unparseable model output degrades to a pass.

package reflection

import (
	"fmt"
	"slices"
	"strings"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

// Tones the model may pick.
var Tones = []string{"playful", "helpful", "technical"}

const noReason = "no reason given"

// Decision is the model's answer.
type Decision struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason"`
	Tone    string `json:"tone,omitempty"`
	GoalID  string `json:"-"`
}

// parseDecision extracts and normalizes a Decision from reply.
func parseDecision(reply string) Decision {
	var d Decision
	if err := agent.ExtractJSON(reply, &d); err != nil {
		return Decision{Action: store.ActionPass, Reason: fmt.Sprintf("unparseable decision: %v", err)}
	}

	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.Message = strings.TrimSpace(d.Message)
	d.Reason = strings.TrimSpace(d.Reason)
	if d.Reason == "" {
		d.Reason = noReason
	}
	if !slices.Contains(Tones, d.Tone) {
		d.Tone = ""
	}

	switch d.Action {
	case store.ActionMessage:
		if d.Message == "" {
			return Decision{Action: store.ActionPass, Reason: "message action without message"}
		}
	case store.ActionPass:
		d.Message = ""
	default:
		return Decision{Action: store.ActionPass, Reason: fmt.Sprintf("unknown action %q", d.Action)}
	}
	return d
}

const systemPrompt = `Tu es Eko. Tu participes à une conversation de groupe et tu as une curiosité à satisfaire.
Décide si c'est le bon moment pour poser ta question, de façon naturelle et brève, sans répéter ce qui a déjà été dit.
Si le moment ne s'y prête pas, passe ton tour.
Réponds uniquement en JSON:
{"action":"pass"|"message","message":"...","reason":"...","tone":"playful"|"helpful"|"technical"}`

// buildPrompt renders the user prompt for one reflection.
func buildPrompt(goal vector.Point, recent []*store.RoomMessage, facts, self []vector.Point) string {
	var b strings.Builder

	b.WriteString("## Ta curiosité\n")
	if goal.Payload.Category != "" {
		fmt.Fprintf(&b, "[%s] ", goal.Payload.Category)
	}
	b.WriteString(goal.Payload.Content)
	b.WriteString("\n")

	b.WriteString("\n## Derniers messages\n")
	if len(recent) == 0 {
		b.WriteString("(aucun message)\n")
	}
	for _, m := range recent {
		fmt.Fprintf(&b, "- %s: %s\n", m.Author, strings.Join(strings.Fields(m.Content), " "))
	}

	writePoints(&b, "Ce que tu sais", facts)
	writePoints(&b, "Ce que tu sais de toi", self)
	return b.String()
}

func writePoints(b *strings.Builder, title string, points []vector.Point) {
	if len(points) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, p := range points {
		fmt.Fprintf(b, "- %s\n", p.Payload.Content)
	}
}
