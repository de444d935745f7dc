// ABOUTME: Prompt payload parsing and system prompt composition.
// ABOUTME: The live-context block is rebuilt on every turn and never stored.

package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/micktaiwan/eko/internal/tools"
	"github.com/micktaiwan/eko/internal/vector"
)

// UnknownUser is the user id of prompts that are not JSON.
const UnknownUser = "unknown"

// Prompt is the payload carried in an ipc prompt message.
type Prompt struct {
	From          string `json:"from"`
	Message       string `json:"message"`
	Time          string `json:"time,omitempty"`
	Location      string `json:"location,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// Encode renders p as the JSON string sent to the worker.
func (p Prompt) Encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// ParsePrompt decodes raw. Anything that is not a JSON object with a
// message becomes the message of UnknownUser.
func ParsePrompt(raw string) Prompt {
	var p Prompt
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Message == "" {
		return Prompt{From: UnknownUser, Message: raw}
	}
	if p.From == "" {
		p.From = UnknownUser
	}
	return p
}

const basePrompt = `Tu es Eko, l'assistant de la messagerie. Tu discutes avec les utilisateurs de façon naturelle, brève et chaleureuse.

Mémoire:
- search_memories et get_recent_memories retrouvent ce que tu sais des gens.
- store_memory enregistre un fait durable sur quelqu'un (subjects = les personnes concernées). Utilise ttl pour les faits temporaires.
- search_self, store_self et delete_self gèrent ce que tu sais de toi-même.
- search_goals, store_goal et delete_goal gèrent tes curiosités et objectifs.
- search_notes et get_note lisent les notes des utilisateurs.

Réponse:
- Appelle respond exactement une fois par tour, avec ton message final et une expression.
- Le texte que tu écris hors de respond n'est pas transmis à l'utilisateur.`

// Compose builds the system prompt for one turn. base replaces the
// default persona when non-empty.
func Compose(base string, p Prompt, now time.Time, live []vector.Point) string {
	if base == "" {
		base = basePrompt
	}
	var b strings.Builder
	b.WriteString(base)

	b.WriteString("\n\n## Contexte\n")
	if p.Time != "" {
		fmt.Fprintf(&b, "- Heure du message: %s\n", p.Time)
	}
	fmt.Fprintf(&b, "- Date actuelle: %s\n", now.Format("Monday 2 January 2006 15:04 MST"))
	fmt.Fprintf(&b, "- Interlocuteur: %s\n", p.From)
	if p.Location != "" {
		fmt.Fprintf(&b, "- Position: %s\n", p.Location)
	}
	if p.StatusMessage != "" {
		fmt.Fprintf(&b, "- Statut: %s\n", p.StatusMessage)
	}
	fmt.Fprintf(&b, "- Expressions possibles: %s\n", expressionList())

	if len(live) > 0 {
		b.WriteString("\n## Récents messages publics\n")
		for _, pt := range live {
			author := pt.Payload.Author
			if author == "" {
				author = "?"
			}
			fmt.Fprintf(&b, "- %s: %s\n", author, oneLine(pt.Payload.Content))
		}
	}
	return b.String()
}

func expressionList() string {
	names := make([]string, len(tools.Expressions))
	for i, e := range tools.Expressions {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
