// Package composer assembles the prompts sent to the answer models.
package composer

import (
	"strings"

	"github.com/kalambet/campusdesk/internal/memory"
)

// DefaultSystemPrompt is the fixed instruction block shared by both model tiers.
const DefaultSystemPrompt = `You are the AI assistant of the University of Balamand (UOB) Koura Campus. You help students, visitors and staff with clear, accurate and short answers about the university, and nothing else.

Each request you receive is laid out as:
PREVIOUS CONVERSATION: the chat so far with this user.
CONTEXT: factual passages retrieved about UOB.

Rules for answering
Use only the CONTEXT: every UOB fact you state must come from the CONTEXT section.
Never speculate: do not guess and do not draw on outside or general knowledge when the CONTEXT is silent.
Missing facts: when the CONTEXT does not hold the answer, reply exactly: "I'm sorry, but I don't have that specific information in my knowledge base."
Conflicts: when CONTEXT passages disagree or are unclear, say so instead of picking one. When the PREVIOUS CONVERSATION disagrees with the CONTEXT, trust the CONTEXT.
Conversation flow: use the PREVIOUS CONVERSATION to follow the thread and to answer questions about the chat itself.

Style
Keep answers to two to four short sentences.
Campus visits: if the user wants to visit, point them only to the 'Submit Visitor Request' form.
Scope: politely decline anything unrelated to UOB or this conversation.
Stay friendly and professional.`

// NoHistoryPlaceholder stands in for an empty transcript.
const NoHistoryPlaceholder = "(no previous conversation)"

// Role values understood by the primary model.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one role-tagged entry of a multi-turn request.
type Message struct {
	Role string
	Text string
}

// Composer builds prompts around a fixed system prompt.
type Composer struct {
	SystemPrompt string
}

// New creates a Composer. An empty systemPrompt selects DefaultSystemPrompt.
func New(systemPrompt string) *Composer {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Composer{SystemPrompt: systemPrompt}
}

// FinalPrompt renders system prompt, optional transcript, context and question.
// The PREVIOUS CONVERSATION section is omitted when transcript is empty.
func (c *Composer) FinalPrompt(question, context, transcript string) string {
	var sb strings.Builder
	sb.WriteString(c.SystemPrompt)
	sb.WriteString("\n\n")
	if transcript != "" {
		sb.WriteString("PREVIOUS CONVERSATION:\n")
		sb.WriteString(transcript)
		sb.WriteString("\n\n---\n\n")
	}
	sb.WriteString("CONTEXT:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nUSER QUESTION:\n")
	sb.WriteString(question)
	return sb.String()
}

// PrimaryMessages maps history to user/model turns and appends one final
// user message carrying the full prompt. History is not repeated inside it.
func (c *Composer) PrimaryMessages(question, context string, history []memory.Turn) []Message {
	msgs := make([]Message, 0, len(history)+1)
	for _, t := range history {
		role := RoleModel
		if t.Sender == memory.User {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Text: t.Message})
	}
	return append(msgs, Message{Role: RoleUser, Text: c.FinalPrompt(question, context, "")})
}

// FallbackPrompt embeds the history as a transcript in a single prompt.
func (c *Composer) FallbackPrompt(question, context string, history []memory.Turn) string {
	return c.FinalPrompt(question, context, Transcript(history))
}

// Transcript renders "User: ..." and "AI: ..." lines, or NoHistoryPlaceholder.
func Transcript(history []memory.Turn) string {
	if len(history) == 0 {
		return NoHistoryPlaceholder
	}
	lines := make([]string, len(history))
	for i, t := range history {
		prefix := "AI"
		if t.Sender == memory.User {
			prefix = "User"
		}
		lines[i] = prefix + ": " + t.Message
	}
	return strings.Join(lines, "\n")
}
