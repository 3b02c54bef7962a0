package orchestrator

import (
	"fmt"
	"strings"

	"github.com/panelmind/panelmind/internal/llm"
	"github.com/panelmind/panelmind/internal/personas"
	"github.com/panelmind/panelmind/internal/storage"
	"github.com/panelmind/panelmind/internal/vectordb"
)

const clarificationText = "Could you say a bit more about what you're working on? A sentence or two about your project and where you're stuck helps the panel give useful advice."

const expandInstruction = "Please expand on your previous answer with more depth and concrete detail."

const maxTitleLen = 60

// clarify returns refinement suggestions when the input is too thin to
// dispatch, or nil when the turn can proceed.
func clarify(input string) []string {
	trimmed := strings.TrimSpace(input)
	words := strings.Fields(trimmed)

	vague := len(words) < 3
	if !vague {
		switch strings.ToLower(strings.TrimRight(trimmed, ".!?")) {
		case "hi there", "hello there", "can you help", "can you help me",
			"i need help", "help me please", "what can you do":
			vague = true
		}
	}
	if !vague {
		return nil
	}

	return []string{
		"Describe your project and what stage it is at",
		"Ask about a specific methodological decision you are facing",
		"Share what you have tried so far and where you got stuck",
	}
}

// deriveTitle names a session after its first user message.
func deriveTitle(input string) string {
	title := strings.Join(strings.Fields(input), " ")
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		title = strings.TrimSpace(string(runes[:maxTitleLen])) + "…"
	}
	if title == "" {
		title = "New Chat"
	}
	return title
}

// buildSystemPrompt combines a persona's prompt with retrieved document
// context.
func buildSystemPrompt(persona personas.Persona, results []vectordb.Result) string {
	var sb strings.Builder
	sb.WriteString(persona.SystemPrompt)

	if len(results) > 0 {
		sb.WriteString("\n\nExcerpts from the user's uploaded documents, most relevant first. Ground your advice in them where they apply:\n")
		for i, r := range results {
			fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, strings.TrimSpace(r.Chunk.Content))
		}
	}
	return sb.String()
}

// buildReplyPrompt frames a one-on-one follow-up with a single persona.
func buildReplyPrompt(persona personas.Persona) string {
	return persona.SystemPrompt +
		"\n\nThe user is following up on one of your earlier answers in this conversation. Respond directly to their follow-up; do not restate your whole previous answer."
}

// buildExpandPrompt asks a persona to elaborate on one of its answers.
func buildExpandPrompt(persona personas.Persona, original string) string {
	return persona.SystemPrompt +
		"\n\nYou previously answered:\n\n" + original +
		"\n\nThe user wants a deeper treatment of that answer."
}

// toLLMHistory flattens the session log into provider messages. Advisor
// answers keep persona attribution inline so the model can tell the panel
// voices apart; bookkeeping variants are skipped.
func toLLMHistory(messages []storage.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Type {
		case storage.MessageUser:
			out = append(out, llm.Message{Role: "user", Content: m.Content})
		case storage.MessageAdvisor:
			content := m.Content
			if m.PersonaID != "" {
				content = "[" + m.PersonaID + "] " + content
			}
			out = append(out, llm.Message{Role: "assistant", Content: content})
		}
	}
	return out
}

// toRAGSources records which chunks grounded an advisor answer.
func toRAGSources(results []vectordb.Result) []storage.RAGSource {
	if len(results) == 0 {
		return nil
	}
	out := make([]storage.RAGSource, len(results))
	for i, r := range results {
		out[i] = storage.RAGSource{
			DocumentID: r.Chunk.DocumentID,
			ChunkID:    r.Chunk.ID,
			Score:      r.Score,
		}
	}
	return out
}
