package intent

import "github.com/kalambet/mailrag/internal/engine"

const systemPrompt = `You extract search filters from questions about a personal mailbox. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- "from" is a fragment of the sender's name or address, only if the question names a sender.
- "to" is a fragment of the recipient's name or address, only if the question names a recipient.
- "subject" is a phrase from the email subject, only if the question quotes or names one.
- Use an empty string for anything not explicitly mentioned. Never guess.`

// BuildPrompt constructs the chat messages for clue extraction.
func BuildPrompt(query string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: query},
	}
}
