package feedback

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
)

const systemPrompt = "You are an expert interview coach. Analyze interview responses and provide constructive, actionable feedback. Always answer with a single JSON object."

// maxContextChars bounds each reference document quoted in the prompt
const maxContextChars = 1200

// BuildPrompt assembles the generation prompt from the question, the full
// transcript and the retrieved reference material
func BuildPrompt(in Input, docs []domain.RetrievalDocument) gateway.Prompt {
	var b strings.Builder
	b.WriteString("Analyze this interview response and provide detailed feedback.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", in.Question)
	fmt.Fprintf(&b, "Response: %s\n\n", in.Transcript)
	if in.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Duration: %.0f seconds\n\n", in.DurationSeconds)
	}

	if len(docs) > 0 {
		b.WriteString("Reference material (use it to judge technical accuracy):\n")
		for i, d := range docs {
			text := strings.TrimSpace(d.Text)
			if len(text) > maxContextChars {
				text = truncate(text, maxContextChars) + "..."
			}
			fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Score each dimension from 0 to 100 and list the top 3 strengths and the top 3 areas for improvement.
Respond with JSON using exactly these keys:
{"communication_score": number, "technical_score": number, "clarity_score": number, "strengths": [string], "improvements": [string], "feedback": string}`)

	return gateway.Prompt{System: systemPrompt, User: b.String()}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
