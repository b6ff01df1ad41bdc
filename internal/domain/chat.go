package domain

// Chat roles
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a coach chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CoachChatPrompt is the system prompt for free-form coaching chat
const CoachChatPrompt = "You are an experienced interview coach helping users practice for job interviews. " +
	"Provide constructive feedback, ask relevant follow-up questions, and help users improve their interview skills. " +
	"Be supportive but honest in your assessments."
