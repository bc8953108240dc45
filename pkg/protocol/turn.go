package protocol

// Turn roles carried on the wire and in session transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance within a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the roles the relay accepts
// in client-supplied history.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
