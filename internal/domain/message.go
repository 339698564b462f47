package domain

// MessageType discriminates the message payload variants. Construction and
// serialization must handle every variant; anything else is a validation error.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageAI     MessageType = "ai"
	MessageSystem MessageType = "system"
)

// SystemSender is the sender id recorded on system messages.
const SystemSender = "system"

// MaxContentLength caps text message content.
const MaxContentLength = 10000

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageAI, MessageSystem:
		return true
	}
	return false
}

// FileRef points at an externally stored upload; the core never touches the
// bytes.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// AIMetadata records how an AI message was generated.
type AIMetadata struct {
	Query            string `json:"query"`
	GenerationTimeMS int64  `json:"generationTimeMs"`
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
}

// Message is the persisted timeline record. After creation only Reactions,
// Readers and IsDeleted change, each idempotently.
type Message struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"room"`
	Type      MessageType         `json:"type"`
	Content   string              `json:"content"`
	Sender    string              `json:"sender"`
	Timestamp int64               `json:"timestamp"` // unix milliseconds
	IsDeleted bool                `json:"isDeleted"`
	File      *FileRef            `json:"file,omitempty"`
	AIType    string              `json:"aiType,omitempty"`
	Metadata  *AIMetadata         `json:"metadata,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji -> user ids
	Readers   []string            `json:"readers,omitempty"`
}

// HasReader reports whether userID already acknowledged the message.
func (m *Message) HasReader(userID string) bool {
	for _, r := range m.Readers {
		if r == userID {
			return true
		}
	}
	return false
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == userID {
			return true
		}
	}
	return false
}
