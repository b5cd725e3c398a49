package messaging

// MessageType discriminates the outbound payload shapes the transport accepts.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeButtons  MessageType = "buttons"
	MessageTypeDocument MessageType = "document"
)

// Button is one option in an interactive prompt.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is a single outbound message for the counterpart. Exactly the
// fields matching Type are set.
type Message struct {
	Type MessageType `json:"type"`

	Text string `json:"text,omitempty"`

	Prompt  string   `json:"prompt,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`

	DocumentURL string `json:"document_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Text builds a plain text message.
func Text(body string) Message {
	return Message{Type: MessageTypeText, Text: body}
}

// ButtonPrompt builds an interactive yes/no style prompt.
func ButtonPrompt(prompt string, buttons ...Button) Message {
	return Message{Type: MessageTypeButtons, Prompt: prompt, Buttons: buttons}
}

// Document builds a file attachment message.
func Document(url, fileName, caption string) Message {
	return Message{Type: MessageTypeDocument, DocumentURL: url, FileName: fileName, Caption: caption}
}
