package a2a

import (
	"strings"

	"github.com/cohesivestack/valgo"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

/*
Message represents all non-artifact communication between client & agent.
*/
type Message struct {
	Role     string         `json:"role"` // "user" or "agent"
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewTextMessage(role string, text string) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeText, Text: text},
		},
	}
}

func NewDataMessage(role string, data map[string]any) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeData, Data: data},
		},
	}
}

func NewFileMessage(role string, file *FilePart) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeFile, File: file},
		},
	}
}

/*
Validate checks the role discriminator and every part of the message.
*/
func (msg *Message) Validate() error {
	val := valgo.Is(valgo.String(msg.Role, "role").InSlice([]string{RoleUser, RoleAgent}))
	val.Is(valgo.Bool(len(msg.Parts) > 0, "parts").EqualTo(true))

	if !val.Valid() {
		return val.Error()
	}

	for i := range msg.Parts {
		if err := msg.Parts[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

/*
String concatenates the text parts of the message, which is what processors
generally want when matching against free text.
*/
func (msg *Message) String() string {
	var texts []string

	for _, part := range msg.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	return strings.Join(texts, " ")
}
