package a2a

import (
	"encoding/base64"

	"github.com/cohesivestack/valgo"
)

/*
Part is a discriminated union over Text, File and Data parts.  We keep it
simple by embedding all optional fields in a single struct – this avoids
heavy custom JSON marshalling logic while remaining spec compliant.

Exactly ONE of Text, File, or Data should be populated according to the
Type field.  Validate enforces this at the protocol boundary.
*/
type Part struct {
	Type PartType `json:"type"`

	// Exactly one of the following should be populated depending on Type.
	Text string         `json:"text,omitempty"`
	File *FilePart      `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// PartType is the discriminator for a Part union.
type PartType string

const (
	PartTypeText PartType = "text"
	PartTypeFile PartType = "file"
	PartTypeData PartType = "data"
)

type FilePart struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    string  `json:"bytes,omitempty"`
	URI      string  `json:"uri,omitempty"`
}

func NewTextPart(text string) Part {
	return Part{
		Type: PartTypeText,
		Text: text,
	}
}

func NewDataPart(data map[string]any) Part {
	return Part{
		Type: PartTypeData,
		Data: data,
	}
}

func NewFilePart(name string, mimeType string, data []byte) Part {
	return Part{
		Type: PartTypeFile,
		File: &FilePart{
			Name:     &name,
			MimeType: &mimeType,
			Bytes:    base64.StdEncoding.EncodeToString(data),
		},
	}
}

/*
Validate performs structural validation of the union invariant: the payload
field matching Type is populated and the others are empty.
*/
func (part *Part) Validate() error {
	val := valgo.Is(valgo.String(string(part.Type), "type").InSlice([]string{
		string(PartTypeText), string(PartTypeFile), string(PartTypeData),
	}))

	switch part.Type {
	case PartTypeText:
		val.Is(valgo.String(part.Text, "text").Not().Blank())
		val.Is(valgo.Bool(part.File == nil && part.Data == nil, "text").EqualTo(true))
	case PartTypeFile:
		val.Is(valgo.Bool(part.File != nil, "file").EqualTo(true))
		val.Is(valgo.Bool(part.Text == "" && part.Data == nil, "file").EqualTo(true))

		if part.File != nil {
			// A file carries inline bytes or a URI, never both, never neither.
			val.Is(valgo.Bool(
				(part.File.Bytes != "") != (part.File.URI != ""), "file",
			).EqualTo(true))
		}
	case PartTypeData:
		val.Is(valgo.Bool(len(part.Data) > 0, "data").EqualTo(true))
		val.Is(valgo.Bool(part.Text == "" && part.File == nil, "data").EqualTo(true))
	}

	if !val.Valid() {
		return val.Error()
	}

	return nil
}
