package a2a

import "time"

/*
Artifact is a discrete output unit produced by a processor, distinct from
the conversational history.
*/
type Artifact struct {
	ID        string         `json:"id"`
	Name      *string        `json:"name,omitempty"`
	Index     int            `json:"index"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewArtifact(name string, parts ...Part) Artifact {
	return Artifact{
		Name:  &name,
		Parts: parts,
	}
}
