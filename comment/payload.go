package comment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind tags the concrete payload shape carried by a queue operation.
type PayloadKind string

const (
	PayloadKindComment PayloadKind = "comment"
	PayloadKindNone    PayloadKind = "none"
)

// CommentPayload is the mutation payload for comment create/update operations.
type CommentPayload struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// Payload is a tagged union of the known operation-payload shapes.
// Deletes carry no payload; creates and updates carry a CommentPayload.
// The wire form is a JSON envelope with an explicit kind tag, so the stores
// never persist untyped key-value bags.
type Payload struct {
	Kind    PayloadKind
	Comment *CommentPayload
}

// NoPayload is the payload attached to delete operations.
func NoPayload() Payload {
	return Payload{Kind: PayloadKindNone}
}

// NewCommentPayload builds a comment mutation payload.
func NewCommentPayload(author, text string) Payload {
	return Payload{Kind: PayloadKindComment, Comment: &CommentPayload{Author: author, Text: text}}
}

// IsZero reports whether p carries no data at all.
func (p Payload) IsZero() bool {
	return p.Kind == "" || p.Kind == PayloadKindNone
}

// Validate checks the union invariant: exactly the variant named by Kind
// is populated.
func (p Payload) Validate() error {
	switch p.Kind {
	case "", PayloadKindNone:
		if p.Comment != nil {
			return errors.New("payload kind none must not carry a comment body")
		}
		return nil
	case PayloadKindComment:
		if p.Comment == nil {
			return errors.New("payload kind comment requires a comment body")
		}
		return nil
	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// payloadEnvelope is the persisted wire shape of Payload.
type payloadEnvelope struct {
	Kind    PayloadKind     `json:"kind"`
	Comment *CommentPayload `json:"comment,omitempty"`
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kind := p.Kind
	if kind == "" {
		kind = PayloadKindNone
	}
	return json.Marshal(payloadEnvelope{Kind: kind, Comment: p.Comment})
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	out := Payload{Kind: env.Kind, Comment: env.Comment}
	if err := out.Validate(); err != nil {
		return err
	}
	*p = out
	return nil
}
