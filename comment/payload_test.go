package comment

import (
	"encoding/json"
	"testing"
)

func TestPayload_Validate(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"none", NoPayload(), false},
		{"zero value", Payload{}, false},
		{"comment", NewCommentPayload("alice", "hello"), false},
		{"comment without body", Payload{Kind: PayloadKindComment}, true},
		{"none with body", Payload{Kind: PayloadKindNone, Comment: &CommentPayload{Text: "x"}}, true},
		{"unknown kind", Payload{Kind: "attachment"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	orig := NewCommentPayload("bob", "first post")

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Payload
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Kind != PayloadKindComment || back.Comment == nil {
		t.Fatalf("round trip lost the comment variant: %+v", back)
	}
	if back.Comment.Author != "bob" || back.Comment.Text != "first post" {
		t.Errorf("round trip changed body: %+v", back.Comment)
	}
}

func TestPayload_ZeroMarshalsAsNone(t *testing.T) {
	data, err := json.Marshal(Payload{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Payload
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.IsZero() {
		t.Errorf("zero payload round-tripped to %+v", back)
	}
}

func TestPayload_UnmarshalRejectsBrokenUnion(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"kind":"comment"}`), &p); err == nil {
		t.Error("expected error for comment kind without body")
	}
}
