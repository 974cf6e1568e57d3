package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

func TestDecode(t *testing.T) {
	type tcase struct {
		raw     string
		want    Envelope
		wantErr error
	}

	tcases := map[string]tcase{
		"full": {
			raw:  `{"type":"todos_create","data":{"title":"x"},"id":"r1"}`,
			want: Envelope{Type: "todos_create", Data: json.RawMessage(`{"title":"x"}`), ID: "r1"},
		},
		"no_data": {
			raw:  `{"type":"ping"}`,
			want: Envelope{Type: "ping"},
		},
		"not_json":     {raw: `hello`, wantErr: ErrMalformedMessage},
		"array":        {raw: `[1,2]`, wantErr: ErrMalformedMessage},
		"missing_type": {raw: `{"data":{}}`, wantErr: ErrMalformedMessage},
		"numeric_type": {raw: `{"type":5}`, wantErr: ErrMalformedMessage},
		"too_large":    {raw: `{"type":"ping","id":"` + strings.Repeat("a", MaxMessageSize) + `"}`, wantErr: ErrMalformedMessage},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Decode: error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	done := true
	title := "renamed"

	type tcase struct {
		env     Envelope
		want    any
		wantErr error
	}

	tcases := map[string]tcase{
		"auth": {
			env:  Envelope{Type: TypeAuth, Data: json.RawMessage(`{"token":"abc"}`)},
			want: &pb.AuthRequest{Token: "abc"},
		},
		"ping_without_data": {
			env:  Envelope{Type: TypePing},
			want: &pb.PingRequest{},
		},
		"list_null_data": {
			env:  Envelope{Type: TypeTodosList, Data: json.RawMessage(`null`)},
			want: &pb.ListRequest{},
		},
		"list_filters": {
			env:  Envelope{Type: TypeTodosList, Data: json.RawMessage(`{"completed":true,"priority":"high","limit":5,"skip":2,"sortBy":"title","sortOrder":1}`)},
			want: &pb.ListRequest{Completed: &done, Priority: "high", Limit: 5, Skip: 2, SortBy: "title", SortOrder: 1},
		},
		"update_ignores_immutable_fields": {
			env:  Envelope{Type: TypeTodosUpdate, Data: json.RawMessage(`{"id":"t1","title":"renamed","userId":"u2","_id":"x","createdAt":"2020-01-01T00:00:00Z"}`)},
			want: &pb.UpdateRequest{ID: "t1", Title: &title},
		},
		"update_null_due_date": {
			env:  Envelope{Type: TypeTodosUpdate, Data: json.RawMessage(`{"id":"t1","dueDate":null}`)},
			want: &pb.UpdateRequest{ID: "t1", DueDate: json.RawMessage(`null`)},
		},
		"search": {
			env:  Envelope{Type: TypeTodosSearch, Data: json.RawMessage(`{"query":"milk"}`)},
			want: &pb.SearchRequest{Query: "milk"},
		},
		"unknown": {
			env:     Envelope{Type: "todos_explode"},
			wantErr: ErrUnknownType,
		},
		"wrong_shape": {
			env:     Envelope{Type: TypeTodosCreate, Data: json.RawMessage(`{"title":42}`)},
			wantErr: ErrMalformedMessage,
		},
		"data_not_object": {
			env:     Envelope{Type: TypeTodosDelete, Data: json.RawMessage(`"t1"`)},
			wantErr: ErrMalformedMessage,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseRequest(tc.env)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParseRequest: error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest: %v", err)
			}
			if got.Type != tc.env.Type {
				t.Errorf("ParseRequest: type = %q, want %q", got.Type, tc.env.Type)
			}
			if diff := cmp.Diff(tc.want, got.Payload); diff != "" {
				t.Errorf("ParseRequest payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnknownTypeMessage(t *testing.T) {
	_, err := ParseRequest(Envelope{Type: "bogus"})
	if got, want := err.Error(), "Unknown message type: bogus"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestEncode(t *testing.T) {
	tcases := map[string]struct {
		msg  Message
		want string
	}{
		"pong_with_id": {
			msg:  Message{Type: TypePong, ID: "p1"},
			want: `{"type":"pong","id":"p1"}`,
		},
		"broadcast_without_id": {
			msg:  Message{Type: TypeTodoDeleted, Data: pb.IDPayload{ID: "t1"}},
			want: `{"type":"todo_deleted","data":{"id":"t1"}}`,
		},
		"error": {
			msg:  NewError("r9", "Title is required"),
			want: `{"type":"error","data":{"message":"Title is required"},"id":"r9"}`,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Encode = %s, want %s", got, tc.want)
			}
		})
	}
}
