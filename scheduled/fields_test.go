package scheduled

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseSendingTime(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "int64", in: int64(1700000000000), want: 1700000000000},
		{name: "int", in: 42, want: 42},
		{name: "int32", in: int32(7), want: 7},
		{name: "integral float", in: float64(1700000000000), want: 1700000000000},
		{name: "json number", in: json.Number("99"), want: 99},
		{name: "decimal string", in: " 1700000000000 ", want: 1700000000000},
		{name: "fractional float", in: 1.5, wantErr: true},
		{name: "text", in: "next tuesday", wantErr: true},
		{name: "missing", in: nil, wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSendingTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSendingTime(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSendingTime(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeFields(t *testing.T) {
	base := func() Fields {
		return Fields{
			FieldSenderID:    "alice",
			FieldReceiverID:  "bob",
			FieldContent:     "see you",
			FieldSendingTime: int64(1000),
		}
	}

	t.Run("valid record without conversation", func(t *testing.T) {
		msg, err := DecodeFields("m1", base())
		if err != nil {
			t.Fatalf("DecodeFields failed: %v", err)
		}
		if msg.ID != "m1" || msg.ConversationID != "" || msg.SendingTime != 1000 {
			t.Errorf("unexpected message %+v", msg)
		}
	})

	for _, field := range []string{FieldSenderID, FieldReceiverID, FieldContent, FieldSendingTime} {
		t.Run("missing "+field+" is malformed", func(t *testing.T) {
			f := base()
			delete(f, field)
			if _, err := DecodeFields("m1", f); !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}

	t.Run("empty string is malformed", func(t *testing.T) {
		f := base()
		f[FieldContent] = ""
		if _, err := DecodeFields("m1", f); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("malformed error keeps raw sender", func(t *testing.T) {
		f := base()
		delete(f, FieldSendingTime)
		_, err := DecodeFields("m1", f)

		var me *MalformedError
		if !errors.As(err, &me) {
			t.Fatalf("expected *MalformedError, got %v", err)
		}
		if me.ID != "m1" || me.SenderID != f[FieldSenderID] {
			t.Errorf("unexpected error fields %+v", me)
		}
	})

	t.Run("ToFields round trips", func(t *testing.T) {
		in := &Message{ID: "m2", SenderID: "a", ReceiverID: "b", Content: "c", SendingTime: 5, ConversationID: "conv"}
		out, err := DecodeFields("m2", in.ToFields())
		if err != nil {
			t.Fatalf("DecodeFields failed: %v", err)
		}
		if *out != *in {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})
}

func TestMessageDue(t *testing.T) {
	now := time.UnixMilli(5000)
	msg := &Message{SendingTime: 5000}

	if !msg.Due(now) {
		t.Error("expected message due at its exact sending time")
	}
	if msg.Due(now.Add(-time.Millisecond)) {
		t.Error("expected message not due one millisecond early")
	}
	if !msg.SendAt().Equal(now) {
		t.Errorf("SendAt = %v, want %v", msg.SendAt(), now)
	}
}
