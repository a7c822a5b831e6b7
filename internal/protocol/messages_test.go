package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageText(t *testing.T) {
	raw := []byte(`{"type":"client_message","session_id":"s1","text":"Có sách nào về khủng long?"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	m, ok := msg.(ClientMessage)
	if !ok {
		t.Fatalf("message type = %T, want ClientMessage", msg)
	}
	if m.SessionID != "s1" || m.Text != "Có sách nào về khủng long?" {
		t.Fatalf("unexpected client message: %+v", m)
	}
}

func TestParseClientMessageKeepsBlankText(t *testing.T) {
	// Blank text is rejected by the dispatcher, not the codec.
	msg, err := ParseClientMessage([]byte(`{"type":"client_message","session_id":"s1","text":"  "}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.(ClientMessage).Text != "  " {
		t.Fatalf("text was altered: %+v", msg)
	}
}

func TestParseClientMessageRequiresSession(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_message","text":"hi"}`)); err == nil {
		t.Fatalf("expected error for missing session_id")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid envelope")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":" END "}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionEnd {
		t.Fatalf("unexpected client control: %+v", control)
	}
}
