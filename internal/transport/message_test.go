package transport

import "testing"

func TestMessageRoundTrip(t *testing.T) {
	m := &message{
		Type:      Confirmable,
		Code:      CodePOST,
		MessageID: 0xBEEF,
		Token:     []byte{1, 2, 3, 4},
		Path:      "/position",
		Payload:   []byte("batch bytes"),
	}

	frame, err := m.encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != m.Type || got.Code != m.Code || got.MessageID != m.MessageID {
		t.Fatalf("header mismatch: %+v", got)
	}
	if string(got.Token) != string(m.Token) {
		t.Errorf("want token %v, got %v", m.Token, got.Token)
	}
	if got.Path != m.Path {
		t.Errorf("want path %q, got %q", m.Path, got.Path)
	}
	if string(got.Payload) != string(m.Payload) {
		t.Errorf("want payload %q, got %q", m.Payload, got.Payload)
	}
}

func TestMessageEmptyToken(t *testing.T) {
	m := &message{Type: Acknowledgement, Code: CodeChanged, MessageID: 1}
	frame, err := m.encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Token) != 0 {
		t.Errorf("want empty token, got %v", got.Token)
	}
}

func TestEncodeTokenTooLong(t *testing.T) {
	m := &message{Token: make([]byte, MaxTokenLength+1)}
	if _, err := m.encode(); err != ErrTokenTooLong {
		t.Errorf("want ErrTokenTooLong, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := decodeMessage([]byte{0, 0, 0}); err != ErrFrameTooShort {
		t.Errorf("want ErrFrameTooShort, got %v", err)
	}
}

func TestResponseCodeNumbering(t *testing.T) {
	// Confirms the class.detail numbering used by the resource table.
	cases := map[Code]uint8{
		CodeChanged:             68,
		CodeUnauthorized:        129,
		CodeMethodNotAllowed:    133,
		CodeInternalServerError: 160,
	}
	for code, want := range cases {
		if uint8(code) != want {
			t.Errorf("code %v: want %d, got %d", code, want, uint8(code))
		}
	}
}
