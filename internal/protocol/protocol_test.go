package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypeJoin, JoinRequest{Code: "AB12-CD34", Name: "ada"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeJoin {
		t.Errorf("Expected type %q, got %q", TypeJoin, env.Type)
	}

	var req JoinRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if req.Code != "AB12-CD34" || req.Name != "ada" {
		t.Errorf("Payload mismatch: %+v", req)
	}
}

func TestEncodeNilPayloadOmitsData(t *testing.T) {
	frame, err := Encode(TypeUndo, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeUndo {
		t.Errorf("Expected type %q, got %q", TypeUndo, env.Type)
	}
	if len(env.Data) != 0 {
		t.Errorf("Undo carries no payload, got %s", env.Data)
	}
}

func TestDecodePreservesUnknownTypes(t *testing.T) {
	env, err := Decode([]byte(`{"type":"somethingNew","data":{"x":1}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != "somethingNew" {
		t.Errorf("Unknown types should pass through for the caller to reject, got %q", env.Type)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Decode should fail on a non-JSON frame")
	}
}

func TestErrorFrame(t *testing.T) {
	env, err := Decode(ErrorFrame("room does not exist"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeError {
		t.Errorf("Expected error frame, got %q", env.Type)
	}

	var msg ErrorMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if msg.Message != "room does not exist" {
		t.Errorf("Unexpected message: %q", msg.Message)
	}
}
