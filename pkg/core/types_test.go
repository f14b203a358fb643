package core

import (
	"encoding/json"
	"testing"
)

func TestLocalFromPeer(t *testing.T) {
	yes, no := true, false

	t.Run("success keeps data", func(t *testing.T) {
		resp := LocalFromPeer("r1", PeerMessage{ID: "r1", Success: &yes, Data: json.RawMessage(`{"title":"x"}`)})
		if !resp.Success || string(resp.Data) != `{"title":"x"}` || resp.Error != nil {
			t.Fatalf("unexpected %+v", resp)
		}
	})

	t.Run("null data dropped", func(t *testing.T) {
		var msg PeerMessage
		if err := json.Unmarshal([]byte(`{"type":"response","id":"r2","success":true,"data":null}`), &msg); err != nil {
			t.Fatal(err)
		}
		resp := LocalFromPeer("r2", msg)
		if !resp.Success || resp.Data != nil {
			t.Fatalf("unexpected %+v", resp)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != `{"id":"r2","success":true}` {
			t.Fatalf("unexpected wire form %s", out)
		}
	})

	t.Run("missing success is a protocol error", func(t *testing.T) {
		resp := LocalFromPeer("r3", PeerMessage{ID: "r3", Data: json.RawMessage(`{}`)})
		if resp.Success || resp.Error == nil || resp.Error.Code != CodeProtocolError {
			t.Fatalf("unexpected %+v", resp)
		}
		if resp.Error.Message != "peer response missing success" {
			t.Fatalf("unexpected message %q", resp.Error.Message)
		}
		if resp.ID != "r3" {
			t.Fatalf("id not kept: %q", resp.ID)
		}
	})

	t.Run("failure without error gets one", func(t *testing.T) {
		resp := LocalFromPeer("r4", PeerMessage{ID: "r4", Success: &no})
		if resp.Success || resp.Error == nil || resp.Error.Code != CodeProtocolError {
			t.Fatalf("unexpected %+v", resp)
		}
	})

	t.Run("peer error passes through", func(t *testing.T) {
		perr := &ProtocolError{Code: "ELEMENT_NOT_FOUND", Message: "no match"}
		resp := LocalFromPeer("r5", PeerMessage{ID: "r5", Success: &no, Error: perr})
		if resp.Error != perr {
			t.Fatalf("unexpected %+v", resp.Error)
		}
	})
}
