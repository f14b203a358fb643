package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	t.Run("navigate ok", func(t *testing.T) {
		cmd, err := ParseCommand(env("navigate", `{"url":"https://example.com"}`))
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		nav, ok := cmd.(Navigate)
		if !ok || nav.URL != "https://example.com" {
			t.Fatalf("unexpected command %#v", cmd)
		}
	})

	t.Run("navigate bad scheme", func(t *testing.T) {
		_, err := ParseCommand(env("navigate", `{"url":"ftp://example.com"}`))
		assertParamError(t, err, "url")
	})

	t.Run("navigate missing url", func(t *testing.T) {
		_, err := ParseCommand(env("navigate", `{}`))
		assertParamError(t, err, "url")
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := ParseCommand(env("launchMissiles", `{}`))
		if !errors.Is(err, ErrUnknownAction) {
			t.Fatalf("expected ErrUnknownAction, got %v", err)
		}
	})

	t.Run("empty action", func(t *testing.T) {
		_, err := ParseCommand(env("", ``))
		assertParamError(t, err, "action")
	})

	t.Run("params must be object", func(t *testing.T) {
		_, err := ParseCommand(env("getTitle", `[1,2]`))
		assertParamError(t, err, "params")
	})

	t.Run("absent and null params accepted", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `{}`} {
			cmd, err := ParseCommand(env("getTitle", raw))
			if err != nil {
				t.Fatalf("params %q: %v", raw, err)
			}
			if cmd.Action() != ActionGetTitle {
				t.Fatalf("expected getTitle, got %s", cmd.Action())
			}
		}
	})

	t.Run("type requires text even if empty string", func(t *testing.T) {
		_, err := ParseCommand(env("type", `{"selector":"#q"}`))
		assertParamError(t, err, "text")
		if _, err := ParseCommand(env("type", `{"selector":"#q","text":""}`)); err != nil {
			t.Fatalf("expected empty text to be allowed, got %v", err)
		}
	})

	t.Run("click requires selector", func(t *testing.T) {
		_, err := ParseCommand(env("click", `{"selector":"  "}`))
		assertParamError(t, err, "selector")
	})

	t.Run("scroll needs a target", func(t *testing.T) {
		_, err := ParseCommand(env("scroll", `{}`))
		assertParamError(t, err, "")
		if _, err := ParseCommand(env("scroll", `{"y":400}`)); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})

	t.Run("screenshot format", func(t *testing.T) {
		_, err := ParseCommand(env("screenshot", `{"format":"gif"}`))
		assertParamError(t, err, "format")
	})

	t.Run("storage set requires value", func(t *testing.T) {
		_, err := ParseCommand(env("storageSet", `{"key":"k"}`))
		assertParamError(t, err, "value")
	})

	t.Run("tabs close requires tab id", func(t *testing.T) {
		_, err := ParseCommand(env("tabsClose", `{}`))
		assertParamError(t, err, "tabId")
		cmd, err := ParseCommand(env("tabsClose", `{"tabId":7}`))
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if tabs := cmd.(Tabs); *tabs.TabID != 7 || tabs.Action() != ActionTabsClose {
			t.Fatalf("unexpected %#v", tabs)
		}
	})
}

func TestNewIDMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestIDAtEmbedsTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123*int(time.Millisecond), time.UTC)
	id := IDAt(at)
	got, ok := IDTime(id)
	if !ok {
		t.Fatalf("unparseable id %q", id)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
	if later := IDAt(at.Add(time.Second)); later <= id {
		t.Fatalf("later id %s sorts before %s", later, id)
	}
	if _, ok := IDTime("not-an-id"); ok {
		t.Fatalf("expected parse failure")
	}
}

func TestIDAtOutOfRangeFallsBack(t *testing.T) {
	id := IDAt(time.Unix(-1, 0))
	if _, ok := IDTime(id); !ok {
		t.Fatalf("fallback id %q unparseable", id)
	}
}

func env(action, params string) CommandEnvelope {
	return CommandEnvelope{Action: action, Params: json.RawMessage(params)}
}

func assertParamError(t *testing.T, err error, field string) {
	t.Helper()
	var perr *ParamError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if perr.Field != field {
		t.Fatalf("expected field %q, got %q (%v)", field, perr.Field, perr)
	}
}
