package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnknownAction indicates an action outside the closed command set.
var ErrUnknownAction = errors.New("unknown action")

// ParamError reports a structurally invalid parameter.
type ParamError struct {
	Action Action
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Action, e.Field, e.Reason)
}

// ParseCommand decodes env into its typed Command and checks required params.
func ParseCommand(env CommandEnvelope) (Command, error) {
	action := Action(env.Action)
	switch action {
	case ActionNavigate:
		var c Navigate
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if err := validateURL(action, "url", c.URL, "http", "https", "file", "about"); err != nil {
			return nil, err
		}
		return c, nil
	case ActionBack, ActionForward, ActionReload:
		return History{Kind: action}, decodeParams(action, env.Params, &struct{}{})
	case ActionGetTitle, ActionGetURL, ActionGetText, ActionGetHTML, ActionGetMarkdown:
		c := Read{Kind: action}
		return c, decodeParams(action, env.Params, &c)
	case ActionQuerySelector:
		var c Query
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		return c, requireField(action, "selector", c.Selector)
	case ActionClick, ActionHover:
		c := Pointer{Kind: action}
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		return c, requireField(action, "selector", c.Selector)
	case ActionType:
		var c TypeText
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if err := requireField(action, "selector", c.Selector); err != nil {
			return nil, err
		}
		if c.Text == nil {
			return nil, &ParamError{Action: action, Field: "text", Reason: "is required"}
		}
		return c, nil
	case ActionPress:
		var c Press
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		return c, requireField(action, "key", c.Key)
	case ActionScroll:
		var c Scroll
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if c.Selector == "" && c.X == nil && c.Y == nil {
			return nil, &ParamError{Action: action, Reason: "selector or x/y is required"}
		}
		return c, nil
	case ActionSelect:
		var c SelectOption
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		return c, requireField(action, "selector", c.Selector)
	case ActionWaitFor:
		var c WaitFor
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if c.TimeoutMs < 0 {
			return nil, &ParamError{Action: action, Field: "timeoutMs", Reason: "must not be negative"}
		}
		return c, requireField(action, "selector", c.Selector)
	case ActionEvaluate:
		var c Evaluate
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		return c, requireField(action, "script", c.Script)
	case ActionScreenshot:
		var c Screenshot
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		switch c.Format {
		case "", "png", "jpeg":
		default:
			return nil, &ParamError{Action: action, Field: "format", Reason: "must be png or jpeg"}
		}
		if c.Quality < 0 || c.Quality > 100 {
			return nil, &ParamError{Action: action, Field: "quality", Reason: "must be within 0..100"}
		}
		return c, nil
	case ActionCookiesGet, ActionCookiesClear:
		c := Cookies{Kind: action}
		return c, decodeParams(action, env.Params, &c)
	case ActionCookiesSet:
		c := Cookies{Kind: action}
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if err := requireField(action, "name", c.Name); err != nil {
			return nil, err
		}
		if c.URL != "" {
			if err := validateURL(action, "url", c.URL, "http", "https"); err != nil {
				return nil, err
			}
		}
		return c, nil
	case ActionStorageGet, ActionStorageSet, ActionStorageClear:
		c := Storage{Kind: action}
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		switch c.Area {
		case "", "local", "session":
		default:
			return nil, &ParamError{Action: action, Field: "area", Reason: "must be local or session"}
		}
		if action == ActionStorageSet {
			if err := requireField(action, "key", c.Key); err != nil {
				return nil, err
			}
			if c.Value == nil {
				return nil, &ParamError{Action: action, Field: "value", Reason: "is required"}
			}
		}
		return c, nil
	case ActionTabsList, ActionTabsNew:
		c := Tabs{Kind: action}
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if action == ActionTabsNew && c.URL != "" {
			if err := validateURL(action, "url", c.URL, "http", "https", "file", "about"); err != nil {
				return nil, err
			}
		}
		return c, nil
	case ActionTabsClose, ActionTabsSwitch:
		c := Tabs{Kind: action}
		if err := decodeParams(action, env.Params, &c); err != nil {
			return nil, err
		}
		if c.TabID == nil {
			return nil, &ParamError{Action: action, Field: "tabId", Reason: "is required"}
		}
		return c, nil
	case "":
		return nil, &ParamError{Field: "action", Reason: "is required"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}

// decodeParams accepts absent, null or an object; anything else is a ParamError.
func decodeParams(action Action, raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return &ParamError{Action: action, Field: "params", Reason: "must be an object"}
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return &ParamError{Action: action, Field: "params", Reason: err.Error()}
	}
	return nil
}

func requireField(action Action, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ParamError{Action: action, Field: field, Reason: "is required"}
	}
	return nil
}

func validateURL(action Action, field, raw string, schemes ...string) error {
	if raw == "" {
		return &ParamError{Action: action, Field: field, Reason: "is required"}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return &ParamError{Action: action, Field: field, Reason: "is not a valid URL"}
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return &ParamError{Action: action, Field: field, Reason: fmt.Sprintf("scheme %q not allowed", parsed.Scheme)}
}
