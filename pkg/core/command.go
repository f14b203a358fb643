package core

// Action names a browser-side command handler.
type Action string

const (
	ActionNavigate      Action = "navigate"
	ActionBack          Action = "back"
	ActionForward       Action = "forward"
	ActionReload        Action = "reload"
	ActionGetTitle      Action = "getTitle"
	ActionGetURL        Action = "getUrl"
	ActionGetText       Action = "getText"
	ActionGetHTML       Action = "getHtml"
	ActionGetMarkdown   Action = "getMarkdown"
	ActionQuerySelector Action = "querySelector"
	ActionClick         Action = "click"
	ActionType          Action = "type"
	ActionPress         Action = "press"
	ActionHover         Action = "hover"
	ActionScroll        Action = "scroll"
	ActionSelect        Action = "select"
	ActionWaitFor       Action = "waitFor"
	ActionEvaluate      Action = "evaluate"
	ActionScreenshot    Action = "screenshot"
	ActionCookiesGet    Action = "cookiesGet"
	ActionCookiesSet    Action = "cookiesSet"
	ActionCookiesClear  Action = "cookiesClear"
	ActionStorageGet    Action = "storageGet"
	ActionStorageSet    Action = "storageSet"
	ActionStorageClear  Action = "storageClear"
	ActionTabsList      Action = "tabsList"
	ActionTabsNew       Action = "tabsNew"
	ActionTabsClose     Action = "tabsClose"
	ActionTabsSwitch    Action = "tabsSwitch"
)

// Command is a validated browser command. The set of implementations is closed.
type Command interface {
	Action() Action
	isCommand()
}

// Navigate loads URL in the target tab.
type Navigate struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"`
}

func (Navigate) Action() Action { return ActionNavigate }
func (Navigate) isCommand()     {}

// History is back, forward or reload.
type History struct {
	Kind Action `json:"-"`
}

func (h History) Action() Action { return h.Kind }
func (History) isCommand()       {}

// Read extracts page content: title, url, text, html or markdown.
type Read struct {
	Kind     Action `json:"-"`
	Selector string `json:"selector,omitempty"`
}

func (r Read) Action() Action { return r.Kind }
func (Read) isCommand()       {}

// Query finds elements matching Selector.
type Query struct {
	Selector string `json:"selector"`
	All      bool   `json:"all,omitempty"`
}

func (Query) Action() Action { return ActionQuerySelector }
func (Query) isCommand()     {}

// Pointer is click or hover on Selector.
type Pointer struct {
	Kind     Action `json:"-"`
	Selector string `json:"selector"`
}

func (p Pointer) Action() Action { return p.Kind }
func (Pointer) isCommand()       {}

// TypeText enters Text into Selector.
type TypeText struct {
	Selector string  `json:"selector"`
	Text     *string `json:"text"`
	Clear    bool    `json:"clear,omitempty"`
}

func (TypeText) Action() Action { return ActionType }
func (TypeText) isCommand()     {}

// Press sends a key, optionally focused on Selector.
type Press struct {
	Key      string `json:"key"`
	Selector string `json:"selector,omitempty"`
}

func (Press) Action() Action { return ActionPress }
func (Press) isCommand()     {}

// Scroll scrolls the page or Selector into view.
type Scroll struct {
	Selector string `json:"selector,omitempty"`
	X        *int   `json:"x,omitempty"`
	Y        *int   `json:"y,omitempty"`
}

func (Scroll) Action() Action { return ActionScroll }
func (Scroll) isCommand()     {}

// SelectOption picks Value in a <select>.
type SelectOption struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

func (SelectOption) Action() Action { return ActionSelect }
func (SelectOption) isCommand()     {}

// WaitFor blocks browser-side until Selector appears.
type WaitFor struct {
	Selector  string `json:"selector"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

func (WaitFor) Action() Action { return ActionWaitFor }
func (WaitFor) isCommand()     {}

// Evaluate runs Script in the page.
type Evaluate struct {
	Script string `json:"script"`
}

func (Evaluate) Action() Action { return ActionEvaluate }
func (Evaluate) isCommand()     {}

// Screenshot captures the visible tab or full page.
type Screenshot struct {
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
}

func (Screenshot) Action() Action { return ActionScreenshot }
func (Screenshot) isCommand()     {}

// Cookies reads, writes or clears cookies.
type Cookies struct {
	Kind   Action `json:"-"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (c Cookies) Action() Action { return c.Kind }
func (Cookies) isCommand()       {}

// Storage reads, writes or clears local/session storage.
type Storage struct {
	Kind  Action  `json:"-"`
	Area  string  `json:"area,omitempty"`
	Key   string  `json:"key,omitempty"`
	Value *string `json:"value,omitempty"`
}

func (s Storage) Action() Action { return s.Kind }
func (Storage) isCommand()       {}

// Tabs lists, opens, closes or switches tabs.
type Tabs struct {
	Kind  Action `json:"-"`
	TabID *int   `json:"tabId,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (t Tabs) Action() Action { return t.Kind }
func (Tabs) isCommand()       {}
