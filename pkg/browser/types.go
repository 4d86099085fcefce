package browser

// TabInfo describes an open browser tab.
type TabInfo struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// StatusInfo describes the current browser state.
type StatusInfo struct {
	Running bool   `json:"running"`
	Remote  bool   `json:"remote,omitempty"`
	Tabs    int    `json:"tabs"`
	URL     string `json:"url,omitempty"` // inspected tab URL
}

// ConsoleMessage is a captured browser console message.
type ConsoleMessage struct {
	Level string `json:"level"` // "log", "warn", "error", "info"
	Text  string `json:"text"`
}

// ref is how the page agent names an element: a per-document generation
// plus a counter, e.g. "k3x9q1:12".
type ref struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// emitMsg is one message the page agent sends through the binding.
type emitMsg struct {
	Type    string        `json:"type"`
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	El      *ref          `json:"el"`
	Records []mutationMsg `json:"records"`
}

type mutationMsg struct {
	Kind          string `json:"kind"`
	Target        *ref   `json:"target"`
	AttributeName string `json:"attributeName"`
}

// queryResult carries either matches or the page's parse error.
type queryResult struct {
	Els   []ref  `json:"els"`
	Error string `json:"error"`
}
