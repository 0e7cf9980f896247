package main

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLITree is a JSON-friendly syntax tree summary.
type CLITree struct {
	BufferID *int64       `json:"buffer_id,omitempty"`
	File     string       `json:"file,omitempty"`
	Scope    string       `json:"scope"`
	Bytes    int          `json:"bytes"`
	HasError bool         `json:"has_error"`
	Errors   int          `json:"errors"`
	Tree     string       `json:"tree"`
	Captures []CLICapture `json:"captures,omitempty"`
}

// CLICapture is one query capture.
type CLICapture struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine uint32 `json:"start_line"`
	StartCol  uint32 `json:"start_col"`
	Text      string `json:"text"`
}

// CLIReplay is the outcome of replaying a session.
type CLIReplay struct {
	Events        int       `json:"events"`
	Notifications int       `json:"notifications"`
	Trees         []CLITree `json:"trees"`
}

// CLILanguage is one language and its state.
type CLILanguage struct {
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes"`
	Installed   bool     `json:"installed"`
	Configured  bool     `json:"configured,omitempty"`
	InstalledAt string   `json:"installed_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// CLINotification is one tree update printed by watch.
type CLINotification struct {
	Command  string `json:"command"`
	BufferID int64  `json:"buffer_id"`
	File     string `json:"file,omitempty"`
	Scope    string `json:"scope"`
	HasError bool   `json:"has_error"`
}
