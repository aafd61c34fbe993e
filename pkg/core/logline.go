package core

// LogLine is a single message received from a log stream. The backend may
// pack several newline-separated lines into one message.
type LogLine struct {
	Target   Target `json:"target"`
	TsUnixMs int64  `json:"ts_unix_ms"`
	Line     string `json:"line"`
}
