package types

// Event represents a typed application event emitted during execution.
type Event struct {
	Type       string            `json:"type" yaml:"type"`
	Emitter    NodeID            `json:"emitter" yaml:"emitter"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
}

// LogEntry is an application log line collected into the receipt.
type LogEntry struct {
	Level   string `json:"level" yaml:"level"`
	Message string `json:"message" yaml:"message"`
}
