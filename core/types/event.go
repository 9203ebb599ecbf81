package types

// Event is the canonical attribute-map payload emitted by native modules.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
