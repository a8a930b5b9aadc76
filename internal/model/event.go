package model

// StreamEvent is one decoded frame from a query's event stream. Exactly one
// of Content, Err, or End is set per frame. Err and End are terminal: at most
// one terminal event is valid per stream, and anything after it is discarded.
type StreamEvent struct {
	Content string `json:"content,omitempty"`
	Err     string `json:"error,omitempty"`
	End     bool   `json:"end,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.End || e.Err != ""
}

// Empty reports whether the frame carried none of the known fields.
// Such frames are dropped by the relay.
func (e StreamEvent) Empty() bool {
	return e.Content == "" && e.Err == "" && !e.End
}
