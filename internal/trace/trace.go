// Package trace streams compile pipeline events to websocket
// subscribers. Each toolchain run gets a session id; subscribers on
// /events receive a replay of the recent backlog and then live events
// as JSON.
package trace

// Event kinds published by the compile engine.
const (
	CompileStart = "compile.start"
	CompileDone  = "compile.done"
	CompileError = "compile.error"
	CacheHit     = "cache.hit"
	CacheStore   = "cache.store"
	StubsBuilt   = "stubs.built"
)

// Event is one pipeline notification. Session, Seq and Time are
// stamped by the publisher.
type Event struct {
	Session string `json:"session"`
	Seq     int64  `json:"seq"`
	Time    string `json:"time"`
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	File    string `json:"file,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// Publisher receives pipeline events.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event. The engine falls back to it when no
// trace server is configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
