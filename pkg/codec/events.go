package codec

import "time"

type EventKind string

const (
	EventSpawn    EventKind = "spawn"
	EventExit     EventKind = "exit"
	EventSignaled EventKind = "signaled"
	EventRestart  EventKind = "restart"
	EventStop     EventKind = "stop"
	EventKill     EventKind = "kill"
)

// Event 一条进程生命周期事件，按程序名归档到历史库
type Event struct {
	Program string    `cbor:"program"`
	Pid     int       `cbor:"pid"`
	Kind    EventKind `cbor:"kind"`
	Detail  string    `cbor:"detail,omitempty"`
	At      time.Time `cbor:"at"`
}
