// Package worker implements both ends of a worker process: the master-side
// Handle that tracks one child, and the child-side runtime that serves the
// application and reports health over the control pipe.
//
// The control pipe carries newline-terminated ASCII lines. The first
// space-separated token names the event:
//
//	ready               accepting has begun; sent once
//	ok <n>              heartbeat; n is the open connection count
//	connection <addr>   a connection was accepted (debug only)
//	error <message>     a non-fatal error inside the worker
package worker

import (
	"strconv"
	"strings"
)

// Event is a control message kind.
type Event int

const (
	EventUnknown Event = iota
	EventReady
	EventOK
	EventConnection
	EventError
)

var eventNames = [...]string{
	EventUnknown:    "unknown",
	EventReady:      "ready",
	EventOK:         "ok",
	EventConnection: "connection",
	EventError:      "error",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// Message is one parsed control line.
type Message struct {
	Event   Event
	Payload string // text after the event token
	Count   int    // connection count for EventOK
	Raw     string // the line as received, without the newline
}

// Parse decodes a control line. Unrecognised events and malformed ok
// counts parse as EventUnknown.
func Parse(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	name, payload, _ := strings.Cut(line, " ")
	m := Message{Payload: payload, Raw: line}

	switch name {
	case "ready":
		m.Event = EventReady
	case "ok":
		n, err := strconv.Atoi(strings.TrimSpace(payload))
		if err != nil || n < 0 {
			return m
		}
		m.Event = EventOK
		m.Count = n
	case "connection":
		m.Event = EventConnection
	case "error":
		m.Event = EventError
	}
	return m
}

// Format renders a control line, newline included. Newlines inside the
// payload are flattened so one message stays one line.
func Format(e Event, payload string) string {
	if payload == "" {
		return e.String() + "\n"
	}
	payload = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(payload)
	return e.String() + " " + payload + "\n"
}
