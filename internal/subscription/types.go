// Package subscription implements the Subscription Manager (C9, spec.md
// §4.9): one long-lived registry entry per AssetKey, each with a polling
// task, a broadcaster task, and a bounded fan-out queue serving many
// concurrent subscribers. Transport-agnostic: internal/subscription/wsserver
// adapts it to gorilla/websocket connections.
package subscription

import (
	"context"
	"time"

	"jax-marketdata-core/internal/bars"
)

// FrameType enumerates the server -> client wire frame kinds of spec.md §6.
type FrameType string

const (
	FrameSubscribed FrameType = "subscribed"
	FrameData       FrameType = "data"
	FrameNotice     FrameType = "notice"
	FrameError      FrameType = "error"
	FramePing       FrameType = "ping"
	FramePong       FrameType = "pong"
)

// Frame is a server -> client wire message, matching spec.md §6's shape
// exactly: {"type":..., "symbol":..., "timeframe":..., "payload":{...}}.
type Frame struct {
	Type      FrameType `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// DataPayload is the payload of a FrameData frame: Highcharts-style
// [[ts,o,h,l,c],...] / [[ts,v],...] arrays (SPEC_FULL.md SUPPLEMENTED
// FEATURES), plus the initial-batch flag used by subscribe flow step 4-5.
type DataPayload struct {
	OHLC         [][5]float64 `json:"ohlc"`
	Volume       [][2]float64 `json:"volume"`
	InitialBatch bool         `json:"initial_batch"`
}

// MessagePayload wraps a single human-readable string, used by
// subscribed/notice/error frames.
type MessagePayload struct {
	Message string `json:"message"`
}

// ClientAction enumerates client -> server frame actions of spec.md §6.
type ClientAction string

const (
	ActionSubscribe   ClientAction = "subscribe"
	ActionUnsubscribe ClientAction = "unsubscribe"
	ActionPing        ClientAction = "ping"
	ActionPong        ClientAction = "pong"
)

// ClientRequest is a client -> server wire message.
type ClientRequest struct {
	Action    ClientAction `json:"action"`
	Market    string       `json:"market"`
	Provider  string       `json:"provider"`
	Symbol    string       `json:"symbol"`
	StreamType string      `json:"stream_type"`
	Timeframe string       `json:"timeframe"`
	Since     *int64       `json:"since,omitempty"`
}

// queueMsg is the sum type carried on an entry's fan-out queue: either a
// fresh bar batch observed by the poll task, or a notice string (e.g. a
// poll-backoff warning, spec.md §4.9) to forward as a notice frame. Exactly
// one of bars/notice is set.
type queueMsg struct {
	bars   []bars.Bar
	notice string
}

// Subscriber is one connected client attached to an entry. Send delivers a
// single frame; implementations (wsserver) translate it to a transport
// write. Send should return promptly — the broadcaster treats a slow or
// failing Send as a dead subscriber and drops it (spec.md §5
// Backpressure).
type Subscriber interface {
	ID() string
	Send(ctx context.Context, frame Frame) error
}

// sendTimeout bounds how long the broadcaster waits on one subscriber's
// Send before treating it as dead, so one slow client can't stall delivery
// to the rest of an entry's subscribers.
const sendTimeout = 2 * time.Second
