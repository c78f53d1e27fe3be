// Package transport moves audio chunks, queries, and assistant replies
// between huddle and the backend.
//
// Two carriers are supported. [Duplex] is a persistent WebSocket connection
// that exchanges JSON envelopes in both directions. [HTTPClient] is the
// request/response fallback used when no duplex connection is open. [Router]
// picks a carrier for every individual chunk.
package transport

import (
	"encoding/json"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Outbound envelope types.
const (
	TypeStart    = "start"
	TypeChunk    = "chunk"
	TypeFinish   = "finish"
	TypeFinalize = "finalize"
	TypeQuery    = "input_chat.query"
)

// EventType identifies an inbound duplex event.
type EventType string

// Inbound event types.
const (
	EventAck       EventType = "ack"
	EventTextDelta EventType = "response.text.delta"
	EventTextDone  EventType = "response.text.done"
	EventError     EventType = "error"
)

// DefaultErrorDetail is used when the backend reports a failure without any
// readable detail.
const DefaultErrorDetail = "Unknown server error."

// StartMessage announces a recording on the audio duplex.
type StartMessage struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"session_id"`
	SampleRate int         `json:"sample_rate"`
	Channels   int         `json:"channels"`
	Codec      audio.Codec `json:"codec"`
}

// NewStartMessage returns the start envelope for sessionID.
func NewStartMessage(sessionID string) StartMessage {
	return StartMessage{
		Type:       TypeStart,
		SessionID:  sessionID,
		SampleRate: audio.TargetSampleRate,
		Channels:   audio.TargetChannels,
		Codec:      audio.CodecOpus,
	}
}

// ChunkMessage carries one audio chunk. Type is empty for HTTP uploads.
type ChunkMessage struct {
	Type        string      `json:"type,omitempty"`
	SessionID   string      `json:"session_id"`
	ChunkIndex  uint64      `json:"chunk_index"`
	Codec       audio.Codec `json:"codec"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels"`
	Data        string      `json:"data"`
	TranscodeTo audio.Codec `json:"server_should_transcode_to,omitempty"`
	Replay      bool        `json:"replay,omitempty"`
}

// FinishMessage ends a recording on the audio duplex.
type FinishMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// NewFinishMessage returns the finish envelope for sessionID.
func NewFinishMessage(sessionID string) FinishMessage {
	return FinishMessage{Type: TypeFinish, SessionID: sessionID}
}

// FinalizeMessage asks the backend to finalize the current input buffer.
type FinalizeMessage struct {
	Type string `json:"type"`
}

// NewFinalizeMessage returns the finalize envelope.
func NewFinalizeMessage() FinalizeMessage {
	return FinalizeMessage{Type: TypeFinalize}
}

// QueryMessage submits a chat question on the realtime duplex.
type QueryMessage struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// NewQueryMessage returns the query envelope for text.
func NewQueryMessage(text string) QueryMessage {
	return QueryMessage{Type: TypeQuery, Query: text}
}

// Event is a decoded inbound duplex message. Only the fields relevant to Type
// are set.
type Event struct {
	Type EventType

	// SessionID and ChunkIndex are set for [EventAck].
	SessionID  string
	ChunkIndex uint64

	// Delta is set for [EventTextDelta].
	Delta string

	// Detail is set for [EventError].
	Detail string
}

type wireEvent struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	ChunkIndex *uint64 `json:"chunk_index"`
	Delta      string  `json:"delta"`
	Detail     string  `json:"detail"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent decodes one inbound frame. The second result is false for
// malformed JSON, unknown event types, and acks without a chunk index;
// callers ignore such frames.
func ParseEvent(data []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, false
	}

	ev := Event{Type: EventType(w.Type)}
	switch ev.Type {
	case EventAck:
		if w.ChunkIndex == nil {
			return Event{}, false
		}
		ev.SessionID = w.SessionID
		ev.ChunkIndex = *w.ChunkIndex
	case EventTextDelta:
		ev.Delta = w.Delta
	case EventTextDone:
	case EventError:
		ev.Detail = w.Detail
		if ev.Detail == "" && w.Error != nil {
			ev.Detail = w.Error.Message
		}
		if ev.Detail == "" {
			ev.Detail = DefaultErrorDetail
		}
	default:
		return Event{}, false
	}
	return ev, true
}
