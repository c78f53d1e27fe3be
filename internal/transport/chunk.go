package transport

import "github.com/MrWong99/huddle/pkg/audio"

// Chunk is one numbered unit of session audio. Chunks are values and are not
// modified after creation; a retry is sent as [Chunk.AsReplay].
type Chunk struct {
	SessionID string
	Index     uint64
	Payload   audio.Payload
	Replay    bool
}

// AsReplay returns a copy of c marked as a retransmission. The index is
// unchanged.
func (c Chunk) AsReplay() Chunk {
	c.Replay = true
	return c
}

// Message returns the duplex envelope for c.
func (c Chunk) Message() ChunkMessage {
	m := c.upload()
	m.Type = TypeChunk
	return m
}

// upload returns the HTTP upload body for c, which is the duplex envelope
// without a type.
func (c Chunk) upload() ChunkMessage {
	return ChunkMessage{
		SessionID:   c.SessionID,
		ChunkIndex:  c.Index,
		Codec:       c.Payload.Codec,
		SampleRate:  c.Payload.SampleRate,
		Channels:    c.Payload.Channels,
		Data:        audio.EncodeBase64(c.Payload.Data),
		TranscodeTo: c.Payload.TranscodeTo,
		Replay:      c.Replay,
	}
}
