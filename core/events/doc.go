// Package events defines the typed envelope contract exchanged through the
// message bus.
//
// An Envelope is one message unit: a unique id, a Kind, the originating
// client id, a typed payload, and a creation timestamp. Envelopes are created
// per send and treated as immutable afterwards.
//
// Kinds:
//
//   - user_input: inbound user utterance from a transport.
//   - conversation_update: a turn was appended or amended.
//   - assistant_state: conversation state machine transition.
//   - interruption: barge-in was applied to the in-flight response.
//   - stop_playback: request that audio output stops immediately.
//   - playback_stopped: acknowledgment that audio output stopped.
//   - service_status: health/breaker snapshot for one dependent service.
//   - system_stats: process-host resource usage sample.
package events
