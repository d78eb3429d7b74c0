package events

// KindStopPlayback identifies a stop-playback request.
const KindStopPlayback Kind = "stop_playback"

// StopPlayback asks the audio output subsystem to stop immediately.
// RequestID correlates the eventual PlaybackStopped acknowledgment.
type StopPlayback struct {
	RequestID string `json:"request_id"`
}

func (StopPlayback) Kind() Kind { return KindStopPlayback }

// KindPlaybackStopped identifies a stop-playback acknowledgment.
const KindPlaybackStopped Kind = "playback_stopped"

// PlaybackStopped acknowledges that audio output ceased.
type PlaybackStopped struct {
	RequestID string `json:"request_id"`
}

func (PlaybackStopped) Kind() Kind { return KindPlaybackStopped }
