package session

// PlaybackController lets the lifecycle halt and restart playback around
// commit and discard transitions. The daemon itself does not play audio;
// UI-facing deployments plug their player in here.
type PlaybackController interface {
	// Stop halts any active playback of the artifact at path.
	Stop(path string)
	// Play starts playback from path.
	Play(path string)
}

// NopPlayback ignores all playback transitions.
type NopPlayback struct{}

func (NopPlayback) Stop(string) {}

func (NopPlayback) Play(string) {}
