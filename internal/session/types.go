package session

// StartRequest is the payload for opening a preview.
type StartRequest struct {
	SessionID          string  `json:"session_id"`
	Input              string  `json:"input"`
	Voice              string  `json:"voice"`
	CFGValue           float64 `json:"cfg_value"`
	InferenceTimesteps int     `json:"inference_timesteps"`
}

// CommitRequest is the payload for persisting a preview as a named voice.
type CommitRequest struct {
	Name      string `json:"name"`
	Overwrite bool   `json:"overwrite"`
}
