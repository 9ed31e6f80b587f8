package client

// SessionStatus mirrors the daemon's session status JSON.
type SessionStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"` // active, inactive, no_record
	PID       int    `json:"pid,omitempty"`
	Output    string `json:"output,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// SweepSummary mirrors the daemon's sweep result JSON.
type SweepSummary struct {
	LockHeld    bool `json:"lock_held"`
	Moved       int  `json:"moved"`
	Failed      int  `json:"failed"`
	SkippedOpen int  `json:"skipped_open"`
}

// SnapshotResult carries the saved snapshot path.
type SnapshotResult struct {
	SavedPath string `json:"saved_path"`
}

type errorResp struct {
	Error string `json:"error"`
}
