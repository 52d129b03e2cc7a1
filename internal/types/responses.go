package types

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string `json:"type"`            // "<command>_result"
	ID      string `json:"id,omitempty"`    // Echoes the request id
	Success bool   `json:"success"`         // true if command succeeded
	Error   any    `json:"error,omitempty"` // Public message or *ValidationError
	Data    any    `json:"data,omitempty"`  // Optional response data
}

// WSStatusResponse is pushed to clients on connect and after each command.
type WSStatusResponse struct {
	Type   string     `json:"type"` // "status"
	Status StatusInfo `json:"status"`
}
