package ipc

import (
	"encoding/json"
	"time"
)

// StartRequest asks the daemon to install the cache and begin serving.
type StartRequest struct{}

// StartResponse reports the outcome of a start request.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to stop serving.
type StopRequest struct{}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest requests daemon status.
type StatusRequest struct{}

// Generation describes one cache generation.
type Generation struct {
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// DependencyStatus reports an external binary the daemon relies on.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
}

// StatusResponse summarizes daemon state.
type StatusResponse struct {
	Running           bool               `json:"running"`
	PID               int                `json:"pid"`
	SessionID         string             `json:"session_id"`
	StartedAt         time.Time          `json:"started_at"`
	WorkerState       string             `json:"worker_state"`
	WorkerSpawns      int                `json:"worker_spawns"`
	TasksInFlight     int                `json:"tasks_in_flight"`
	LoadedModules     []string           `json:"loaded_modules"`
	CacheControlling  bool               `json:"cache_controlling"`
	StaticGeneration  string             `json:"static_generation"`
	DynamicGeneration string             `json:"dynamic_generation"`
	Generations       []Generation       `json:"generations"`
	CacheDBPath       string             `json:"cache_db_path"`
	LockPath          string             `json:"lock_path"`
	APIAddr           string             `json:"api_addr"`
	Dependencies      []DependencyStatus `json:"dependencies"`
}

// ExecuteRequest runs one task on the background unit.
type ExecuteRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	// TimeoutMillis bounds the call; zero uses the daemon's task timeout.
	TimeoutMillis int64 `json:"timeout_millis"`
}

// Execute error codes.
const (
	CodeTaskFailure = "task_failure"
	CodeUnavailable = "unavailable"
	CodeTimeout     = "timeout"
	CodeClosed      = "closed"
	CodeInternal    = "internal"
)

// ExecuteResponse carries a task result or the reason it failed.
type ExecuteResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// OK reports whether the task succeeded.
func (r ExecuteResponse) OK() bool {
	return r.Error == ""
}

// GenerationsRequest lists cache generations.
type GenerationsRequest struct{}

// GenerationsResponse lists cache generations.
type GenerationsResponse struct {
	Generations []Generation `json:"generations"`
}

// ActivateRequest re-runs cache activation.
type ActivateRequest struct{}

// ActivateResponse names the generations removed by activation.
type ActivateResponse struct {
	Deleted []string `json:"deleted"`
}

// TerminateWorkerRequest shuts down the background unit.
type TerminateWorkerRequest struct{}

// TerminateWorkerResponse reports the channel state after termination.
type TerminateWorkerResponse struct {
	State string `json:"state"`
}

// PreloadRequest schedules module pre-warming.
type PreloadRequest struct{}

// PreloadResponse acknowledges a preload request.
type PreloadResponse struct {
	Scheduled bool `json:"scheduled"`
}
