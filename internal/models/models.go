package models

import "time"

// FileMetadata holds metadata information about a stored media file.
type FileMetadata struct {
	RelativePath string    `json:"name"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
}

// StorageUsage reports capacity of the storage device in bytes.
type StorageUsage struct {
	Total uint64
	Free  uint64
}

// NetworkStatus is the state of the wireless interface as seen by the core.
type NetworkStatus struct {
	State string `json:"state"`
	SSID  string `json:"ssid,omitempty"`
	IP    string `json:"ip,omitempty"`
}

// Network states.
const (
	NetworkOnline  = "online"
	NetworkOffline = "offline"
	NetworkUnknown = "unknown"
)

// SystemStatus is a snapshot assembled on demand; it is never persisted.
type SystemStatus struct {
	Status        string  `json:"status"`
	NetworkState  string  `json:"network_state"`
	SSID          string  `json:"ssid,omitempty"`
	IP            string  `json:"ip"`
	PlaybackState string  `json:"playback_state"`
	SourcePath    string  `json:"source_path"`
	Volume        int     `json:"volume"`
	BytesConsumed int64   `json:"bytes_consumed"`
	LastError     string  `json:"last_error,omitempty"`
	Uploading     string  `json:"uploading,omitempty"`
	FsFree        *uint64 `json:"fs_free,omitempty"`
	FsTotal       *uint64 `json:"fs_total,omitempty"`
}

// UploadResult is returned to the caller once a transfer ends.
type UploadResult struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Bytes     int64  `json:"bytes"`
	State     string `json:"state"`
}
