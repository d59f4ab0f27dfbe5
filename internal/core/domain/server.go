package domain

import "time"

// ServerHealth is the response body of the companion server's GET /health.
type ServerHealth struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolInfo is one entry of the companion server's GET /tools listing. The
// health monitor verifies a fixed set of tool names is present.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ResourceUsage is a workspace-level usage snapshot carried by
// resource_update frames.
type ResourceUsage struct {
	WorkspaceID  string    `json:"workspace_id"`
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	StorageUsage float64   `json:"storage_usage"`
	NetworkUsage float64   `json:"network_usage"`
	Timestamp    time.Time `json:"timestamp"`
}
