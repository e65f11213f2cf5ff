package model

import "time"

// EngineStats is a point-in-time view of the monitoring engine
type EngineStats struct {
	ActiveTasks  int       `json:"active_tasks"`
	ChecksTotal  uint64    `json:"checks_total"`
	ChecksFailed uint64    `json:"checks_failed"`
	TicksSkipped uint64    `json:"ticks_skipped"`
	AlertsSent   uint64    `json:"alerts_sent"`
	AlertsFailed uint64    `json:"alerts_failed"`
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	StartedAt    time.Time `json:"started_at"`
	CollectedAt  time.Time `json:"collected_at"`
}
