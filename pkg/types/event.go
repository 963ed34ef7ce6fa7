package types

import "time"

type EventType string

const (
	EventMonitorStarted  EventType = "MonitorStarted"
	EventMonitorStopped  EventType = "MonitorStopped"
	EventRoundCompleted  EventType = "RoundCompleted"
	EventRegistryUpdated EventType = "RegistryUpdated"
	EventTargetAdded     EventType = "TargetAdded"
	EventTargetRemoved   EventType = "TargetRemoved"
	EventTargetUpdated   EventType = "TargetUpdated"
)

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Address   string         `json:"address,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
