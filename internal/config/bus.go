package config

import (
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/event"
)

// EventSettingsChanged is published after settings load or reload.
const EventSettingsChanged = "settings_changed"

// SettingsEvent carries the full settings snapshot that now applies.
type SettingsEvent struct {
	EventType  string    `json:"type"`
	Settings   Settings  `json:"settings"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e SettingsEvent) Type() string { return e.EventType }

func (e SettingsEvent) Timestamp() time.Time { return e.OccurredAt }

var bus = event.NewBus[SettingsEvent](event.BusOptions{
	Name: "config_events",
})

// Bus exposes the settings stream. Dependents such as the pairing
// coordinator subscribe here instead of re-reading files.
func Bus() *event.Bus[SettingsEvent] {
	return bus
}

// Publish announces settings on the bus.
func Publish(settings Settings) {
	bus.Publish(SettingsEvent{
		EventType:  EventSettingsChanged,
		Settings:   settings,
		OccurredAt: time.Now().UTC(),
	})
}
