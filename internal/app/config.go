package app

import (
	"huddle/internal/config"
	"huddle/internal/relay"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	// Settings is the validated huddle configuration.
	Settings *config.Config
	// Hub is the in-process relay network used by the memory transport.
	// A private one is created when nil.
	Hub *relay.Hub
}
