package events

import (
	"fmt"

	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/events/bus"
)

// ProvidedBus wraps the active event bus implementation.
type ProvidedBus struct {
	Bus    bus.EventBus
	Memory *bus.MemoryEventBus
	NATS   *bus.NATSEventBus
}

// Provide builds the event bus backend selected by cfg.Events.Backend.
func Provide(cfg *config.Config, log *logger.Logger) (*ProvidedBus, func() error, error) {
	switch cfg.Events.Backend {
	case "nats":
		natsBus, err := bus.NewNATSEventBus(cfg.Events.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &ProvidedBus{Bus: natsBus, NATS: natsBus}, cleanup, nil
	default:
		memBus := bus.NewMemoryEventBus(log)
		return &ProvidedBus{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
	}
}
