package client

import (
	"context"
	"errors"

	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/registry"
)

// dispatchTick drains the unsolicited events received since the previous tick,
// records them in the registry and hands the changed devices to the listeners
// as one batch. It ends the task when the engine stops.
func (c *Client) dispatchTick(ctx context.Context) bool {
	events, err := c.engine.Drain(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrTransport) || errors.Is(err, engine.ErrConnClosed) {
			c.logger.Debug("event dispatcher stopped", "error", err)
			return false
		}

		if ctx.Err() != nil {
			return false
		}

		c.logger.Warn("event drain failed", "error", err)

		return true
	}

	if len(events) == 0 {
		return true
	}

	batch := make([]*registry.Device, 0, len(events))
	seen := make(map[registry.Key]bool, len(events))

	for _, ev := range events {
		dev, err := c.registry.Resolve(ev.Function, ev.Number)
		if err != nil {
			c.logger.Warn("event for unknown component", "event", ev.String(), "error", err)
			continue
		}

		c.registry.UpdateState(dev, ev.State)
		c.logger.Debug("state changed", "device", dev.Key(), "state", ev.State)

		if !seen[dev.Key()] {
			seen[dev.Key()] = true
			batch = append(batch, dev)
		}
	}

	if len(batch) > 0 {
		c.notifyListeners(batch)
	}

	return true
}
