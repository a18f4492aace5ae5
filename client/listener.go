package client

import (
	"slices"

	"github.com/arloliu/go-tds/registry"
)

// StateChangeListener receives the devices whose state changed during one
// dispatcher tick, in arrival order, each device once.
//
// Listeners are invoked synchronously from the dispatcher task, so a slow
// listener delays the next drain. The batch must not be modified.
type StateChangeListener func(batch []*registry.Device)

// RegisterListener adds a state-change listener and returns a function that
// removes it. Listeners run in registration order.
func (c *Client) RegisterListener(l StateChangeListener) (unregister func()) {
	if l == nil {
		return func() {}
	}

	id := c.listenerSeq.Add(1)
	c.listeners.Store(id, l)

	return func() { c.listeners.Delete(id) }
}

func (c *Client) notifyListeners(batch []*registry.Device) {
	ids := make([]uint64, 0, c.listeners.Size())
	c.listeners.Range(func(id uint64, _ StateChangeListener) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)

	for _, id := range ids {
		l, ok := c.listeners.Load(id)
		if !ok {
			continue
		}
		c.invokeListener(id, l, batch)
	}
}

func (c *Client) invokeListener(id uint64, l StateChangeListener, batch []*registry.Device) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in state-change listener", "listener", id, "panic", r)
		}
	}()

	l(batch)
}
