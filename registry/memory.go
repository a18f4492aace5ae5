package registry

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-tds/profile"
)

// Memory is an in-memory Registry. Devices are registered once, before the
// client connects, and are never removed.
type Memory struct {
	devices *xsync.MapOf[Key, *Device]
}

var _ Registry = (*Memory)(nil)

// NewMemory creates a registry holding devices.
func NewMemory(devices ...*Device) (*Memory, error) {
	m := &Memory{devices: xsync.NewMapOf[Key, *Device]()}
	for _, d := range devices {
		if err := m.Add(d); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Add registers d.
func (m *Memory) Add(d *Device) error {
	if _, loaded := m.devices.LoadOrStore(d.Key(), d); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, d.Key())
	}

	return nil
}

// Len returns the number of registered devices.
func (m *Memory) Len() int {
	return m.devices.Size()
}

// Resolve implements Registry.
func (m *Memory) Resolve(fn profile.Function, number int) (*Device, error) {
	d, ok := m.devices.Load(Key{Function: fn, Number: number})
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrComponentNotFound, fn, number)
	}

	return d, nil
}

// Devices implements Registry.
func (m *Memory) Devices(fn profile.Function) []*Device {
	var out []*Device
	m.devices.Range(func(k Key, d *Device) bool {
		if k.Function == fn {
			out = append(out, d)
		}

		return true
	})
	sortDevices(out)

	return out
}

// AllDevices implements Registry.
func (m *Memory) AllDevices() []*Device {
	out := make([]*Device, 0, m.devices.Size())
	m.devices.Range(func(_ Key, d *Device) bool {
		out = append(out, d)
		return true
	})
	sortDevices(out)

	return out
}

// UpdateState implements Registry.
func (m *Memory) UpdateState(d *Device, state profile.State) {
	d.record(state)
}

func sortDevices(devices []*Device) {
	slices.SortFunc(devices, func(a, b *Device) int {
		if c := cmp.Compare(a.Function, b.Function); c != 0 {
			return c
		}

		return cmp.Compare(a.Number, b.Number)
	})
}
