package engine

import (
	"fmt"

	"github.com/arloliu/go-tds/frame"
)

// InjectEvent queues an EVENT frame as if the central unit had sent it.
// It is only available in test mode.
func (e *Engine) InjectEvent(ev frame.Event) error {
	data, err := frame.ComposeEvent(e.profile, ev)
	if err != nil {
		return err
	}

	return e.InjectBytes(data)
}

// InjectBytes queues raw bytes as one socket read. It is only available in test
// mode. Frames may be split over several calls.
func (e *Engine) InjectBytes(data []byte) error {
	tr, ok := e.getTransport().(*testTransport)
	if !ok || !e.cfg.testMode {
		return ErrNotTestMode
	}

	if e.context().Err() != nil {
		return fmt.Errorf("inject: %w", e.Err())
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	tr.push(chunk)

	return nil
}
