package client

import (
	"context"
	"errors"

	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/profile"
)

// keepAliveMessage returns the liveness request of the profile: a dedicated
// KEEP_ALIVE frame, or a repeated LOG subscription of a quiet function.
func keepAliveMessage(p *profile.Profile) *frame.Message {
	ka := p.KeepAlive()
	if ka.Command == profile.CommandLog {
		return &frame.Message{Command: profile.CommandLog, Function: ka.Function, LogOn: true}
	}

	return &frame.Message{Command: ka.Command}
}

// keepAliveTick sends one liveness request. Failures are logged; the task only
// ends when the engine stops.
func (c *Client) keepAliveTick(ctx context.Context) bool {
	msg := keepAliveMessage(c.profile)

	if _, err := c.engine.Execute(ctx, msg, engine.ExpectAck); err != nil {
		if errors.Is(err, engine.ErrTransport) || errors.Is(err, engine.ErrConnClosed) {
			c.logger.Warn("keep-alive stopped", "error", err)
			return false
		}

		c.logger.Warn("keep-alive failed", "msg", msg.String(), "error", err)

		return ctx.Err() == nil
	}

	c.logger.Debug("keep-alive sent", "msg", msg.String())

	return true
}
