package mqtt

import (
	"fmt"
	"time"
)

// reconnectLoop attempts to re-establish the broker connection at a fixed
// period until it succeeds, the attempt budget is exhausted, or the client
// is closing.
//
// Paho's own auto-reconnect is disabled (see buildClientOptions); this loop
// owns the retry policy so the attempt cap is enforceable.
func (c *Client) reconnectLoop() {
	for {
		c.attemptsMu.Lock()
		if c.closing || c.exhausted {
			c.attemptsMu.Unlock()
			return
		}
		max := c.cfg.Reconnect.MaxAttempts
		if max > 0 && c.attempts >= max {
			c.exhausted = true
			c.attemptsMu.Unlock()
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT reconnect attempts exhausted; manual Reconnect() required",
					"attempts", max,
				)
			}
			return
		}
		c.attempts++
		attempt := c.attempts
		c.attemptsMu.Unlock()

		time.Sleep(time.Duration(c.cfg.Reconnect.Period) * time.Second)

		if c.IsConnected() {
			return
		}

		token := c.client.Connect()
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() == nil {
			// handleConnect resets the attempt counter and restores
			// subscriptions via the OnConnect handler.
			return
		}

		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnect attempt failed",
				"attempt", attempt,
				"error", token.Error(),
			)
		}
	}
}

// Reconnect manually triggers reconnection after the automatic attempt
// budget has been exhausted. It resets the attempt counter and performs a
// fresh connection attempt.
//
// Returns:
//   - error: If the connection attempt fails
func (c *Client) Reconnect() error {
	c.attemptsMu.Lock()
	c.attempts = 0
	c.exhausted = false
	c.attemptsMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// ReconnectExhausted reports whether automatic reconnection has stopped
// because the attempt budget ran out. Operators can poll this via the
// health endpoint and trigger Reconnect().
func (c *Client) ReconnectExhausted() bool {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	return c.exhausted
}
