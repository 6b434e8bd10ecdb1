package mqtt

import "fmt"

// Subscribe registers h for topic, which may contain + and # wildcards.
// The subscription is remembered and restored after reconnects; a failed
// subscribe is forgotten.
func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case h == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.handlers[topic] = subscription{qos: qos, handler: h}
	c.mu.Unlock()

	if err := await(c.paho.Subscribe(topic, qos, c.dispatch(h)), operationTimeout, ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.handlers, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Subscriptions returns the number of remembered subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// SubscribeDiscoverCommand calls fn for every message on the discover
// command topic. Payloads are ignored.
func (c *Client) SubscribeDiscoverCommand(fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(c.topics.CommandDiscover(), byte(c.cfg.QoS), func(string, []byte) error {
		fn()
		return nil
	})
}
