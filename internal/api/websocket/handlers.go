package websocket

import "go.uber.org/zap"

type handlerFunc func(c *Client, msg InboundMessage) error

// handlers is the registry of inbound message types.
var handlers = map[MessageType]handlerFunc{
	MessageTypeHeartbeat: handleHeartbeat,
}

func handleHeartbeat(c *Client, _ InboundMessage) error {
	return c.sendMessage(NewMessage(MessageTypePong, nil))
}

func (c *Client) dispatch(msg InboundMessage) {
	h, ok := handlers[msg.Type]
	if !ok {
		c.logger.Debug("Unknown message type", zap.String("type", string(msg.Type)))
		_ = c.sendMessage(NewErrorMessage("unknown message type: " + string(msg.Type)))
		return
	}
	if err := h(c, msg); err != nil {
		c.logger.Warn("Message handler failed",
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}
