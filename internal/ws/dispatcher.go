package ws

import (
	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.RequestMatchMsg, protocol.UserUpdateReadyMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// Sender delivers server messages to a connection.
type Sender interface {
	Send(connID, msgType string, payload interface{}) error
}

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping itself and sends structured
// error responses for malformed or unsupported messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	sender   Sender
	log      *zap.Logger
}

// NewMessageDispatcher creates a MessageDispatcher that replies through
// sender. sender may be nil and set later with SetSender.
func NewMessageDispatcher(sender Sender, log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		sender:   sender,
		log:      log.Named("dispatch"),
	}
}

// SetSender assigns the reply path. This supports creating the dispatcher
// before the server, since NewServer requires the Dispatch callback.
func (d *MessageDispatcher) SetSender(sender Sender) {
	d.sender = sender
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error message sent back to the client; the connection stays open.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn_id", conn.ID), zap.Error(err))
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeInvalidMessage,
			Message: "invalid message format",
		})
		return
	}

	if msgType == protocol.TypePing {
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("conn_id", conn.ID), zap.String("type", msgType))
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeInvalidMessage,
			Message: "unsupported message type",
		})
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	if d.sender == nil {
		return
	}
	if err := d.sender.Send(conn.ID, msgType, payload); err != nil {
		d.log.Debug("reply failed", zap.String("conn_id", conn.ID), zap.String("type", msgType), zap.Error(err))
	}
}
