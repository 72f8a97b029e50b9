package conversation

import "errors"

var (
	// ErrInvalidInbound means the inbound message lacked a routing key, phone or text.
	ErrInvalidInbound = errors.New("conversation: invalid inbound message")
	// ErrGateway wraps completion failures, timeouts included. Nothing was sent or stored.
	ErrGateway = errors.New("conversation: completion gateway failed")
	// ErrReplyDelivery means the reply could not be sent. Nothing was stored.
	ErrReplyDelivery = errors.New("conversation: reply delivery failed")
	// ErrConversationBusy means another turn for the same conversation held the lock too long.
	ErrConversationBusy = errors.New("conversation: conversation busy")
)
