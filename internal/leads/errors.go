package leads

import "errors"

var (
	// ErrVersionConflict is returned when a conversation changed between read and write.
	ErrVersionConflict = errors.New("leads: conversation version conflict")

	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = errors.New("leads: conversation not found")

	// ErrInvalidPhone is returned when a phone has no usable digits.
	ErrInvalidPhone = errors.New("leads: phone number is required")

	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("leads: invalid status")
)
