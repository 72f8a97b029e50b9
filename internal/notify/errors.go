package notify

import "errors"

// ErrNoRecipients is returned when a notice has no usable address.
var ErrNoRecipients = errors.New("notify: no recipients configured")
