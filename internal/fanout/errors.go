package fanout

import "errors"

var (
	// ErrDispatcherClosed is returned by Enqueue after Close.
	ErrDispatcherClosed = errors.New("fanout: dispatcher closed")
	// ErrSinkConfig marks a tenant sink configuration that is missing a required setting.
	ErrSinkConfig = errors.New("fanout: invalid sink configuration")
)
