package notify

import "errors"

var (
	// ErrNotConnected indicates the broker connection is down.
	ErrNotConnected = errors.New("notify: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("notify: connection failed")

	// ErrPublishFailed indicates a change could not be published.
	ErrPublishFailed = errors.New("notify: publish failed")

	// ErrDisabled indicates the change feed is disabled in configuration.
	ErrDisabled = errors.New("notify: disabled in configuration")
)
