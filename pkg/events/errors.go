package events

import "errors"

var (
	// ErrPublish wraps a failure to queue an event. The triggering write has
	// already happened and is not rolled back.
	ErrPublish = errors.New("events: publish failed")

	// ErrParse marks a poison message: the body is not a valid event.
	ErrParse = errors.New("events: malformed event")

	// ErrDispatch wraps a failure of the downstream action for an event.
	ErrDispatch = errors.New("events: dispatch failed")
)
