package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Registry.Start for a feed name that is registered.
	ErrAlreadyStarted = errors.New("feed already started")
	// ErrNotFound is returned for operations on an unknown feed name.
	ErrNotFound = errors.New("feed not found")
	// ErrReservedFeed is returned by Registry.Start for the internal analytics feed name.
	ErrReservedFeed = errors.New("feed name is reserved")
	// ErrLoopClosed is returned when work is submitted to a stopped loop.
	ErrLoopClosed = errors.New("event loop closed")
)

// ConnectError reports a transport that failed to open or dropped while connecting.
type ConnectError struct {
	Feed    string
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("feed %s: connect (attempt %d): %v", e.Feed, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ParseError reports a payload that could not be decoded or classified.
type ParseError struct {
	Feed string
	Raw  []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed %s: parse: %v", e.Feed, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SubscriberError reports a subscriber callback that returned an error or panicked.
type SubscriberError struct {
	Feed         string
	Channel      string
	SubscriberID uint64
	Err          error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("feed %s channel %s subscriber %d: %v", e.Feed, e.Channel, e.SubscriberID, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }
