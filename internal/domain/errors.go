package domain

import "errors"

// Error taxonomy. Wrap with fmt.Errorf("...: %w", Err...) and match with errors.Is.
var (
	// ErrTransport marks a dropped or failed feed connection. Recovered by reconnecting.
	ErrTransport = errors.New("feed transport error")

	// ErrMalformedMessage marks a feed message that could not be parsed. Dropped and logged.
	ErrMalformedMessage = errors.New("malformed feed message")

	// ErrUpstreamUnavailable marks a failed historical catalog query.
	ErrUpstreamUnavailable = errors.New("upstream catalog unavailable")

	// ErrConfiguration marks an invalid subscriber or region configuration.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrReconnectExhausted is the terminal connectivity failure surfaced to listeners
	// once the reconnect cap is reached.
	ErrReconnectExhausted = errors.New("feed reconnect attempts exhausted")

	// ErrClientClosed is returned when connecting a feed client that was shut down.
	ErrClientClosed = errors.New("feed client closed")
)
