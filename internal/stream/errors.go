// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "errors"

// TransportError means the exchange failed before any response data was
// read: the request could not be sent, the server refused it, the response
// had no body, or the first read failed. No partial content exists.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReadError means the stream broke after at least one chunk was read.
// Partial holds the text accumulated up to the failure.
type ReadError struct {
	Partial string
	Err     error
}

func (e *ReadError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// FrameError describes a single frame that could not be decoded. Sessions
// log and skip such frames; it never ends a stream.
type FrameError struct {
	Frame  string
	Reason string
}

func (e *FrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// PartialText returns the text salvaged from a mid-stream failure.
func PartialText(err error) (string, bool) {
	var re *ReadError
	if errors.As(err, &re) {
		return re.Partial, true
	}
	return "", false
}
