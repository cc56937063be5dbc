package domain

import "errors"

var (
	ErrCounterNotFound       = errors.New("counter not found")
	ErrMalformedNotification = errors.New("malformed counter notification")
)
