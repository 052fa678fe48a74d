package push

import "errors"

var (
	ErrNoTokens            = errors.New("no push tokens")
	ErrEmptyToken          = errors.New("push token cannot be empty")
	ErrInvalidMessage      = errors.New("push message needs a title or body")
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrMessageTooBig       = errors.New("push message too big")
	ErrInvalidCredentials  = errors.New("invalid push credentials")
	ErrProviderResponse    = errors.New("unexpected push provider response")
	ErrTokenStore          = errors.New("push token store failure")
)
