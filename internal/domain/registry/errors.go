package registry

import "errors"

// Sentinel errors for the registry.
var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAuthBinding       = errors.New("authentication binding failed")
	ErrInvalidTopic      = errors.New("invalid topic")
)
