package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors for queues and delivery channels.
var (
	ErrStopped       = errors.New("queue stopped")
	ErrClosed        = errors.New("delivery channel closed")
	ErrDropped       = errors.New("event dropped by full delivery channel")
	ErrLossyDelivery = errors.New("lossy delivery")
)

// LossyDeliveryError reports the critical event a saturated channel lost.
type LossyDeliveryError struct {
	Topic string
	Seq   uint64
}

func (e *LossyDeliveryError) Error() string {
	return fmt.Sprintf("lossy delivery: topic %s seq %d", e.Topic, e.Seq)
}

// Unwrap lets errors.Is match ErrLossyDelivery.
func (e *LossyDeliveryError) Unwrap() error { return ErrLossyDelivery }
