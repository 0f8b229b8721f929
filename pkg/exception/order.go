package exception

import "errors"

var (
	ErrOrderInvalidSpec       = errors.New("order: invalid spec")
	ErrOrderEmptyBrokerID     = errors.New("order: empty broker order id")
	ErrOrderVerifyAmbiguous   = errors.New("order: fill verification inconclusive")
	ErrOrderRejected          = errors.New("order: rejected by broker")
	ErrOrderCancelUnconfirmed = errors.New("order: cancel not confirmed, ticket orphaned")
)
