package exception

import "errors"

var (
	ErrEngineEntryBlocked   = errors.New("engine: new entries blocked")
	ErrEngineGroupNotFound  = errors.New("engine: position group not found")
	ErrEngineGroupTerminal  = errors.New("engine: position group already terminal")
	ErrEngineLegFailed      = errors.New("engine: leg placement failed")
	ErrEngineUnwindFailed   = errors.New("engine: unwind of filled legs failed")
	ErrEngineEmergencyClose = errors.New("engine: emergency close failed")
	ErrBreakerOpen          = errors.New("breaker: circuit open")
	ErrBreakerDailyHalt     = errors.New("breaker: daily halt in effect")
	ErrBreakerCritical      = errors.New("breaker: critical intervention required")
	ErrBreakerInvalidAck    = errors.New("breaker: operator acknowledgment is empty")
	ErrBreakerNotCritical   = errors.New("breaker: not in critical intervention")
)
