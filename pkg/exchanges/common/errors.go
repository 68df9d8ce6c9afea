package common

import (
	"errors"
	"fmt"
	"regexp"
)

// MarketDataError wraps price feed failures (network, parse, invalid values).
type MarketDataError struct {
	Symbol string
	Err    error
}

func (e *MarketDataError) Error() string {
	return fmt.Sprintf("market data %s: %v", e.Symbol, e.Err)
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// AccountError wraps balance and holdings lookups.
type AccountError struct {
	Op  string
	Err error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.Op, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// ExecutionKind classifies order submission failures.
type ExecutionKind int

const (
	ExecOther ExecutionKind = iota
	ExecInsufficientFunds
	ExecInsufficientInventory
)

func (k ExecutionKind) String() string {
	switch k {
	case ExecInsufficientFunds:
		return "insufficient_funds"
	case ExecInsufficientInventory:
		return "insufficient_inventory"
	default:
		return "other"
	}
}

// ExecutionError wraps order submission failures.
type ExecutionError struct {
	Kind    ExecutionKind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("execution %s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Venues answer in English or Korean ("잔고 부족").
var insufficientRe = regexp.MustCompile(`(?i)insufficient|부족`)

// ClassifyExecution returns the kind of an order error. Typed errors win; otherwise any
// message mentioning insufficient balance counts as ExecInsufficientFunds.
func ClassifyExecution(err error) ExecutionKind {
	if err == nil {
		return ExecOther
	}
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.Kind != ExecOther {
		return ee.Kind
	}
	if insufficientRe.MatchString(err.Error()) {
		return ExecInsufficientFunds
	}
	return ExecOther
}
