package domain

import "errors"

var (
	// ErrNegativeAmount is returned when a money amount is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrUnsupportedCurrency is returned for currencies outside the supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ErrMissingCustomer is returned when charge params carry no customer id.
	ErrMissingCustomer = errors.New("customer id is required")
)
