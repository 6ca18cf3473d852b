// Package database provides sentinel errors for repository operations.
package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrContractNotFound is returned when a custom contract is not found.
	ErrContractNotFound = errors.New("contract not found")

	// ErrRuleNotFound is returned when an execution rule is not found.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrLocationUpdateNotFound is returned when a queue row is not found.
	ErrLocationUpdateNotFound = errors.New("location update not found")

	// ErrExecutionResultNotFound is returned when no matching ExecutionResult element exists.
	ErrExecutionResultNotFound = errors.New("execution result not found")
)
