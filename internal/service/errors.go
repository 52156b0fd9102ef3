package service

import (
	"errors"
	"fmt"
)

// Sequencer errors
var (
	ErrDispatchFailed     = errors.New("dispatch failed")
	ErrPersistence        = errors.New("persistence error")
	ErrBatchInProgress    = errors.New("another batch run is in progress")
	ErrNoClassification   = errors.New("message classification is required")
	ErrInvalidTemplateSet = errors.New("invalid template set")
)

// DispatchError carries the gateway's error message for a failed send.
type DispatchError struct {
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %s", e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDispatchFailed) match any DispatchError.
func (e *DispatchError) Is(target error) bool { return target == ErrDispatchFailed }

// PersistenceError reports a store failure while processing one contact.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
