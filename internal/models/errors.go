package models

import (
	"errors"
	"fmt"
)

// ArgumentError reports malformed input. It is surfaced to the caller and never retried.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

// NewArgumentError builds an ArgumentError with a formatted message.
func NewArgumentError(format string, args ...interface{}) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown queue, task, template or institution.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given kind and identifier.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func IsArgument(err error) bool {
	var target *ArgumentError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
