/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides domain-specific error types for the credential broker.
// Every failure returned to a reconciliation loop is classified as transient or
// permanent so callers can apply one requeue policy.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Class is the requeue classification of an error.
type Class string

const (
	// ClassNone is returned for a nil error.
	ClassNone Class = ""
	// ClassTransient errors are expected to clear on their own (throttling, network).
	ClassTransient Class = "transient"
	// ClassPermanent errors need a configuration or trust policy change.
	ClassPermanent Class = "permanent"
)

// ConfigurationError indicates a missing or malformed tenant mapping or
// namespace annotation. It is permanent until the configuration changes.
type ConfigurationError struct {
	Namespace string // Namespace being resolved (empty when not namespace specific)
	Account   string // Account identifier involved, if known
	Message   string // What is wrong
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Namespace != "" && e.Account != "":
		return fmt.Sprintf("configuration error for namespace %q (account %s): %s", e.Namespace, e.Account, e.Message)
	case e.Namespace != "":
		return fmt.Sprintf("configuration error for namespace %q: %s", e.Namespace, e.Message)
	case e.Account != "":
		return fmt.Sprintf("configuration error for account %s: %s", e.Account, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(namespace, account, message string) *ConfigurationError {
	return &ConfigurationError{
		Namespace: namespace,
		Account:   account,
		Message:   message,
	}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError
	return errors.As(err, &configErr)
}

// TrustDeniedError indicates the trust exchange rejected the role assumption.
// Retrying will not help until the mapping or the role's trust policy changes.
type TrustDeniedError struct {
	Account string // Tenant account
	RoleARN string // Role that could not be assumed
	Cause   error  // The underlying error
}

func (e *TrustDeniedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("trust denied assuming %s for account %s: %v", e.RoleARN, e.Account, e.Cause)
	}
	return fmt.Sprintf("trust denied assuming %s for account %s", e.RoleARN, e.Account)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TrustDeniedError) Unwrap() error {
	return e.Cause
}

// NewTrustDeniedError creates a TrustDeniedError.
func NewTrustDeniedError(account, roleARN string, cause error) *TrustDeniedError {
	return &TrustDeniedError{
		Account: account,
		RoleARN: roleARN,
		Cause:   cause,
	}
}

// IsTrustDeniedError returns true if the error is a TrustDeniedError.
func IsTrustDeniedError(err error) bool {
	var deniedErr *TrustDeniedError
	return errors.As(err, &deniedErr)
}

// ValidationError indicates invalid configuration or input.
// This is a permanent error - retrying won't help without user correction.
type ValidationError struct {
	Field   string // The field that failed validation
	Value   string // The invalid value (may be redacted for sensitive data)
	Message string // Why validation failed
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// TransientError indicates a temporary failure that should be retried.
// Common causes: STS throttling, network issues, malformed responses.
type TransientError struct {
	Operation string // What operation was attempted
	Cause     error  // The underlying error
	Retryable bool   // Whether an immediate retry is recommended
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("transient error during %s", e.Operation)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a TransientError.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{
		Operation: operation,
		Cause:     cause,
		Retryable: true,
	}
}

// IsTransientError returns true if the error is a TransientError.
func IsTransientError(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// Classify maps an error onto the transient/permanent taxonomy.
// Errors outside the taxonomy are treated as transient so that the standard
// requeue applies; context cancellation is transient as well.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	switch {
	case IsTrustDeniedError(err), IsConfigurationError(err), IsValidationError(err):
		return ClassPermanent
	case IsTransientError(err):
		return ClassTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassTransient
}

// IsPermanent returns true if the error needs a configuration change to clear.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}
