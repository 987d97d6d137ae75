package main

import (
	"context"
	"errors"
	"fmt"
)

var ErrServiceFailure = errors.New("identity service failure")

// IdentityRef addresses one identity at the identity service
type IdentityRef struct {
	IdentityID   string `json:"identityId" msgpack:"id"`
	IdentityName string `json:"identityName" msgpack:"name"`
	Account      string `json:"account" msgpack:"account"`
	Scope        string `json:"scope" msgpack:"scope"`
	RootScope    string `json:"rootScope" msgpack:"root"`
}

// ServiceResult is the service's answer to a single action
type ServiceResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// BatchReport summarises a batch quarantine
type BatchReport struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Errors     []string      `json:"errors,omitempty"`
	FailedRefs []IdentityRef `json:"-"`
}

// IdentityService performs the real-world actions behind eliminations.
// A returned error means the call itself failed; a ServiceResult with
// Success=false is an explicit refusal.
type IdentityService interface {
	Quarantine(ctx context.Context, identityID, identityName, account, scope, rootScope string) (ServiceResult, error)
	BlockThirdParty(ctx context.Context, thirdPartyID, thirdPartyName string) (ServiceResult, error)
	BatchQuarantine(ctx context.Context, refs []IdentityRef) (BatchReport, error)
}

// TransientError marks a failure worth retrying (timeout, 5xx, connection reset)
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ServiceError is an explicit success=false answer, or exhausted retries
type ServiceError struct {
	Op      string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrServiceFailure
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// resultError turns a service answer into an error: nil on success,
// *ServiceError on an explicit refusal
func resultError(op string, res ServiceResult, err error) error {
	if err != nil {
		return err
	}
	if !res.Success {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "rejected"
		}
		return &ServiceError{Op: op, Message: msg}
	}
	return nil
}

// userMessage is the short text shown to the player for a failed action
func userMessage(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Message
	}
	if IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return "identity service unavailable"
	}
	return err.Error()
}
