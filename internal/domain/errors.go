// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates a state change that the entity's lifecycle
// does not permit, such as completing a task that is not in progress or
// responding to a closed negotiation.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrBudgetExhausted indicates an execution budget ceiling was reached.
// It is a degradation signal, not a failure: callers package whatever
// partial output they have and stop cleanly.
var ErrBudgetExhausted = errors.New("budget exhausted")

// ErrNegotiationTimedOut indicates a negotiation passed its needed_by
// deadline without the quality criteria being met.
var ErrNegotiationTimedOut = errors.New("negotiation timed out")

// ErrStalePrediction indicates content references a prediction whose
// target date has passed while it is still unresolved. Publication paths
// must refuse to proceed until the prediction is resolved.
var ErrStalePrediction = errors.New("stale prediction blocks publication")
