package sessions

import "errors"

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when the caller may not act on the session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned for malformed booking or reschedule requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTherapistUnavailable is returned when no enabled availability window covers the request.
	ErrTherapistUnavailable = errors.New("therapist not available")

	// ErrSlotTaken is returned when the requested interval overlaps another booking.
	ErrSlotTaken = errors.New("time slot already booked")

	// ErrInvalidTransition is returned when the session is not in a state that allows the operation.
	ErrInvalidTransition = errors.New("session cannot transition from its current status")

	// ErrJoinTooEarly is returned when joining more than the early window before start.
	ErrJoinTooEarly = errors.New("session cannot be joined yet")

	// ErrJoinTooLate is returned when joining after the late window has passed.
	ErrJoinTooLate = errors.New("session join window has closed")

	// ErrCancellationWindow is returned when cancelling inside the lead-time window.
	ErrCancellationWindow = errors.New("session is too close to its start time to be cancelled")

	// ErrPaymentNotVerified is returned when a supplied payment reference fails verification.
	ErrPaymentNotVerified = errors.New("payment could not be verified")

	// ErrPaymentAlreadyUsed is returned when a payment reference already backs a live session.
	ErrPaymentAlreadyUsed = errors.New("payment reference already used")
)
