package payments

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	StatusBookingNotFound         = "BOOKING_NOT_FOUND"
	StatusBookingNotConfirmed     = "BOOKING_NOT_CONFIRMED"
	StatusKhaltiInvalidResponse   = "KHALTI_INVALID_RESPONSE"
	StatusKhaltiInitFailed        = "KHALTI_INIT_FAILED"
	StatusTransactionNotFound     = "TRANSACTION_NOT_FOUND"
	StatusAlreadyVerified         = "ALREADY_VERIFIED"
	StatusVerificationFailed      = "VERIFICATION_FAILED"
	StatusVerificationError       = "VERIFICATION_ERROR"
	StatusPaymentNotCompleted     = "PAYMENT_NOT_COMPLETED"
	StatusDuplicatePayment        = "DUPLICATE_PAYMENT"
	StatusPaymentAlreadyCompleted = "PAYMENT_ALREADY_COMPLETED"
	StatusInvalidRole             = "INVALID_ROLE"
	StatusInitiationError         = "INITIATION_ERROR"
	StatusInvalidStatus           = "INVALID_STATUS"
	StatusReadError               = "STATUS_READ_ERROR"
	StatusUpdateError             = "STATUS_UPDATE_ERROR"
	StatusHistoryError            = "HISTORY_ERROR"
)

// Error is the tagged failure returned by service operations. Code is the
// HTTP status the boundary should answer with.
type Error struct {
	Code    int
	Status  string
	Message string
	// Upstream is the gateway HTTP status, when the failure came from Khalti.
	Upstream int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a tagged error; anything else is reported as a 500 with the given fallback tag.
func AsError(err error, fallback string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: http.StatusInternalServerError, Status: fallback, Message: "internal error", Err: err}
}

func errBookingNotFound() *Error {
	return &Error{Code: http.StatusNotFound, Status: StatusBookingNotFound, Message: "booking not found or already processed"}
}

func errTransactionNotFound() *Error {
	return &Error{Code: http.StatusNotFound, Status: StatusTransactionNotFound, Message: "no payment transaction found for this booking"}
}

func errInitiation(err error) *Error {
	return &Error{Code: http.StatusInternalServerError, Status: StatusInitiationError, Message: "could not start payment", Err: err}
}
