package payments

import (
	"context"
	"errors"
	"esm/src/lib"
	"esm/src/lib/khalti"
	"esm/src/models"
	"esm/src/models/scopes"
	"esm/src/types"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	placeholderCustomerName  = "Customer"
	placeholderCustomerEmail = "customer@example.com"
	placeholderCustomerPhone = "9800000000"
)

type InitiateResult struct {
	PaymentURL    string              `json:"paymentUrl"`
	Pidx          string              `json:"pidx"`
	TransactionID uuid.UUID           `json:"transactionId"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	Family        types.BookingFamily `json:"family"`
}

// InitiatePayment opens a Khalti payment for a booking owned by clientID.
// The booking row itself is never modified here.
func (s *Service) InitiatePayment(ctx context.Context, bookingID uuid.UUID, clientID uint) (*InitiateResult, error) {
	db := s.db.WithContext(ctx)
	log := s.log.With().Str("booking_id", bookingID.String()).Uint("client_id", clientID).Logger()

	family, booking, err := s.findPayable(db, bookingID, clientID)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("family", string(family.Name())).Logger()

	txn := models.Transaction{
		BookingID:     booking.ID,
		Amount:        booking.TotalAmount,
		PaymentMethod: types.PAYMENT_METHOD_KHALTI,
		Status:        types.TRANSACTION_PENDING,
	}
	if err := createTransaction(db, family.TransactionTable(), &txn); err != nil {
		log.Error().Err(err).Msg("could not create payment transaction")
		return nil, errInitiation(err)
	}
	log = log.With().Str("transaction_id", txn.ID.String()).Logger()

	req := khalti.InitiateRequest{
		ReturnURL:         s.cfg.ReturnURL,
		WebsiteURL:        s.cfg.FrontendOrigin,
		Amount:            ToPaisa(booking.TotalAmount),
		PurchaseOrderID:   booking.ID.String(),
		PurchaseOrderName: family.OrderName(booking),
		CustomerInfo:      customerInfo(booking.Customer),
	}
	res, err := s.initiator.Initiate(ctx, req)
	if err != nil {
		if body := khalti.ResponseBody(err); len(body) > 0 {
			if uerr := db.Table(family.TransactionTable()).
				Scopes(scopes.WithID(txn.ID)).
				Updates(map[string]any{"gateway_response": types.NewJSONB(body), "updated_at": s.now()}).Error; uerr != nil {
				log.Warn().Err(uerr).Msg("could not store gateway response")
			}
		}
		lib.PaymentInitiations.WithLabelValues(string(family.Name()), "failed").Inc()
		log.Error().Err(err).Msg("khalti initiation failed")
		return nil, initiationError(err)
	}

	err = db.Table(family.TransactionTable()).
		Scopes(scopes.WithID(txn.ID)).
		Updates(map[string]any{
			"gateway_transaction_id": res.Pidx,
			"gateway_payment_url":    res.PaymentURL,
			"gateway_response":       types.NewJSONB(res.Raw),
			"updated_at":             s.now(),
		}).Error
	if err != nil {
		log.Error().Err(err).Str("pidx", res.Pidx).Msg("could not record khalti pidx")
		return nil, errInitiation(err)
	}

	lib.PaymentInitiations.WithLabelValues(string(family.Name()), "initiated").Inc()
	log.Info().Str("pidx", res.Pidx).Int64("amount_paisa", req.Amount).Msg("khalti payment initiated")
	return &InitiateResult{
		PaymentURL:    res.PaymentURL,
		Pidx:          res.Pidx,
		TransactionID: txn.ID,
		ExpiresAt:     res.ExpiresAt,
		Family:        family.Name(),
	}, nil
}

// findPayable walks the families in order. The confirmation gate is checked
// on the owned row so it applies whatever the payment status is.
func (s *Service) findPayable(db *gorm.DB, bookingID uuid.UUID, clientID uint) (BookingFamily, *BookingRecord, error) {
	for _, family := range s.families {
		owned, err := family.FindOwned(db, bookingID, clientID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, errInitiation(err)
		}
		if family.AwaitingConfirmation(owned) {
			return nil, nil, &Error{
				Code:    http.StatusBadRequest,
				Status:  StatusBookingNotConfirmed,
				Message: "booking must be confirmed by the service provider before payment",
			}
		}
		booking, err := family.FindPayable(db, bookingID, clientID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errBookingNotFound()
		}
		if err != nil {
			return nil, nil, errInitiation(err)
		}
		return family, booking, nil
	}
	return nil, nil, errBookingNotFound()
}

func initiationError(err error) *Error {
	if errors.Is(err, khalti.ErrMalformedResponse) {
		return &Error{
			Code:     http.StatusBadGateway,
			Status:   StatusKhaltiInvalidResponse,
			Message:  "invalid response from Khalti",
			Upstream: khalti.StatusCode(err),
			Err:      err,
		}
	}
	return &Error{
		Code:     http.StatusBadGateway,
		Status:   StatusKhaltiInitFailed,
		Message:  "failed to initiate Khalti payment",
		Upstream: khalti.StatusCode(err),
		Err:      err,
	}
}

func customerInfo(u *models.User) khalti.CustomerInfo {
	info := khalti.CustomerInfo{
		Name:  placeholderCustomerName,
		Email: placeholderCustomerEmail,
		Phone: placeholderCustomerPhone,
	}
	if u == nil {
		return info
	}
	if u.Name != "" {
		info.Name = u.Name
	}
	if u.Email != "" {
		info.Email = u.Email
	}
	if u.Phone != "" {
		info.Phone = u.Phone
	}
	return info
}
