package payments

import (
	"context"
	"errors"
	"esm/src/lib"
	"esm/src/lib/khalti"
	"esm/src/models"
	"esm/src/types"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// VerifyResult is returned for every expected verification outcome.
type VerifyResult struct {
	Success       bool                `json:"success"`
	Status        string              `json:"status,omitempty"`
	Message       string              `json:"message"`
	GatewayStatus string              `json:"gatewayStatus,omitempty"`
	Family        types.BookingFamily `json:"family,omitempty"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
}

var errDuplicatePayment = errors.New("booking already has a completed transaction")

// VerifyPayment settles the transaction identified by pidx against Khalti's
// lookup. It is safe to call repeatedly; an error is returned only for
// unexpected store failures.
func (s *Service) VerifyPayment(ctx context.Context, pidx string) (*VerifyResult, error) {
	pidx = strings.TrimSpace(pidx)
	if pidx == "" {
		return s.verified(&VerifyResult{Status: StatusTransactionNotFound, Message: "payment reference is missing"}), nil
	}
	log := s.log.With().Str("pidx", pidx).Logger()

	family, txn, err := s.findByPidx(s.db.WithContext(ctx), pidx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.verified(&VerifyResult{Status: StatusTransactionNotFound, Message: "transaction not found or already processed"}), nil
	}
	if err != nil {
		return nil, err
	}
	if txn.IsCompleted() {
		return s.alreadyVerified(family, txn), nil
	}

	release, ok, err := s.locker.Acquire(ctx, "verify:"+pidx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("verification lock unavailable, continuing without it")
	case !ok:
		return s.verified(&VerifyResult{
			Status:      StatusVerificationFailed,
			Message:     "verification already in progress, please retry shortly",
			Family:      family.Name(),
			Transaction: txn,
		}), nil
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("could not release verification lock")
			}
		}()
	}

	table := family.TransactionTable()
	if txn, err = findTransaction(s.db.WithContext(ctx), table, txn.ID); err != nil {
		return nil, err
	}
	if txn.IsCompleted() {
		return s.alreadyVerified(family, txn), nil
	}

	lookup, err := s.looker.Lookup(ctx, pidx)
	if err != nil {
		log.Warn().Err(err).Int("upstream_status", khalti.StatusCode(err)).Msg("khalti lookup failed")
		return s.verified(&VerifyResult{
			Status:      StatusVerificationFailed,
			Message:     "could not confirm payment with Khalti, please retry verification",
			Family:      family.Name(),
			Transaction: txn,
		}), nil
	}

	if lookup.IsCompleted() {
		return s.complete(ctx, family, txn, lookup)
	}
	return s.fail(ctx, family, txn, lookup)
}

func (s *Service) findByPidx(db *gorm.DB, pidx string) (BookingFamily, *models.Transaction, error) {
	for _, family := range s.families {
		txn, err := findTransactionByPidx(db, family.TransactionTable(), pidx)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return family, txn, nil
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (s *Service) verified(res *VerifyResult) *VerifyResult {
	status := res.Status
	if status == "" {
		status = "COMPLETED"
	}
	lib.PaymentVerifications.WithLabelValues(status).Inc()
	return res
}

func (s *Service) alreadyVerified(family BookingFamily, txn *models.Transaction) *VerifyResult {
	return s.verified(&VerifyResult{
		Success:     true,
		Status:      StatusAlreadyVerified,
		Message:     "payment already verified",
		Family:      family.Name(),
		Transaction: txn,
	})
}

func (s *Service) complete(ctx context.Context, family BookingFamily, txn *models.Transaction, lookup *khalti.LookupResponse) (*VerifyResult, error) {
	log := s.log.With().Str("pidx", txn.Pidx()).Str("transaction_id", txn.ID.String()).Str("booking_id", txn.BookingID.String()).Logger()
	table := family.TransactionTable()
	now := s.now()
	raw := types.NewJSONB(lookup.Raw)

	var lost, bookingMissing bool
	var paidBy *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := family.FindByID(tx, txn.BookingID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bookingMissing = true
		} else if err != nil {
			return err
		}

		paidBy, err = otherCompletedExists(tx, table, txn.BookingID, txn.ID)
		if err != nil {
			return err
		}
		if paidBy != nil {
			return errDuplicatePayment
		}

		n, err := completeTransaction(tx, table, txn.ID, now, raw)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errDuplicatePayment
		}
		if err != nil {
			return err
		}
		if n == 0 {
			lost = true
			return nil
		}
		if bookingMissing {
			return nil
		}
		rows, err := family.MarkPaid(tx, txn.BookingID)
		if err != nil {
			return err
		}
		bookingMissing = rows == 0
		return nil
	})
	if errors.Is(err, errDuplicatePayment) {
		return s.rejectDuplicate(ctx, family, txn, paidBy, raw)
	}
	if err != nil {
		return nil, fmt.Errorf("completing transaction %s: %w", txn.ID, err)
	}

	current, err := findTransaction(s.db.WithContext(ctx), table, txn.ID)
	if err != nil {
		return nil, err
	}
	if lost {
		return s.alreadyVerified(family, current), nil
	}

	res := &VerifyResult{
		Success:       true,
		Message:       "payment verified successfully",
		GatewayStatus: lookup.Status,
		Family:        family.Name(),
		Transaction:   current,
	}
	if bookingMissing {
		lib.PaymentMismatches.WithLabelValues(string(family.Name())).Inc()
		log.Error().Msg("payment completed but booking could not be marked paid")
		s.alert(ctx, "Payment completed for missing booking", fmt.Sprintf(
			"Transaction %s (pidx %s) completed but %s booking %s could not be updated. Manual reconciliation required.",
			current.ID, current.Pidx(), family.Name(), current.BookingID,
		))
		res.Message = "payment verified; booking requires manual reconciliation"
	}
	log.Info().
		Bool("booking_updated", !bookingMissing).
		Str("khalti_transaction_id", lookup.TransactionID).
		Int64("total_amount", lookup.TotalAmount).
		Int64("fee", lookup.Fee).
		Bool("refunded", lookup.Refunded).
		Msg("payment verified")
	s.publish(ctx, family, current)
	return s.verified(res), nil
}

func (s *Service) rejectDuplicate(ctx context.Context, family BookingFamily, txn *models.Transaction, paidBy *models.Transaction, raw types.JSONB) (*VerifyResult, error) {
	table := family.TransactionTable()
	db := s.db.WithContext(ctx)
	if paidBy == nil {
		var err error
		if paidBy, err = otherCompletedExists(db, table, txn.BookingID, txn.ID); err != nil {
			return nil, err
		}
	}
	reason := "booking already paid by another transaction"
	if paidBy != nil {
		reason = fmt.Sprintf("booking already paid by transaction %s", paidBy.ID)
	}
	before, err := findTransaction(db, table, txn.ID)
	if err != nil {
		return nil, err
	}
	outcome, err := failTransaction(db, table, txn.ID, s.now(), reason, raw)
	if err != nil {
		return nil, err
	}
	current, err := findTransaction(db, table, txn.ID)
	if err != nil {
		return nil, err
	}
	if outcome == failSkipped {
		return s.alreadyVerified(family, current), nil
	}
	// Repeated verification of an already rejected pidx stays silent.
	alreadyRejected := before.FailureReason != nil && *before.FailureReason == reason
	if outcome == failTransitioned || !alreadyRejected {
		s.log.Error().Str("pidx", txn.Pidx()).Str("booking_id", txn.BookingID.String()).Msg("duplicate payment captured")
		s.alert(ctx, "Duplicate Khalti payment", fmt.Sprintf(
			"Khalti reports pidx %s as Completed but %s booking %s is already paid. %s. The second charge needs a refund.",
			txn.Pidx(), family.Name(), txn.BookingID, reason,
		))
	}
	if outcome == failTransitioned {
		s.publish(ctx, family, current)
	}
	return s.verified(&VerifyResult{
		Status:        StatusDuplicatePayment,
		Message:       "this booking has already been paid; the duplicate payment will be refunded",
		GatewayStatus: khalti.StatusCompleted,
		Family:        family.Name(),
		Transaction:   current,
	}), nil
}

func (s *Service) fail(ctx context.Context, family BookingFamily, txn *models.Transaction, lookup *khalti.LookupResponse) (*VerifyResult, error) {
	table := family.TransactionTable()
	db := s.db.WithContext(ctx)
	reason := failureReason(lookup)

	outcome, err := failTransaction(db, table, txn.ID, s.now(), reason, types.NewJSONB(lookup.Raw))
	if err != nil {
		return nil, fmt.Errorf("failing transaction %s: %w", txn.ID, err)
	}
	current, err := findTransaction(db, table, txn.ID)
	if err != nil {
		return nil, err
	}
	if outcome == failSkipped {
		return s.alreadyVerified(family, current), nil
	}
	if outcome == failTransitioned {
		s.log.Info().Str("pidx", txn.Pidx()).Str("gateway_status", lookup.Status).Msg("payment not completed")
		s.publish(ctx, family, current)
	}
	return s.verified(&VerifyResult{
		Status:        StatusPaymentNotCompleted,
		Message:       "payment was not completed",
		GatewayStatus: lookup.Status,
		Family:        family.Name(),
		Transaction:   current,
	}), nil
}

func failureReason(lookup *khalti.LookupResponse) string {
	for _, path := range []string{"detail", "message"} {
		if v := gjson.GetBytes(lookup.Raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	if lookup.Status != "" {
		return fmt.Sprintf("payment status reported as %s", lookup.Status)
	}
	return "payment could not be verified"
}
