package common

import (
	"context"
	"errors"
	"esm/src/config"
	"esm/src/lib"
	"esm/src/payments"
	"time"

	awslib "esm/src/lib/aws"

	"github.com/tidwall/gjson"
)

const sweepBatchSize = 50

// SweepReport summarizes a single sweeper run.
type SweepReport struct {
	Checked   int
	Completed int
	Failed    int
	Orphaned  int64
}

// Sweeper re-verifies pending transactions whose customer never came back
// through the return URL. Rows failed while Khalti still reported them in
// progress are revisited until the gateway settles.
type Sweeper struct {
	svc *payments.Service
	cfg config.SweeperConfig
}

func NewSweeper(svc *payments.Service, cfg config.SweeperConfig) *Sweeper {
	return &Sweeper{svc: svc, cfg: cfg}
}

func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	log := lib.WithComponent("sweeper")
	stale, err := s.svc.StalePending(ctx, s.cfg.MinAge, s.cfg.MaxAge, sweepBatchSize)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{}
	for _, t := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		res, err := s.svc.VerifyPayment(ctx, t.Pidx)
		if err != nil {
			log.Error().Err(err).Str("pidx", t.Pidx).Msg("error re-verifying transaction")
			continue
		}
		switch {
		case res.Success:
			report.Completed++
		case res.Status == payments.StatusPaymentNotCompleted:
			report.Failed++
		}
	}

	orphaned, err := s.svc.CountOrphaned(ctx, s.cfg.MinAge)
	if err != nil {
		return report, err
	}
	report.Orphaned = orphaned
	lib.OrphanedTransactions.Set(float64(orphaned))

	log.Info().
		Int("checked", report.Checked).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int64("orphaned", report.Orphaned).
		Msg("sweep finished")
	return report, nil
}

// Run is the scheduler entry point. A run never outlives the sweep interval.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		lib.WithComponent("sweeper").Error().Err(err).Msg("sweep failed")
	}
}

// PaymentVerificationHandler consumes {"pidx": "..."} messages, either raw or
// wrapped in an SNS envelope. Unusable messages are acknowledged and dropped;
// store failures are returned so the message is redelivered.
func PaymentVerificationHandler(svc *payments.Service) awslib.MessageHandler {
	log := lib.WithComponent("verification-queue")
	return func(ctx context.Context, body string) error {
		if !gjson.Valid(body) {
			log.Warn().Msg("received invalid json body, dropping")
			return nil
		}
		pidx := gjson.Get(body, "pidx").String()
		if pidx == "" {
			if msg := gjson.Get(body, "Message").String(); gjson.Valid(msg) {
				pidx = gjson.Get(msg, "pidx").String()
			}
		}
		if pidx == "" {
			log.Warn().Msg("message has no pidx, dropping")
			return nil
		}
		res, err := svc.VerifyPayment(ctx, pidx)
		if err != nil {
			return err
		}
		if !res.Success && res.Status == payments.StatusVerificationFailed {
			// Khalti unreachable or lock held elsewhere; try again later.
			return errors.New(res.Message)
		}
		log.Info().Str("pidx", pidx).Bool("success", res.Success).Str("status", res.Status).Msg("verification message processed")
		return nil
	}
}

// retryAfter is the pause a worker waits when the queue consumer exits early.
const retryAfter = 30 * time.Second

// ListenForVerifications keeps the queue consumer alive until ctx is done.
func ListenForVerifications(ctx context.Context, consumer *awslib.SQSConsumer) {
	log := lib.WithComponent("verification-queue")
	for {
		if err := consumer.Listen(ctx); err != nil {
			log.Error().Err(err).Msg("queue consumer stopped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryAfter):
		}
	}
}
