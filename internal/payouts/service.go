package payouts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrorCode identifies a payout business-rule violation.
type ErrorCode string

const (
	CodeBelowMinimum        ErrorCode = "BelowMinimum"
	CodeInsufficientBalance ErrorCode = "InsufficientBalance"
	CodeInvalidPayload      ErrorCode = "InvalidPayload"
	CodeInvalidTransition   ErrorCode = "InvalidTransition"
	CodeNotFound            ErrorCode = "NotFound"
)

// Error is a user-displayable payout failure.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	// DefaultMinimumAmount is the request floor in account currency.
	DefaultMinimumAmount = 100.0
	// defaultFeePercent is withheld from every payout before dispatch.
	defaultFeePercent = 2.0

	minWalletAddressLength = 26

	defaultMaxDispatchAttempts = 5
	defaultBackoffBase         = time.Second
	defaultBackoffCap          = 30 * time.Second
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingEarnings = errors.New("earnings source is required")
)

// EarningsSource reports a member's lifetime commission earnings, the
// ceiling every withdrawal is checked against. The lookup must run on the
// supplied handle: Submit calls it from inside an open transaction, and on
// a single-connection pool any query outside that transaction deadlocks.
type EarningsSource interface {
	TotalEarnings(ctx context.Context, db *gorm.DB, memberID string) (float64, error)
}

// EarningsFunc adapts a plain function to EarningsSource.
type EarningsFunc func(ctx context.Context, db *gorm.DB, memberID string) (float64, error)

func (f EarningsFunc) TotalEarnings(ctx context.Context, db *gorm.DB, memberID string) (float64, error) {
	return f(ctx, db, memberID)
}

// Processor submits an accepted payout to the external payment rail.
// Returning an error marks the attempt transient and eligible for retry.
type Processor interface {
	Submit(ctx context.Context, payout Payout) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, payout Payout) error

func (f ProcessorFunc) Submit(ctx context.Context, payout Payout) error {
	return f(ctx, payout)
}

// StatusListener observes committed payout status changes: dispatch
// acceptance, dispatch exhaustion, and admin transitions. Invoked after the
// recording transaction, off the row lock.
type StatusListener func(payout Payout)

// ServiceConfig describes the payout service dependencies.
type ServiceConfig struct {
	Database  *gorm.DB
	Earnings  EarningsSource
	Processor Processor
	Clock     func() time.Time
	IDs       func() string
	Logger    *zap.Logger

	// MinimumAmount overrides the request floor when positive.
	MinimumAmount float64
	// FeePercent overrides the withheld fee when non-negative; the zero
	// config value keeps the default.
	FeePercent float64
	// RetryDelay maps a zero-based dispatch attempt to a wait. The default
	// doubles from one second and caps at thirty.
	RetryDelay  func(attempt int) time.Duration
	MaxAttempts int
	// OnStatusChange, when set, receives every payout whose status moved.
	OnStatusChange StatusListener
}

// Service owns the withdrawal ledger and processor dispatch.
type Service struct {
	db          *gorm.DB
	earnings    EarningsSource
	processor   Processor
	clock       func() time.Time
	ids         func() string
	logger      *zap.Logger
	minimum     float64
	feePercent  float64
	retryDelay  func(attempt int) time.Duration
	maxAttempts int
	notify      StatusListener

	dispatches sync.WaitGroup
}

// NewService constructs the payout service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Earnings == nil {
		return nil, errMissingEarnings
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minimum := cfg.MinimumAmount
	if minimum <= 0 {
		minimum = DefaultMinimumAmount
	}
	feePercent := cfg.FeePercent
	if feePercent <= 0 {
		feePercent = defaultFeePercent
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == nil {
		retryDelay = defaultRetryDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDispatchAttempts
	}
	return &Service{
		db:          cfg.Database,
		earnings:    cfg.Earnings,
		processor:   cfg.Processor,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		minimum:     minimum,
		feePercent:  feePercent,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		notify:      cfg.OnStatusChange,
	}, nil
}

func defaultRetryDelay(attempt int) time.Duration {
	delay := defaultBackoffBase << attempt
	if delay > defaultBackoffCap || delay <= 0 {
		return defaultBackoffCap
	}
	return delay
}

// Balance is the funds view rendered on the payout page.
type Balance struct {
	AvailableBalance float64 `json:"availableBalance"`
	TotalEarned      float64 `json:"totalEarned"`
	TotalPaid        float64 `json:"totalPaid"`
	PendingAmount    float64 `json:"pendingAmount"`
}

// Balance computes the member's withdrawable funds. Pending and processing
// requests hold their amounts so a member cannot double-spend while one is
// in flight.
func (s *Service) Balance(ctx context.Context, memberID string) (Balance, error) {
	earned, err := s.earnings.TotalEarnings(ctx, s.db, memberID)
	if err != nil {
		return Balance{}, fmt.Errorf("payouts.balance: %w", err)
	}

	var paid, held float64
	if err := s.sumByStatus(ctx, memberID, &paid, StatusCompleted); err != nil {
		return Balance{}, err
	}
	if err := s.sumByStatus(ctx, memberID, &held, StatusPending, StatusProcessing); err != nil {
		return Balance{}, err
	}

	available := earned - paid - held
	if available < 0 {
		available = 0
	}
	return Balance{
		AvailableBalance: available,
		TotalEarned:      earned,
		TotalPaid:        paid,
		PendingAmount:    held,
	}, nil
}

func (s *Service) sumByStatus(ctx context.Context, memberID string, out *float64, statuses ...Status) error {
	err := s.db.WithContext(ctx).Model(&Payout{}).
		Where("member_id = ? AND status IN ?", memberID, statuses).
		Select("COALESCE(SUM(amount), 0)").
		Scan(out).Error
	if err != nil {
		return fmt.Errorf("payouts.balance: %w", err)
	}
	return nil
}

// Request is the member-supplied withdrawal payload.
type Request struct {
	Amount              float64 `json:"amount"`
	PayoutMethod        string  `json:"payoutMethod"`
	CryptoWalletAddress string  `json:"cryptoWalletAddress"`
	CryptoCurrency      string  `json:"cryptoCurrency"`
}

// Submit validates a withdrawal request, writes a pending ledger row, and
// dispatches it to the processor in the background. The balance check and
// the insert share one transaction so concurrent requests cannot both
// spend the same funds.
func (s *Service) Submit(ctx context.Context, memberID string, req Request) (Payout, error) {
	if err := s.validateRequest(req); err != nil {
		return Payout{}, err
	}

	now := s.clock().UTC()
	row := Payout{
		ID:                  s.ids(),
		MemberID:            memberID,
		ReferenceNumber:     newReferenceNumber(s.ids),
		Amount:              req.Amount,
		FeeAmount:           round2(req.Amount * s.feePercent / 100),
		PayoutMethod:        MethodCrypto,
		CryptoWalletAddress: strings.TrimSpace(req.CryptoWalletAddress),
		CryptoCurrency:      req.CryptoCurrency,
		Status:              StatusPending,
		RequestedAt:         now,
	}
	row.NetAmount = round2(row.Amount - row.FeeAmount)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		earned, err := s.earnings.TotalEarnings(ctx, tx, memberID)
		if err != nil {
			return fmt.Errorf("payouts.submit: %w", err)
		}
		var spent float64
		err = tx.Model(&Payout{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("member_id = ? AND status IN ?", memberID,
				[]Status{StatusPending, StatusProcessing, StatusCompleted}).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&spent).Error
		if err != nil {
			return fmt.Errorf("payouts.submit: %w", err)
		}
		if req.Amount > earned-spent {
			return &Error{
				Code:    CodeInsufficientBalance,
				Message: "The requested amount exceeds your available balance",
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("payouts.submit: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return Payout{}, txErr
	}

	s.logger.Info("payout requested",
		zap.String("member_id", memberID),
		zap.String("payout_id", row.ID),
		zap.Float64("amount", row.Amount),
		zap.String("currency", row.CryptoCurrency))

	s.dispatch(row)
	return row, nil
}

func (s *Service) validateRequest(req Request) error {
	if req.Amount < s.minimum {
		return &Error{
			Code:    CodeBelowMinimum,
			Message: fmt.Sprintf("Minimum payout amount is %.0f", s.minimum),
		}
	}
	if req.PayoutMethod != "" && req.PayoutMethod != MethodCrypto {
		return &Error{Code: CodeInvalidPayload, Message: "Only crypto payouts are supported"}
	}
	if len(strings.TrimSpace(req.CryptoWalletAddress)) < minWalletAddressLength {
		return &Error{Code: CodeInvalidPayload, Message: "A valid crypto wallet address is required"}
	}
	switch req.CryptoCurrency {
	case CurrencyUSDT, CurrencyBTC:
	default:
		return &Error{Code: CodeInvalidPayload, Message: "Supported currencies are USDT and BTC"}
	}
	return nil
}

// dispatch hands the payout to the processor off the request path. Transient
// submission failures are retried with capped exponential backoff; once the
// processor accepts, the row moves to processing. Exhausting every attempt
// marks the row failed, which releases the held funds.
func (s *Service) dispatch(row Payout) {
	if s.processor == nil {
		return
	}
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()

		var lastErr error
		for attempt := 0; attempt < s.maxAttempts; attempt++ {
			if attempt > 0 {
				time.Sleep(s.retryDelay(attempt - 1))
			}
			lastErr = s.processor.Submit(context.Background(), row)
			if lastErr == nil {
				if err := s.Advance(context.Background(), row.ID, StatusProcessing, ""); err != nil {
					s.logger.Error("payout accepted but status update failed",
						zap.String("payout_id", row.ID), zap.Error(err))
				}
				return
			}
			s.logger.Warn("payout dispatch attempt failed",
				zap.String("payout_id", row.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}

		if err := s.markFailed(row.ID, fmt.Sprintf("processor rejected after %d attempts: %v", s.maxAttempts, lastErr)); err != nil {
			s.logger.Error("failed payout could not be recorded",
				zap.String("payout_id", row.ID), zap.Error(err))
		}
	}()
}

// WaitForDispatches blocks until every in-flight processor handoff settles.
// Called on shutdown so accepted requests are not dropped.
func (s *Service) WaitForDispatches() {
	s.dispatches.Wait()
}

func (s *Service) markFailed(payoutID, reason string) error {
	var failed *Payout
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var row Payout
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", payoutID).
			Take(&row).Error
		if err != nil {
			return fmt.Errorf("payouts.fail: %w", err)
		}
		if row.Status != StatusPending && row.Status != StatusProcessing {
			return nil
		}
		err = tx.Model(&Payout{}).Where("id = ?", payoutID).Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
		}).Error
		if err != nil {
			return fmt.Errorf("payouts.fail: %w", err)
		}
		row.Status = StatusFailed
		row.FailureReason = reason
		failed = &row
		return nil
	})
	if txErr != nil {
		return txErr
	}
	if failed != nil {
		s.notifyStatus(*failed)
	}
	return nil
}

// Advance moves a payout through its status machine. Illegal moves fail
// with InvalidTransition; completion stamps CompletedAt and may attach the
// on-chain transaction hash.
func (s *Service) Advance(ctx context.Context, payoutID string, next Status, txHash string) error {
	var updated Payout
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Payout
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", payoutID).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{Code: CodeNotFound, Message: "No such payout request"}
		}
		if err != nil {
			return fmt.Errorf("payouts.advance: %w", err)
		}
		if !CanTransition(row.Status, next) {
			return &Error{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("A %s payout cannot move to %s", row.Status, next),
			}
		}

		updates := map[string]any{"status": next}
		row.Status = next
		if next == StatusCompleted {
			completedAt := s.clock().UTC()
			updates["completed_at"] = completedAt
			row.CompletedAt = &completedAt
			if txHash != "" {
				updates["tx_hash"] = txHash
				row.TxHash = txHash
			}
		}
		err = tx.Model(&Payout{}).Where("id = ?", payoutID).Updates(updates).Error
		if err != nil {
			return fmt.Errorf("payouts.advance: %w", err)
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.notifyStatus(updated)
	return nil
}

func (s *Service) notifyStatus(row Payout) {
	if s.notify == nil {
		return
	}
	s.notify(row)
}

// Stats summarizes a member's payout history by status.
type Stats struct {
	TotalRequested int64      `json:"totalRequested"`
	Pending        int64      `json:"pending"`
	Processing     int64      `json:"processing"`
	Completed      int64      `json:"completed"`
	Failed         int64      `json:"failed"`
	Cancelled      int64      `json:"cancelled"`
	TotalPaidOut   float64    `json:"totalPaidOut"`
	LastPayoutDate *time.Time `json:"lastPayoutDate,omitempty"`
}

// Stats aggregates request counts and the completed total for a member.
func (s *Service) Stats(ctx context.Context, memberID string) (Stats, error) {
	var rows []struct {
		Status Status
		Count  int64
		Total  float64
	}
	err := s.db.WithContext(ctx).Model(&Payout{}).
		Where("member_id = ?", memberID).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("payouts.stats: %w", err)
	}

	var stats Stats
	for _, row := range rows {
		stats.TotalRequested += row.Count
		switch row.Status {
		case StatusPending:
			stats.Pending = row.Count
		case StatusProcessing:
			stats.Processing = row.Count
		case StatusCompleted:
			stats.Completed = row.Count
			stats.TotalPaidOut = row.Total
		case StatusFailed:
			stats.Failed = row.Count
		case StatusCancelled:
			stats.Cancelled = row.Count
		}
	}

	var last Payout
	err = s.db.WithContext(ctx).
		Where("member_id = ? AND status = ?", memberID, StatusCompleted).
		Order("completed_at DESC").
		Take(&last).Error
	if err == nil {
		stats.LastPayoutDate = last.CompletedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, fmt.Errorf("payouts.stats: %w", err)
	}
	return stats, nil
}

// Pagination describes a history page.
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	TotalPayouts int64 `json:"totalPayouts"`
}

// History returns the member's payout requests newest first.
func (s *Service) History(ctx context.Context, memberID string, page, limit int) ([]Payout, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	var total int64
	err := s.db.WithContext(ctx).Model(&Payout{}).
		Where("member_id = ?", memberID).
		Count(&total).Error
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("payouts.history: %w", err)
	}

	var rows []Payout
	err = s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("requested_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("payouts.history: %w", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	if totalPages < 1 {
		totalPages = 1
	}
	return rows, Pagination{CurrentPage: page, TotalPages: totalPages, TotalPayouts: total}, nil
}

func newReferenceNumber(ids func() string) string {
	compact := strings.ToUpper(strings.ReplaceAll(ids(), "-", ""))
	if len(compact) > 10 {
		compact = compact[:10]
	}
	return "PAY-" + compact
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
