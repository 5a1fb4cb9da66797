package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/rank"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrorCode identifies a reward business-rule violation.
type ErrorCode string

const (
	CodeNotEligible       ErrorCode = "NotEligible"
	CodeAlreadyClaimed    ErrorCode = "AlreadyClaimed"
	CodeInvalidTransition ErrorCode = "InvalidTransition"
	CodeInvalidPayload    ErrorCode = "InvalidPayload"
	CodeUnknownRank       ErrorCode = "UnknownRank"
)

// Error is a user-displayable claim or fulfillment failure.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var errMissingDatabase = errors.New("database handle is required")

// ServiceConfig describes the reward ledger dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service tracks one-time reward claims per member per rank.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the reward ledger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// AvailableReward is a synthesized claimable entry: the member's highest rank
// covers it and no claim row exists yet.
type AvailableReward struct {
	CatalogEntry
	Status Status `json:"status"`
}

// ClaimedReward is a row from the ledger rendered for history views.
type ClaimedReward struct {
	Rank           rank.Rank `json:"rank"`
	RewardType     string    `json:"rewardType"`
	Status         Status    `json:"status"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	ClaimedDate    time.Time `json:"claimedDate"`
}

// Available lists claimable and already-claimed rewards for a member, given
// the highest rank they have ever achieved. No rows are written: claimable
// entries are derived from the catalog and the achieved rank alone.
func (s *Service) Available(ctx context.Context, memberID string, achieved rank.Rank) ([]AvailableReward, []ClaimedReward, error) {
	var rows []Reward
	if err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("claimed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("rewards.available: %w", err)
	}

	claimedByRank := make(map[rank.Rank]Reward, len(rows))
	claimed := make([]ClaimedReward, 0, len(rows))
	for _, row := range rows {
		claimedByRank[row.Rank] = row
		claimed = append(claimed, ClaimedReward{
			Rank:           row.Rank,
			RewardType:     row.RewardType,
			Status:         row.Status,
			TrackingNumber: row.TrackingNumber,
			ClaimedDate:    row.ClaimedAt,
		})
	}

	available := make([]AvailableReward, 0)
	for _, earned := range rank.UpTo(achieved) {
		if _, alreadyClaimed := claimedByRank[earned]; alreadyClaimed {
			continue
		}
		entry, ok := CatalogFor(earned)
		if !ok {
			continue
		}
		available = append(available, AvailableReward{CatalogEntry: entry, Status: StatusAvailable})
	}
	return available, claimed, nil
}

// ClaimRequest carries the member-supplied claim payload.
type ClaimRequest struct {
	Rank            rank.Rank
	ShippingAddress *ShippingAddress
	Size            string
	Color           string
	Notes           string
}

// Claim writes a CLAIMED ledger row for (memberID, rank). The payload is
// validated against the catalog requirements before the write; the composite
// unique index makes a racing duplicate claim fail at the storage layer.
func (s *Service) Claim(ctx context.Context, memberID string, achieved rank.Rank, req ClaimRequest) (Reward, error) {
	entry, ok := CatalogFor(req.Rank)
	if !ok {
		return Reward{}, &Error{Code: CodeUnknownRank, Message: fmt.Sprintf("No reward is defined for rank %s", req.Rank)}
	}
	if !rank.AtLeast(achieved, req.Rank) {
		return Reward{}, &Error{
			Code:    CodeNotEligible,
			Message: fmt.Sprintf("Rank %s has not been achieved yet", req.Rank),
		}
	}
	if err := validatePayload(entry, req); err != nil {
		return Reward{}, err
	}

	row := Reward{
		MemberID:   memberID,
		Rank:       req.Rank,
		RewardType: entry.RewardType,
		Status:     StatusClaimed,
		Size:       req.Size,
		Color:      req.Color,
		Notes:      req.Notes,
		ClaimedAt:  s.clock().UTC(),
	}
	if req.ShippingAddress != nil {
		row.Shipping = *req.ShippingAddress
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Reward
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("member_id = ? AND rank = ?", memberID, req.Rank).
			Take(&existing).Error
		if err == nil {
			return &Error{Code: CodeAlreadyClaimed, Message: fmt.Sprintf("The %s reward has already been claimed", req.Rank)}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("rewards.claim: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &Error{Code: CodeAlreadyClaimed, Message: fmt.Sprintf("The %s reward has already been claimed", req.Rank)}
			}
			return fmt.Errorf("rewards.claim: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return Reward{}, txErr
	}

	s.logger.Info("reward claimed",
		zap.String("member_id", memberID),
		zap.String("rank", string(req.Rank)),
		zap.String("reward_type", entry.RewardType))
	return row, nil
}

func validatePayload(entry CatalogEntry, req ClaimRequest) error {
	if entry.RequiresShipping {
		if req.ShippingAddress == nil || !req.ShippingAddress.complete() {
			return &Error{Code: CodeInvalidPayload, Message: "A complete shipping address is required for this reward"}
		}
	}
	if entry.RequiresSize && !validSize(req.Size) {
		return &Error{Code: CodeInvalidPayload, Message: "A valid size is required for this reward"}
	}
	if entry.RequiresColor && !validColor(entry, req.Color) {
		return &Error{Code: CodeInvalidPayload, Message: "A valid color choice is required for this reward"}
	}
	return nil
}

// Advance moves a claimed reward one step forward through fulfillment.
// Backward or skipping transitions fail with InvalidTransition. A tracking
// number may be attached when the reward ships.
func (s *Service) Advance(ctx context.Context, memberID string, r rank.Rank, next Status, trackingNumber string) (Reward, error) {
	var updated Reward
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Reward
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("member_id = ? AND rank = ?", memberID, r).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{Code: CodeNotEligible, Message: fmt.Sprintf("No claimed %s reward exists for this member", r)}
		}
		if err != nil {
			return fmt.Errorf("rewards.advance: %w", err)
		}

		if !CanAdvance(row.Status, next) {
			return &Error{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("Cannot move reward from %s to %s", row.Status, next),
			}
		}

		row.Status = next
		if trackingNumber != "" {
			row.TrackingNumber = trackingNumber
		}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("rewards.advance: %w", err)
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return Reward{}, txErr
	}

	s.logger.Info("reward advanced",
		zap.String("member_id", memberID),
		zap.String("rank", string(r)),
		zap.String("status", string(next)))
	return updated, nil
}
