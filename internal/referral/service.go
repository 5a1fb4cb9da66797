package referral

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

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingCodeProvider = errors.New("code provider is required")
	noOpLogger             = zap.NewNop()
)

// maxAncestorWalkDepth bounds the aggregate fan-out on placement. A chain this
// deep indicates a corrupted sponsor graph rather than a legitimate network.
const maxAncestorWalkDepth = 1024

// ServiceConfig describes the dependencies of the referral tree engine.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Codes    CodeProvider
	Logger   *zap.Logger
}

// Service validates and records placements in the binary referral tree and
// maintains the materialized aggregates hierarchy reads depend on.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	codes  CodeProvider
	logger *zap.Logger
}

// NewService constructs the tree engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Codes == nil {
		return nil, errMissingCodeProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, codes: cfg.Codes, logger: logger}, nil
}

// InitMembership ensures a member row with generated referral codes exists for
// the subject. Idempotent; reports whether a new row was created.
func (s *Service) InitMembership(ctx context.Context, memberID, name, email string) (Member, bool, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("id = ?", memberID).Take(&member).Error
	if err == nil {
		return member, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, false, fmt.Errorf("referral.init_membership: %w", err)
	}

	codeSet, err := s.codes.NewCodeSet()
	if err != nil {
		return Member{}, false, fmt.Errorf("referral.init_membership: code generation: %w", err)
	}
	member = Member{
		ID:                  memberID,
		Name:                name,
		Email:               email,
		ReferralCode:        codeSet.Main,
		LeftReferralCode:    codeSet.Left,
		RightReferralCode:   codeSet.Right,
		HighestRankAchieved: rank.RankNone,
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		return Member{}, false, fmt.Errorf("referral.init_membership: %w", err)
	}
	s.logger.Info("member initialized", zap.String("member_id", memberID))
	return member, true, nil
}

// GetMember loads a member by id.
func (s *Service) GetMember(ctx context.Context, memberID string) (Member, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("id = ?", memberID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, &Error{Code: CodeMemberNotFound, Message: "Member not found"}
	}
	if err != nil {
		return Member{}, fmt.Errorf("referral.get_member: %w", err)
	}
	return member, nil
}

// TotalEarnings reports a member's lifetime commission, the funding ceiling
// for withdrawals. The lookup runs on db so a caller holding a transaction
// stays on that transaction's connection.
func (s *Service) TotalEarnings(ctx context.Context, db *gorm.DB, memberID string) (float64, error) {
	var member Member
	err := db.WithContext(ctx).Where("id = ?", memberID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &Error{Code: CodeMemberNotFound, Message: "Member not found"}
	}
	if err != nil {
		return 0, fmt.Errorf("referral.total_earnings: %w", err)
	}
	return member.TotalEarnings, nil
}

// Validation is the result of resolving a referral code without mutating any
// state. The client-side availability display derived from it is advisory;
// ApplyPlacement re-checks under a row lock.
type Validation struct {
	Sponsor        Member
	Position       Position
	CurrentCount   int
	IsAvailable    bool
	Has2x2Achieved bool
}

// ValidateCode resolves a code to its sponsor and leg and reports occupancy.
// Fails with InvalidCode for unresolvable codes and LegFull when the resolved
// leg is at capacity while the sibling leg still has room.
func (s *Service) ValidateCode(ctx context.Context, code string) (Validation, error) {
	return s.resolveAvailability(s.db.WithContext(ctx), code, false)
}

// resolveAvailability implements the shared validate/apply resolution. With
// forUpdate set the sponsor row is locked for the enclosing transaction.
func (s *Service) resolveAvailability(tx *gorm.DB, code string, forUpdate bool) (Validation, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Validation{}, errInvalidCode(code)
	}

	query := tx.Where(
		"referral_code = ? OR left_referral_code = ? OR right_referral_code = ?",
		normalized, normalized, normalized,
	)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sponsor Member
	if err := query.Take(&sponsor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Validation{}, errInvalidCode(normalized)
		}
		return Validation{}, fmt.Errorf("referral.validate_code: %w", err)
	}

	position := PositionMain
	switch normalized {
	case sponsor.LeftReferralCode:
		position = PositionLeft
	case sponsor.RightReferralCode:
		position = PositionRight
	}

	// After 2:2 the sponsor leaves binary leg-filling mode: every code,
	// including the leg codes, resolves as a flat main placement.
	if sponsor.Has2x2Achieved() {
		return Validation{
			Sponsor:        sponsor,
			Position:       PositionMain,
			CurrentCount:   sponsor.MainTeamCount,
			IsAvailable:    true,
			Has2x2Achieved: true,
		}, nil
	}

	if position == PositionMain {
		return Validation{
			Sponsor:      sponsor,
			Position:     PositionMain,
			CurrentCount: sponsor.MainTeamCount,
			IsAvailable:  true,
		}, nil
	}

	occupied := sponsor.LegCount(position)
	if occupied >= LegCapacity {
		sibling := SiblingLeg(position)
		return Validation{}, errLegFull(position, occupied, sponsor.LegCode(sibling))
	}

	return Validation{
		Sponsor:      sponsor,
		Position:     position,
		CurrentCount: occupied,
		IsAvailable:  true,
	}, nil
}

// ApplyPlacement places an existing member under the sponsor resolved from
// code. Leg availability is re-validated atomically with the write so two
// joins racing for the last slot of a leg cannot both succeed; the loser
// receives LegFull with the sibling leg's code.
func (s *Service) ApplyPlacement(ctx context.Context, newMemberID, code string) (Member, error) {
	var placed Member
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member Member
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", newMemberID).
			Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{Code: CodeMemberNotFound, Message: "Member not found. Initialize membership first."}
		}
		if err != nil {
			return fmt.Errorf("referral.apply_placement: %w", err)
		}
		if member.SponsorID != nil {
			return &Error{Code: CodeAlreadyPlaced, Message: "You have already joined a team"}
		}

		validation, err := s.resolveAvailability(tx, code, true)
		if err != nil {
			return err
		}
		sponsor := validation.Sponsor
		if sponsor.ID == member.ID {
			return &Error{Code: CodeSelfReferral, Message: "You cannot join using your own referral code"}
		}

		edge := PlacementEdge{
			ChildID:   member.ID,
			SponsorID: sponsor.ID,
			Position:  validation.Position,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&edge).Error; err != nil {
			return fmt.Errorf("referral.apply_placement: edge insert: %w", err)
		}

		member.SponsorID = &sponsor.ID
		member.Position = validation.Position
		if err := tx.Model(&Member{}).Where("id = ?", member.ID).Updates(map[string]interface{}{
			"sponsor_id": sponsor.ID,
			"position":   validation.Position,
		}).Error; err != nil {
			return fmt.Errorf("referral.apply_placement: member update: %w", err)
		}

		sponsor.DirectCount++
		switch validation.Position {
		case PositionLeft:
			sponsor.LeftLegCount++
		case PositionRight:
			sponsor.RightLegCount++
		default:
			sponsor.MainTeamCount++
		}
		sponsor.Level = LevelForDirectCount(sponsor.DirectCount)
		if sponsor.DirectCount >= ActivationDirectThreshold {
			sponsor.BinaryActivated = true
		}
		if err := tx.Save(&sponsor).Error; err != nil {
			return fmt.Errorf("referral.apply_placement: sponsor update: %w", err)
		}

		// The delta covers the placed member only. A member who built a
		// subtree before joining brings it along; the scheduled recompute
		// folds that subtree into ancestor aggregates.
		delta := aggregateDelta{
			downline:   1,
			active:     boolToInt(member.IsActive),
			pv:         activePV(member),
			firstChild: member,
		}
		if err := s.walkAncestors(tx, sponsor, delta); err != nil {
			return err
		}

		placed = member
		return nil
	})
	if txErr != nil {
		var domainErr *Error
		if !errors.As(txErr, &domainErr) {
			s.logger.Error("placement failed", zap.String("member_id", newMemberID), zap.Error(txErr))
		}
		return Member{}, txErr
	}

	s.logger.Info("placement recorded",
		zap.String("member_id", placed.ID),
		zap.String("position", string(placed.Position)))
	return placed, nil
}

// SetActivation flags a member active or inactive and attributes their point
// value. Activation is externally defined (an active subscription); leg PV and
// active-affiliate counts fan out to every ancestor.
func (s *Service) SetActivation(ctx context.Context, memberID string, active bool, personalPV float64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member Member
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", memberID).
			Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{Code: CodeMemberNotFound, Message: "Member not found"}
		}
		if err != nil {
			return fmt.Errorf("referral.set_activation: %w", err)
		}

		previous := member
		member.IsActive = active
		member.PersonalPV = personalPV
		if err := tx.Model(&Member{}).Where("id = ?", member.ID).Updates(map[string]interface{}{
			"is_active":   active,
			"personal_pv": personalPV,
		}).Error; err != nil {
			return fmt.Errorf("referral.set_activation: %w", err)
		}

		if member.SponsorID == nil {
			return nil
		}
		var sponsor Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", *member.SponsorID).
			Take(&sponsor).Error; err != nil {
			return fmt.Errorf("referral.set_activation: sponsor load: %w", err)
		}

		delta := aggregateDelta{
			active:     boolToInt(member.IsActive) - boolToInt(previous.IsActive),
			pv:         activePV(member) - activePV(previous),
			firstChild: member,
		}
		return s.walkAncestors(tx, sponsor, delta)
	})
	if txErr != nil {
		return txErr
	}
	s.logger.Info("activation updated",
		zap.String("member_id", memberID),
		zap.Bool("active", active),
		zap.Float64("personal_pv", personalPV))
	return nil
}

// aggregateDelta is the incremental change a placement or activation applies
// to every ancestor's materialized aggregates.
type aggregateDelta struct {
	downline   int
	active     int
	pv         float64
	firstChild Member
}

// walkAncestors applies delta from start up to the root. The leg attribution
// at each ancestor follows the position of the path child one level below it,
// so deeper placements reach the correct leg PV at every ancestor level.
func (s *Service) walkAncestors(tx *gorm.DB, start Member, delta aggregateDelta) error {
	node := start
	pathChild := delta.firstChild
	for depth := 0; ; depth++ {
		if depth >= maxAncestorWalkDepth {
			return fmt.Errorf("referral.walk_ancestors: sponsor chain exceeds %d levels", maxAncestorWalkDepth)
		}

		node.TotalDownline += delta.downline
		node.TotalActiveAffiliates += delta.active
		// PV flows only through binary legs; main-team subtrees carry no
		// leg PV. The relevant leg is the one the path descends through.
		switch pathChild.Position {
		case PositionLeft:
			node.LeftLegPV += delta.pv
		case PositionRight:
			node.RightLegPV += delta.pv
		}
		applyRank(&node)

		if err := tx.Save(&node).Error; err != nil {
			return fmt.Errorf("referral.walk_ancestors: %w", err)
		}

		if node.SponsorID == nil {
			return nil
		}
		next := Member{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", *node.SponsorID).
			Take(&next).Error; err != nil {
			return fmt.Errorf("referral.walk_ancestors: ancestor load: %w", err)
		}
		pathChild = node
		node = next
	}
}

// applyRank refreshes the derived rank fields on a member. The highest rank
// ever achieved only moves upward, regardless of later aggregate changes.
func applyRank(member *Member) {
	current := rank.ForAffiliates(member.TotalActiveAffiliates)
	member.HighestRankAchieved = rank.Higher(member.HighestRankAchieved, current)
	member.TotalEarnings = rank.Commission(
		member.LeftLegPV, member.RightLegPV, current, member.BinaryActivated)
}

// RecomputeMember re-derives every materialized aggregate for one member from
// the placement history. The incremental fan-out on the write path keeps the
// aggregates current; this full pass is the drift-repair backstop run by the
// scheduler.
func (s *Service) RecomputeMember(ctx context.Context, memberID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member Member
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", memberID).
			Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Error{Code: CodeMemberNotFound, Message: "Member not found"}
		}
		if err != nil {
			return fmt.Errorf("referral.recompute: %w", err)
		}

		var edges []PlacementEdge
		if err := tx.Where("sponsor_id = ?", member.ID).Find(&edges).Error; err != nil {
			return fmt.Errorf("referral.recompute: %w", err)
		}

		member.DirectCount = len(edges)
		member.LeftLegCount = 0
		member.RightLegCount = 0
		member.MainTeamCount = 0
		member.TotalDownline = 0
		member.TotalActiveAffiliates = 0
		member.LeftLegPV = 0
		member.RightLegPV = 0

		for _, edge := range edges {
			stats, err := subtreeStats(tx, edge.ChildID, 0)
			if err != nil {
				return err
			}
			member.TotalDownline += stats.members
			member.TotalActiveAffiliates += stats.active
			switch edge.Position {
			case PositionLeft:
				member.LeftLegCount++
				member.LeftLegPV += stats.pv
			case PositionRight:
				member.RightLegCount++
				member.RightLegPV += stats.pv
			default:
				member.MainTeamCount++
			}
		}

		member.Level = LevelForDirectCount(member.DirectCount)
		if member.DirectCount >= ActivationDirectThreshold {
			member.BinaryActivated = true
		}
		applyRank(&member)

		if err := tx.Save(&member).Error; err != nil {
			return fmt.Errorf("referral.recompute: %w", err)
		}
		return nil
	})
}

// RecomputeAll runs the full aggregate pass over every member. Invoked by the
// reconciliation job; errors on individual members are logged and skipped so
// one bad row cannot starve the rest of the network.
func (s *Service) RecomputeAll(ctx context.Context) error {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Member{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("referral.recompute_all: %w", err)
	}
	for _, id := range ids {
		if err := s.RecomputeMember(ctx, id); err != nil {
			s.logger.Warn("aggregate recompute failed",
				zap.String("member_id", id), zap.Error(err))
		}
	}
	return nil
}

type subtreeAggregate struct {
	members int
	active  int
	pv      float64
}

// subtreeStats accumulates counts and PV over the subtree rooted at memberID,
// including the root member itself.
func subtreeStats(tx *gorm.DB, memberID string, depth int) (subtreeAggregate, error) {
	if depth >= maxAncestorWalkDepth {
		return subtreeAggregate{}, fmt.Errorf("referral.subtree_stats: depth exceeds %d", maxAncestorWalkDepth)
	}

	var member Member
	if err := tx.Where("id = ?", memberID).Take(&member).Error; err != nil {
		return subtreeAggregate{}, fmt.Errorf("referral.subtree_stats: %w", err)
	}
	stats := subtreeAggregate{
		members: 1,
		active:  boolToInt(member.IsActive),
		pv:      activePV(member),
	}

	var edges []PlacementEdge
	if err := tx.Where("sponsor_id = ?", memberID).Find(&edges).Error; err != nil {
		return subtreeAggregate{}, fmt.Errorf("referral.subtree_stats: %w", err)
	}
	for _, edge := range edges {
		child, err := subtreeStats(tx, edge.ChildID, depth+1)
		if err != nil {
			return subtreeAggregate{}, err
		}
		stats.members += child.members
		stats.active += child.active
		stats.pv += child.pv
	}
	return stats, nil
}

// activePV returns the PV a member currently contributes to ancestor legs.
// Inactive members contribute nothing.
func activePV(member Member) float64 {
	if !member.IsActive {
		return 0
	}
	return member.PersonalPV
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
