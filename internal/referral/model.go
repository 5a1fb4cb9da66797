package referral

import (
	"time"

	"github.com/ProPulseLabs/teamcore/internal/rank"
)

// Position identifies the leg a member was placed under at join time.
// Assigned exactly once and never mutated.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
	PositionMain  Position = "main"
)

const (
	// LegCapacity bounds direct children per binary leg. Once a leg holds
	// this many members its referral code stops accepting joins.
	LegCapacity = 2

	// ActivationDirectThreshold is the direct-referral count that unlocks
	// binary commission. Ranks and rewards are not gated by it.
	ActivationDirectThreshold = 10
)

// levelThresholds maps direct-referral counts to member levels, highest first.
var levelThresholds = []struct {
	directCount int
	level       int
}{
	{directCount: 100, level: 4},
	{directCount: 50, level: 3},
	{directCount: 25, level: 2},
	{directCount: 10, level: 1},
}

// LevelForDirectCount derives a member's level from their direct referrals.
func LevelForDirectCount(directCount int) int {
	for _, threshold := range levelThresholds {
		if directCount >= threshold.directCount {
			return threshold.level
		}
	}
	return 0
}

// Member is a participant in the binary referral network. Counts, PV sums and
// rank fields are materialized aggregates maintained by the placement and
// activation paths so that hierarchy reads never recurse.
type Member struct {
	ID                    string    `gorm:"column:id;primaryKey;size:36"`
	Name                  string    `gorm:"column:name;size:190"`
	Email                 string    `gorm:"column:email;size:320"`
	SponsorID             *string   `gorm:"column:sponsor_id;size:36;index"`
	Position              Position  `gorm:"column:position;size:8"`
	ReferralCode          string    `gorm:"column:referral_code;size:32;uniqueIndex;not null"`
	LeftReferralCode      string    `gorm:"column:left_referral_code;size:32;uniqueIndex;not null"`
	RightReferralCode     string    `gorm:"column:right_referral_code;size:32;uniqueIndex;not null"`
	DirectCount           int       `gorm:"column:direct_count;not null;default:0"`
	LeftLegCount          int       `gorm:"column:left_leg_count;not null;default:0"`
	RightLegCount         int       `gorm:"column:right_leg_count;not null;default:0"`
	MainTeamCount         int       `gorm:"column:main_team_count;not null;default:0"`
	Level                 int       `gorm:"column:level;not null;default:0"`
	TotalDownline         int       `gorm:"column:total_downline;not null;default:0"`
	TotalEarnings         float64   `gorm:"column:total_earnings;not null;default:0"`
	PersonalPV            float64   `gorm:"column:personal_pv;not null;default:0"`
	LeftLegPV             float64   `gorm:"column:left_leg_pv;not null;default:0"`
	RightLegPV            float64   `gorm:"column:right_leg_pv;not null;default:0"`
	TotalActiveAffiliates int       `gorm:"column:total_active_affiliates;not null;default:0"`
	HighestRankAchieved   rank.Rank `gorm:"column:highest_rank_achieved;size:16;not null;default:NONE"`
	BinaryActivated       bool      `gorm:"column:binary_activated;not null;default:false"`
	IsActive              bool      `gorm:"column:is_active;not null;default:false"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing network members.
func (Member) TableName() string {
	return "team_members"
}

// Has2x2Achieved reports whether both binary legs are fully populated. After
// 2:2 every further code resolves as a flat main placement.
func (m *Member) Has2x2Achieved() bool {
	return m.LeftLegCount >= LegCapacity && m.RightLegCount >= LegCapacity
}

// LegCount returns the direct child count of one leg.
func (m *Member) LegCount(position Position) int {
	switch position {
	case PositionLeft:
		return m.LeftLegCount
	case PositionRight:
		return m.RightLegCount
	default:
		return m.MainTeamCount
	}
}

// LegCode returns the join code attached to one leg.
func (m *Member) LegCode(position Position) string {
	switch position {
	case PositionLeft:
		return m.LeftReferralCode
	case PositionRight:
		return m.RightReferralCode
	default:
		return m.ReferralCode
	}
}

// SiblingLeg returns the opposite binary leg.
func SiblingLeg(position Position) Position {
	if position == PositionLeft {
		return PositionRight
	}
	return PositionLeft
}

// PlacementEdge records one immutable sponsor→child placement. Rows are
// created exactly once per member at join time and never mutated or deleted.
type PlacementEdge struct {
	ChildID   string    `gorm:"column:child_id;primaryKey;size:36"`
	SponsorID string    `gorm:"column:sponsor_id;size:36;index;not null"`
	Position  Position  `gorm:"column:position;size:8;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing placement history.
func (PlacementEdge) TableName() string {
	return "placement_edges"
}
