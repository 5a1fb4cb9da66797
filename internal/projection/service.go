// Package projection renders read models over the materialized referral
// aggregates. Nothing here recurses over live subtrees at unbounded depth
// and nothing here writes.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/referral"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultMaxDepth bounds hierarchy rendering when the caller does not
	// ask for a depth.
	DefaultMaxDepth = 5
	maxTreeDepth    = 10

	downlineLevels = 3
)

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrMemberNotFound is returned when the projection root does not exist.
	ErrMemberNotFound = errors.New("member not found")
)

// ServiceConfig describes the projection dependencies. LinkBase is the
// public site URL referral links are minted against.
type ServiceConfig struct {
	Database *gorm.DB
	LinkBase string
	Logger   *zap.Logger
}

// Service serves hierarchy and summary read models.
type Service struct {
	db       *gorm.DB
	linkBase string
	logger   *zap.Logger
}

// NewService constructs the projection service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, linkBase: cfg.LinkBase, logger: logger}, nil
}

// TreeNode is one member in the rendered hierarchy. All numeric fields come
// straight from the materialized aggregate columns.
type TreeNode struct {
	MemberID      string            `json:"memberId"`
	Name          string            `json:"name"`
	Position      referral.Position `json:"position,omitempty"`
	Level         int               `json:"level"`
	DirectCount   int               `json:"directCount"`
	TotalDownline int               `json:"totalDownline"`
	TotalEarnings float64           `json:"totalEarnings"`
	IsActive      bool              `json:"isActive"`
	JoinedAt      time.Time         `json:"joinedAt"`
	TeamMembers   []TreeNode        `json:"teamMembers"`
}

// DownlineTree renders the subtree rooted at memberID down to maxDepth
// levels. Children are fetched one generation per query, so the database
// round trips scale with depth, not with network size.
func (s *Service) DownlineTree(ctx context.Context, memberID string, maxDepth int) (TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxDepth > maxTreeDepth {
		maxDepth = maxTreeDepth
	}

	root, err := s.loadMember(ctx, memberID)
	if err != nil {
		return TreeNode{}, err
	}

	rootNode := toNode(root)
	frontier := map[string]*TreeNode{root.ID: &rootNode}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		parentIDs := make([]string, 0, len(frontier))
		for id := range frontier {
			parentIDs = append(parentIDs, id)
		}

		var children []referral.Member
		err := s.db.WithContext(ctx).
			Where("sponsor_id IN ?", parentIDs).
			Order("created_at ASC").
			Find(&children).Error
		if err != nil {
			return TreeNode{}, fmt.Errorf("projection.tree: %w", err)
		}

		byParent := make(map[string][]referral.Member, len(frontier))
		for _, child := range children {
			byParent[*child.SponsorID] = append(byParent[*child.SponsorID], child)
		}

		// Each parent's slice is sized once before pointers into it are
		// kept, so later levels never see a reallocated element.
		next := make(map[string]*TreeNode, len(children))
		for parentID, group := range byParent {
			parent := frontier[parentID]
			parent.TeamMembers = make([]TreeNode, len(group))
			for i, child := range group {
				parent.TeamMembers[i] = toNode(child)
				next[child.ID] = &parent.TeamMembers[i]
			}
		}
		frontier = next
	}
	return rootNode, nil
}

func toNode(m referral.Member) TreeNode {
	return TreeNode{
		MemberID:      m.ID,
		Name:          m.Name,
		Position:      m.Position,
		Level:         m.Level,
		DirectCount:   m.DirectCount,
		TotalDownline: m.TotalDownline,
		TotalEarnings: m.TotalEarnings,
		IsActive:      m.IsActive,
		JoinedAt:      m.CreatedAt,
		TeamMembers:   []TreeNode{},
	}
}

// BinaryTree is the leg availability block on the referral code page.
type BinaryTree struct {
	LeftLegCount  int     `json:"leftLegCount"`
	RightLegCount int     `json:"rightLegCount"`
	LeftLegPV     float64 `json:"leftLegPV"`
	RightLegPV    float64 `json:"rightLegPV"`
	LproAvailable bool    `json:"lproAvailable"`
	RproAvailable bool    `json:"rproAvailable"`
	LeftLegFull   bool    `json:"leftLegFull"`
	RightLegFull  bool    `json:"rightLegFull"`
}

// SummaryStats is the aggregate block on the referral code page.
type SummaryStats struct {
	DirectCount    int               `json:"directCount"`
	TotalDownline  int               `json:"totalDownline"`
	Level          int               `json:"level"`
	TotalEarnings  float64           `json:"totalEarnings"`
	UserPosition   referral.Position `json:"userPosition,omitempty"`
	MainTeamCount  int               `json:"mainTeamCount"`
	LeftTeamCount  int               `json:"leftTeamCount"`
	RightTeamCount int               `json:"rightTeamCount"`
}

// Sponsor names the member a summary's owner joined under.
type Sponsor struct {
	Name string `json:"name"`
}

// ReferralSummary combines a member's codes, links, leg availability and
// aggregates into the single payload the referral page renders.
type ReferralSummary struct {
	ReferralCode      string       `json:"referralCode"`
	LeftReferralCode  string       `json:"leftReferralCode"`
	RightReferralCode string       `json:"rightReferralCode"`
	ReferralLink      string       `json:"referralLink"`
	LeftReferralLink  string       `json:"leftReferralLink"`
	RightReferralLink string       `json:"rightReferralLink"`
	BinaryTree        BinaryTree   `json:"binaryTree"`
	Stats             SummaryStats `json:"stats"`
	Sponsor           *Sponsor     `json:"sponsor,omitempty"`
}

// ReferralSummary builds the referral page payload for one member.
func (s *Service) ReferralSummary(ctx context.Context, memberID string) (ReferralSummary, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return ReferralSummary{}, err
	}

	summary := ReferralSummary{
		ReferralCode:      member.ReferralCode,
		LeftReferralCode:  member.LeftReferralCode,
		RightReferralCode: member.RightReferralCode,
		ReferralLink:      s.link(member.ReferralCode),
		LeftReferralLink:  s.link(member.LeftReferralCode),
		RightReferralLink: s.link(member.RightReferralCode),
		BinaryTree: BinaryTree{
			LeftLegCount:  member.LeftLegCount,
			RightLegCount: member.RightLegCount,
			LeftLegPV:     member.LeftLegPV,
			RightLegPV:    member.RightLegPV,
			LproAvailable: member.LeftLegCount < referral.LegCapacity,
			RproAvailable: member.RightLegCount < referral.LegCapacity,
			LeftLegFull:   member.LeftLegCount >= referral.LegCapacity,
			RightLegFull:  member.RightLegCount >= referral.LegCapacity,
		},
		Stats: SummaryStats{
			DirectCount:    member.DirectCount,
			TotalDownline:  member.TotalDownline,
			Level:          member.Level,
			TotalEarnings:  member.TotalEarnings,
			UserPosition:   member.Position,
			MainTeamCount:  member.MainTeamCount,
			LeftTeamCount:  member.LeftLegCount,
			RightTeamCount: member.RightLegCount,
		},
	}

	if member.SponsorID != nil {
		var sponsor referral.Member
		err := s.db.WithContext(ctx).
			Select("name").
			Where("id = ?", *member.SponsorID).
			Take(&sponsor).Error
		if err == nil {
			summary.Sponsor = &Sponsor{Name: sponsor.Name}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ReferralSummary{}, fmt.Errorf("projection.summary: %w", err)
		}
	}
	return summary, nil
}

func (s *Service) link(code string) string {
	if s.linkBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/register?ref=%s", s.linkBase, code)
}

// DownlineLevel is one generation's headcount in the downline breakdown.
type DownlineLevel struct {
	Level  int `json:"level"`
	Count  int `json:"count"`
	Active int `json:"active"`
}

// DownlineBreakdown counts the first generations of a member's network.
type DownlineBreakdown struct {
	TotalDownline int             `json:"totalDownline"`
	Levels        []DownlineLevel `json:"levels"`
}

// Downline walks the first three generations under memberID and counts
// total and active members per generation.
func (s *Service) Downline(ctx context.Context, memberID string) (DownlineBreakdown, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return DownlineBreakdown{}, err
	}

	breakdown := DownlineBreakdown{
		TotalDownline: member.TotalDownline,
		Levels:        make([]DownlineLevel, 0, downlineLevels),
	}

	parentIDs := []string{member.ID}
	for level := 1; level <= downlineLevels && len(parentIDs) > 0; level++ {
		var children []referral.Member
		err := s.db.WithContext(ctx).
			Select("id, is_active").
			Where("sponsor_id IN ?", parentIDs).
			Find(&children).Error
		if err != nil {
			return DownlineBreakdown{}, fmt.Errorf("projection.downline: %w", err)
		}

		entry := DownlineLevel{Level: level, Count: len(children)}
		parentIDs = parentIDs[:0]
		for _, child := range children {
			if child.IsActive {
				entry.Active++
			}
			parentIDs = append(parentIDs, child.ID)
		}
		breakdown.Levels = append(breakdown.Levels, entry)
	}
	return breakdown, nil
}

func (s *Service) loadMember(ctx context.Context, memberID string) (referral.Member, error) {
	var member referral.Member
	err := s.db.WithContext(ctx).Where("id = ?", memberID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return referral.Member{}, ErrMemberNotFound
	}
	if err != nil {
		return referral.Member{}, fmt.Errorf("projection.member: %w", err)
	}
	return member, nil
}
