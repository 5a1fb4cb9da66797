package projection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/referral"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:teamcore_projection_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&referral.Member{}, &referral.PlacementEdge{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		LinkBase: "https://propulse.example",
	})
	if err != nil {
		t.Fatalf("failed to construct projection service: %v", err)
	}
	return service, db
}

func seedMember(t *testing.T, db *gorm.DB, id, name string, sponsorID *string, position referral.Position, active bool, mutate func(*referral.Member)) {
	t.Helper()
	member := referral.Member{
		ID:                id,
		Name:              name,
		SponsorID:         sponsorID,
		Position:          position,
		ReferralCode:      "PRO-" + id,
		LeftReferralCode:  "LPRO-" + id,
		RightReferralCode: "RPRO-" + id,
		IsActive:          active,
	}
	if mutate != nil {
		mutate(&member)
	}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("seed %s failed: %v", id, err)
	}
}

func strPtr(s string) *string { return &s }

// seedNetwork builds root with two children (left active, right inactive)
// and one active grandchild under the left child.
func seedNetwork(t *testing.T, db *gorm.DB) {
	seedMember(t, db, "root", "Root Member", nil, "", true, func(m *referral.Member) {
		m.DirectCount = 2
		m.LeftLegCount = 1
		m.RightLegCount = 1
		m.TotalDownline = 3
		m.TotalEarnings = 42.5
		m.LeftLegPV = 70
		m.RightLegPV = 0
		m.Level = 1
	})
	seedMember(t, db, "child-l", "Left Child", strPtr("root"), referral.PositionLeft, true, func(m *referral.Member) {
		m.DirectCount = 1
		m.TotalDownline = 1
	})
	seedMember(t, db, "child-r", "Right Child", strPtr("root"), referral.PositionRight, false, nil)
	seedMember(t, db, "grand", "Grand Child", strPtr("child-l"), referral.PositionLeft, true, nil)
}

func TestDownlineTreeRendersGenerations(t *testing.T) {
	service, db := newTestService(t)
	seedNetwork(t, db)

	tree, err := service.DownlineTree(context.Background(), "root", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Name != "Root Member" || tree.DirectCount != 2 || tree.TotalDownline != 3 {
		t.Fatalf("unexpected root node: %+v", tree)
	}
	if len(tree.TeamMembers) != 2 {
		t.Fatalf("expected two children, got %d", len(tree.TeamMembers))
	}

	var left *TreeNode
	for i := range tree.TeamMembers {
		if tree.TeamMembers[i].MemberID == "child-l" {
			left = &tree.TeamMembers[i]
		}
	}
	if left == nil {
		t.Fatal("left child missing from tree")
	}
	if len(left.TeamMembers) != 1 || left.TeamMembers[0].MemberID != "grand" {
		t.Fatalf("expected grandchild under left child, got %+v", left.TeamMembers)
	}
}

func TestDownlineTreeHonorsMaxDepth(t *testing.T) {
	service, db := newTestService(t)
	seedNetwork(t, db)

	tree, err := service.DownlineTree(context.Background(), "root", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.TeamMembers) != 2 {
		t.Fatalf("expected two children, got %d", len(tree.TeamMembers))
	}
	for _, child := range tree.TeamMembers {
		if len(child.TeamMembers) != 0 {
			t.Fatalf("depth 1 must not include grandchildren, got %+v", child.TeamMembers)
		}
	}
}

func TestDownlineTreeMissingRoot(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.DownlineTree(context.Background(), "nobody", 3)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestReferralSummary(t *testing.T) {
	service, db := newTestService(t)
	seedNetwork(t, db)

	summary, err := service.ReferralSummary(context.Background(), "child-l")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ReferralCode != "PRO-child-l" || summary.LeftReferralCode != "LPRO-child-l" {
		t.Fatalf("unexpected codes: %+v", summary)
	}
	if summary.ReferralLink != "https://propulse.example/register?ref=PRO-child-l" {
		t.Fatalf("unexpected link: %s", summary.ReferralLink)
	}
	if summary.Sponsor == nil || summary.Sponsor.Name != "Root Member" {
		t.Fatalf("expected sponsor name, got %+v", summary.Sponsor)
	}
	if summary.Stats.UserPosition != referral.PositionLeft {
		t.Fatalf("unexpected position: %s", summary.Stats.UserPosition)
	}
	if !summary.BinaryTree.LproAvailable || summary.BinaryTree.LeftLegFull {
		t.Fatalf("empty leg must read available: %+v", summary.BinaryTree)
	}
}

func TestReferralSummaryFullLeg(t *testing.T) {
	service, db := newTestService(t)
	seedMember(t, db, "solo", "Solo", nil, "", true, func(m *referral.Member) {
		m.LeftLegCount = 2
		m.RightLegCount = 1
		m.LeftLegPV = 120
	})

	summary, err := service.ReferralSummary(context.Background(), "solo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.BinaryTree.LproAvailable || !summary.BinaryTree.LeftLegFull {
		t.Fatalf("left leg at capacity must read full: %+v", summary.BinaryTree)
	}
	if !summary.BinaryTree.RproAvailable || summary.BinaryTree.RightLegFull {
		t.Fatalf("right leg below capacity must read available: %+v", summary.BinaryTree)
	}
	if summary.Sponsor != nil {
		t.Fatalf("rootless member has no sponsor, got %+v", summary.Sponsor)
	}
	if summary.BinaryTree.LeftLegPV != 120 {
		t.Fatalf("unexpected left leg PV: %v", summary.BinaryTree.LeftLegPV)
	}
}

func TestDownlineBreakdownCountsLevels(t *testing.T) {
	service, db := newTestService(t)
	seedNetwork(t, db)

	breakdown, err := service.Downline(context.Background(), "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.TotalDownline != 3 {
		t.Fatalf("unexpected total: %d", breakdown.TotalDownline)
	}
	if len(breakdown.Levels) < 2 {
		t.Fatalf("expected at least two generations, got %+v", breakdown.Levels)
	}
	first := breakdown.Levels[0]
	if first.Level != 1 || first.Count != 2 || first.Active != 1 {
		t.Fatalf("unexpected first generation: %+v", first)
	}
	second := breakdown.Levels[1]
	if second.Level != 2 || second.Count != 1 || second.Active != 1 {
		t.Fatalf("unexpected second generation: %+v", second)
	}
}
