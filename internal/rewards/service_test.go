package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/rank"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:teamcore_rewards_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Reward{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct rewards service: %v", err)
	}
	return service, db
}

func completeAddress() *ShippingAddress {
	return &ShippingAddress{
		Street:  "12 Harbor Lane",
		City:    "Pune",
		State:   "MH",
		ZipCode: "411001",
		Country: "India",
		Phone:   "+91 98200 00000",
	}
}

func TestAvailableSynthesizesUnclaimedRanks(t *testing.T) {
	service, _ := newTestService(t)

	available, claimed, err := service.Available(context.Background(), "m-1", rank.RankRiser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected empty history, got %d", len(claimed))
	}
	if len(available) != 3 {
		t.Fatalf("expected IGNITOR, SPARK, RISER available, got %d entries", len(available))
	}
	for _, entry := range available {
		if entry.Status != StatusAvailable {
			t.Fatalf("expected synthesized AVAILABLE status, got %s", entry.Status)
		}
	}
}

func TestAvailableAtNoneIsEmpty(t *testing.T) {
	service, _ := newTestService(t)

	available, _, err := service.Available(context.Background(), "m-1", rank.RankNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected nothing claimable at NONE, got %d", len(available))
	}
}

func TestClaimLifecycle(t *testing.T) {
	service, _ := newTestService(t)

	claimed, err := service.Claim(context.Background(), "m-1", rank.RankIgnitor, ClaimRequest{
		Rank:            rank.RankIgnitor,
		ShippingAddress: completeAddress(),
		Size:            "L",
		Color:           "Black",
	})
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if claimed.Status != StatusClaimed {
		t.Fatalf("expected CLAIMED, got %s", claimed.Status)
	}

	available, history, err := service.Available(context.Background(), "m-1", rank.RankIgnitor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("claimed rank must leave the available list, got %d", len(available))
	}
	if len(history) != 1 || history[0].Rank != rank.RankIgnitor {
		t.Fatalf("unexpected history: %#v", history)
	}

	// Second claim for the same pair always fails.
	_, err = service.Claim(context.Background(), "m-1", rank.RankIgnitor, ClaimRequest{
		Rank:            rank.RankIgnitor,
		ShippingAddress: completeAddress(),
		Size:            "L",
		Color:           "Black",
	})
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Code != CodeAlreadyClaimed {
		t.Fatalf("expected AlreadyClaimed, got %v", err)
	}
}

func TestClaimRequiresAchievedRank(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Claim(context.Background(), "m-1", rank.RankIgnitor, ClaimRequest{
		Rank:            rank.RankSpark,
		ShippingAddress: completeAddress(),
		Size:            "M",
		Color:           "Black",
	})
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Code != CodeNotEligible {
		t.Fatalf("expected NotEligible, got %v", err)
	}
}

func TestClaimValidatesPayloadAgainstCatalog(t *testing.T) {
	service, _ := newTestService(t)

	tests := []struct {
		name string
		req  ClaimRequest
	}{
		{
			name: "missing shipping address",
			req:  ClaimRequest{Rank: rank.RankIgnitor, Size: "L", Color: "Black"},
		},
		{
			name: "incomplete shipping address",
			req: ClaimRequest{
				Rank:            rank.RankIgnitor,
				ShippingAddress: &ShippingAddress{Street: "12 Harbor Lane"},
				Size:            "L",
				Color:           "Black",
			},
		},
		{
			name: "missing size",
			req:  ClaimRequest{Rank: rank.RankIgnitor, ShippingAddress: completeAddress(), Color: "Black"},
		},
		{
			name: "color not in catalog",
			req: ClaimRequest{
				Rank:            rank.RankIgnitor,
				ShippingAddress: completeAddress(),
				Size:            "L",
				Color:           "Chartreuse",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Claim(context.Background(), "m-1", rank.RankZenith, tc.req)
			var domainErr *Error
			if !errors.As(err, &domainErr) || domainErr.Code != CodeInvalidPayload {
				t.Fatalf("expected InvalidPayload, got %v", err)
			}
		})
	}
}

func TestClaimWithoutShippingForNonPhysicalReward(t *testing.T) {
	service, _ := newTestService(t)

	claimed, err := service.Claim(context.Background(), "m-1", rank.RankTrailblazer, ClaimRequest{
		Rank: rank.RankTrailblazer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.RewardType != "travel_package" {
		t.Fatalf("unexpected reward type: %s", claimed.RewardType)
	}
}

func TestConcurrentClaimsYieldSingleRow(t *testing.T) {
	service, db := newTestService(t)

	const contenders = 5
	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := service.Claim(context.Background(), "m-1", rank.RankIgnitor, ClaimRequest{
				Rank:            rank.RankIgnitor,
				ShippingAddress: completeAddress(),
				Size:            "M",
				Color:           "Navy",
			})
			results[slot] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var domainErr *Error
		if !errors.As(err, &domainErr) || domainErr.Code != CodeAlreadyClaimed {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", successes)
	}

	var count int64
	if err := db.Model(&Reward{}).Where("member_id = ?", "m-1").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one ledger row, got %d", count)
	}
}

func TestAdvanceEnforcesForwardOnlyTransitions(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Claim(context.Background(), "m-1", rank.RankIgnitor, ClaimRequest{
		Rank:            rank.RankIgnitor,
		ShippingAddress: completeAddress(),
		Size:            "S",
		Color:           "White",
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	var domainErr *Error

	// Skipping a stage is illegal.
	_, err = service.Advance(context.Background(), "m-1", rank.RankIgnitor, StatusShipped, "")
	if !errors.As(err, &domainErr) || domainErr.Code != CodeInvalidTransition {
		t.Fatalf("expected InvalidTransition for skip, got %v", err)
	}

	updated, err := service.Advance(context.Background(), "m-1", rank.RankIgnitor, StatusProcessing, "")
	if err != nil || updated.Status != StatusProcessing {
		t.Fatalf("expected PROCESSING, got %v / %v", updated.Status, err)
	}
	updated, err = service.Advance(context.Background(), "m-1", rank.RankIgnitor, StatusShipped, "TRK-1234")
	if err != nil || updated.TrackingNumber != "TRK-1234" {
		t.Fatalf("expected tracking number on ship, got %#v / %v", updated, err)
	}
	updated, err = service.Advance(context.Background(), "m-1", rank.RankIgnitor, StatusDelivered, "")
	if err != nil || updated.Status != StatusDelivered {
		t.Fatalf("expected DELIVERED, got %v / %v", updated.Status, err)
	}

	// Backward moves are rejected outright.
	_, err = service.Advance(context.Background(), "m-1", rank.RankIgnitor, StatusClaimed, "")
	if !errors.As(err, &domainErr) || domainErr.Code != CodeInvalidTransition {
		t.Fatalf("expected InvalidTransition for backward move, got %v", err)
	}
}
