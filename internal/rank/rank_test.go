package rank

import "testing"

func TestForAffiliatesTakesHighestThresholdNotExceeded(t *testing.T) {
	tests := []struct {
		name       string
		affiliates int
		expected   Rank
	}{
		{name: "below first tier", affiliates: 2, expected: RankNone},
		{name: "exactly first tier", affiliates: 3, expected: RankIgnitor},
		{name: "between tiers", affiliates: 11, expected: RankIgnitor},
		{name: "spark boundary", affiliates: 12, expected: RankSpark},
		{name: "mid table", affiliates: 499, expected: RankInnovator},
		{name: "trailblazer boundary", affiliates: 500, expected: RankTrailblazer},
		{name: "top tier", affiliates: 44444, expected: RankZenith},
		{name: "beyond top tier", affiliates: 100000, expected: RankZenith},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ForAffiliates(tc.affiliates); got != tc.expected {
				t.Fatalf("ForAffiliates(%d) = %s, want %s", tc.affiliates, got, tc.expected)
			}
		})
	}
}

func TestBonusBands(t *testing.T) {
	tests := []struct {
		rank    Rank
		percent int
	}{
		{RankNone, 0},
		{RankIgnitor, 10},
		{RankInnovator, 10},
		{RankTrailblazer, 15},
		{RankVanguard, 15},
		{RankLuminary, 20},
		{RankZenith, 20},
	}
	for _, tc := range tests {
		if got := BonusPercent(tc.rank); got != tc.percent {
			t.Fatalf("BonusPercent(%s) = %d, want %d", tc.rank, got, tc.percent)
		}
	}
}

func TestWeakerLegPVIsMinimum(t *testing.T) {
	if got := WeakerLegPV(100, 30); got != 30 {
		t.Fatalf("expected weaker leg 30, got %v", got)
	}
	if got := WeakerLegPV(30, 100); got != 30 {
		t.Fatalf("expected weaker leg 30, got %v", got)
	}
	if got := WeakerLegPV(50, 50); got != 50 {
		t.Fatalf("expected weaker leg 50, got %v", got)
	}
}

func TestCommissionGatedOnActivation(t *testing.T) {
	// Large PV and a high rank must still earn zero before activation.
	if got := Commission(100000, 90000, RankZenith, false); got != 0 {
		t.Fatalf("expected zero commission while ungated, got %v", got)
	}
	if got := Commission(100, 30, RankIgnitor, true); got != 3 {
		t.Fatalf("expected commission 3 (30 * 10%%), got %v", got)
	}
	if got := Commission(1000, 2000, RankTrailblazer, true); got != 150 {
		t.Fatalf("expected commission 150 (1000 * 15%%), got %v", got)
	}
}

func TestHigherNeverLowersRank(t *testing.T) {
	if got := Higher(RankMogul, RankSpark); got != RankMogul {
		t.Fatalf("expected MOGUL, got %s", got)
	}
	if got := Higher(RankNone, RankIgnitor); got != RankIgnitor {
		t.Fatalf("expected IGNITOR, got %s", got)
	}
}

func TestNextRankProgression(t *testing.T) {
	next := Next(RankNone)
	if next == nil || next.Rank != RankIgnitor {
		t.Fatalf("expected first tier after NONE, got %#v", next)
	}
	next = Next(RankIgnitor)
	if next == nil || next.Rank != RankSpark || next.MinAffiliates != 12 {
		t.Fatalf("unexpected next tier: %#v", next)
	}
	if Next(RankZenith) != nil {
		t.Fatalf("expected no tier above ZENITH")
	}
}

func TestUpToListsClaimableRanks(t *testing.T) {
	ranks := UpTo(RankRiser)
	expected := []Rank{RankIgnitor, RankSpark, RankRiser}
	if len(ranks) != len(expected) {
		t.Fatalf("expected %d ranks, got %d", len(expected), len(ranks))
	}
	for i, r := range expected {
		if ranks[i] != r {
			t.Fatalf("expected %s at position %d, got %s", r, i, ranks[i])
		}
	}
	if UpTo(RankNone) != nil {
		t.Fatalf("expected no claimable ranks at NONE")
	}
}

func TestBuildSnapshot(t *testing.T) {
	snapshot := BuildSnapshot(SnapshotInput{
		LeftLegPV:             100,
		RightLegPV:            30,
		TotalActiveAffiliates: 12,
		DirectCount:           4,
		LeftLegCount:          2,
		RightLegCount:         2,
		BinaryActivated:       false,
		ActivationThreshold:   10,
	})
	if snapshot.CurrentRank != RankSpark {
		t.Fatalf("expected SPARK, got %s", snapshot.CurrentRank)
	}
	if snapshot.WeakerLegPV != 30 {
		t.Fatalf("expected weaker leg 30, got %v", snapshot.WeakerLegPV)
	}
	if snapshot.Commission != 0 {
		t.Fatalf("commission must be zero while ungated, got %v", snapshot.Commission)
	}
	if !snapshot.NeedsMoreReferrals || snapshot.ReferralsNeeded != 6 {
		t.Fatalf("expected 6 more referrals needed, got %#v", snapshot)
	}
	if snapshot.NextRank != RankRiser || snapshot.AffiliatesNeeded != 28 {
		t.Fatalf("unexpected next rank progress: %#v", snapshot)
	}
}
