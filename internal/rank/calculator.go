package rank

// WeakerLegPV returns min(left, right). Binary commission is deliberately
// computed on the weaker leg to reward balanced growth; it must never be the
// sum or average of both legs.
func WeakerLegPV(leftLegPV, rightLegPV float64) float64 {
	if leftLegPV < rightLegPV {
		return leftLegPV
	}
	return rightLegPV
}

// Commission computes the binary commission for a member. The cash commission
// is gated on binary activation; rank progression and reward eligibility are
// not, so callers pass activation separately from the rank inputs.
func Commission(leftLegPV, rightLegPV float64, current Rank, binaryActivated bool) float64 {
	if !binaryActivated {
		return 0
	}
	return WeakerLegPV(leftLegPV, rightLegPV) * float64(BonusPercent(current)) / 100
}

// Snapshot is the derived rank/commission view served to clients.
type Snapshot struct {
	Activated             bool    `json:"activated"`
	CurrentRank           Rank    `json:"currentRank"`
	RankBadge             string  `json:"rankBadge"`
	BonusPercent          int     `json:"bonusPercent"`
	WeakerLegPV           float64 `json:"weakerLegPV"`
	Commission            float64 `json:"commission"`
	TotalActiveAffiliates int     `json:"totalActiveAffiliates"`
	NextRank              Rank    `json:"nextRank,omitempty"`
	NextBonusPercent      int     `json:"nextBonusPercent,omitempty"`
	AffiliatesNeeded      int     `json:"affiliatesNeeded,omitempty"`
	NeedsMoreReferrals    bool    `json:"needsMoreReferrals"`
	ReferralsNeeded       int     `json:"referralsNeeded"`
	LeftLegCount          int     `json:"leftLegCount"`
	RightLegCount         int     `json:"rightLegCount"`
}

// SnapshotInput carries the persisted aggregates a snapshot derives from.
type SnapshotInput struct {
	LeftLegPV             float64
	RightLegPV            float64
	TotalActiveAffiliates int
	DirectCount           int
	LeftLegCount          int
	RightLegCount         int
	BinaryActivated       bool
	ActivationThreshold   int
}

// BuildSnapshot derives the full rank view from persisted aggregates.
func BuildSnapshot(in SnapshotInput) Snapshot {
	current := ForAffiliates(in.TotalActiveAffiliates)
	snapshot := Snapshot{
		Activated:             in.BinaryActivated,
		CurrentRank:           current,
		RankBadge:             Badge(current),
		BonusPercent:          BonusPercent(current),
		WeakerLegPV:           WeakerLegPV(in.LeftLegPV, in.RightLegPV),
		Commission:            Commission(in.LeftLegPV, in.RightLegPV, current, in.BinaryActivated),
		TotalActiveAffiliates: in.TotalActiveAffiliates,
		LeftLegCount:          in.LeftLegCount,
		RightLegCount:         in.RightLegCount,
	}

	if next := Next(current); next != nil {
		snapshot.NextRank = next.Rank
		snapshot.NextBonusPercent = next.BonusPercent
		snapshot.AffiliatesNeeded = next.MinAffiliates - in.TotalActiveAffiliates
	}

	if !in.BinaryActivated {
		snapshot.NeedsMoreReferrals = true
		remaining := in.ActivationThreshold - in.DirectCount
		if remaining < 0 {
			remaining = 0
		}
		snapshot.ReferralsNeeded = remaining
	}

	return snapshot
}
