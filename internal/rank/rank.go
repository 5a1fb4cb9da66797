package rank

// Rank names an achievement tier in the binary network. The ordering of the
// tier table is significant: lookups take the highest threshold not exceeding
// the member's active-affiliate count.
type Rank string

const (
	RankNone        Rank = "NONE"
	RankIgnitor     Rank = "IGNITOR"
	RankSpark       Rank = "SPARK"
	RankRiser       Rank = "RISER"
	RankPioneer     Rank = "PIONEER"
	RankInnovator   Rank = "INNOVATOR"
	RankTrailblazer Rank = "TRAILBLAZER"
	RankCatalyst    Rank = "CATALYST"
	RankMogul       Rank = "MOGUL"
	RankVanguard    Rank = "VANGUARD"
	RankLuminary    Rank = "LUMINARY"
	RankSovereign   Rank = "SOVEREIGN"
	RankZenith      Rank = "ZENITH"
)

// Tier couples a rank with its qualification threshold and bonus band.
type Tier struct {
	Rank          Rank
	MinAffiliates int
	BonusPercent  int
	Badge         string
}

// tiers is ordered by ascending threshold.
var tiers = []Tier{
	{Rank: RankIgnitor, MinAffiliates: 3, BonusPercent: 10, Badge: "🔥"},
	{Rank: RankSpark, MinAffiliates: 12, BonusPercent: 10, Badge: "⚡"},
	{Rank: RankRiser, MinAffiliates: 40, BonusPercent: 10, Badge: "📈"},
	{Rank: RankPioneer, MinAffiliates: 120, BonusPercent: 10, Badge: "🎖️"},
	{Rank: RankInnovator, MinAffiliates: 250, BonusPercent: 10, Badge: "💡"},
	{Rank: RankTrailblazer, MinAffiliates: 500, BonusPercent: 15, Badge: "🏆"},
	{Rank: RankCatalyst, MinAffiliates: 1111, BonusPercent: 15, Badge: "⭐"},
	{Rank: RankMogul, MinAffiliates: 2777, BonusPercent: 15, Badge: "💎"},
	{Rank: RankVanguard, MinAffiliates: 5555, BonusPercent: 15, Badge: "🛡️"},
	{Rank: RankLuminary, MinAffiliates: 11111, BonusPercent: 20, Badge: "✨"},
	{Rank: RankSovereign, MinAffiliates: 22222, BonusPercent: 20, Badge: "👑"},
	{Rank: RankZenith, MinAffiliates: 44444, BonusPercent: 20, Badge: "🌟"},
}

// Tiers returns a copy of the ordered tier table.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// ForAffiliates resolves the current rank for an active-affiliate count.
func ForAffiliates(totalActiveAffiliates int) Rank {
	current := RankNone
	for _, tier := range tiers {
		if totalActiveAffiliates < tier.MinAffiliates {
			break
		}
		current = tier.Rank
	}
	return current
}

// BonusPercent returns the bonus band for a rank; RankNone earns nothing.
func BonusPercent(r Rank) int {
	for _, tier := range tiers {
		if tier.Rank == r {
			return tier.BonusPercent
		}
	}
	return 0
}

// Badge returns the display badge for a rank.
func Badge(r Rank) string {
	for _, tier := range tiers {
		if tier.Rank == r {
			return tier.Badge
		}
	}
	return ""
}

// Next returns the tier following r, or nil when r is the top rank.
func Next(r Rank) *Tier {
	if r == RankNone {
		tier := tiers[0]
		return &tier
	}
	for i, tier := range tiers {
		if tier.Rank == r {
			if i+1 < len(tiers) {
				next := tiers[i+1]
				return &next
			}
			return nil
		}
	}
	tier := tiers[0]
	return &tier
}

// index returns the position of r in the ordered table; RankNone is -1.
func index(r Rank) int {
	for i, tier := range tiers {
		if tier.Rank == r {
			return i
		}
	}
	return -1
}

// AtLeast reports whether achieved is equal to or above required.
func AtLeast(achieved, required Rank) bool {
	return index(achieved) >= index(required) && index(required) >= 0
}

// Higher returns the greater of two ranks. Used to keep the persisted
// highest-rank field monotonically non-decreasing.
func Higher(a, b Rank) Rank {
	if index(a) >= index(b) {
		return a
	}
	return b
}

// UpTo lists every rank from the bottom tier through achieved, inclusive.
func UpTo(achieved Rank) []Rank {
	limit := index(achieved)
	if limit < 0 {
		return nil
	}
	out := make([]Rank, 0, limit+1)
	for i := 0; i <= limit; i++ {
		out = append(out, tiers[i].Rank)
	}
	return out
}
