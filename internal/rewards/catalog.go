package rewards

import "github.com/ProPulseLabs/teamcore/internal/rank"

// CatalogEntry describes the one-time reward attached to a rank and the claim
// payload it requires.
type CatalogEntry struct {
	Rank             rank.Rank `json:"rank"`
	Badge            string    `json:"badge"`
	RewardName       string    `json:"rewardName"`
	RewardDesc       string    `json:"rewardDescription"`
	RewardType       string    `json:"rewardType"`
	RequiresShipping bool      `json:"requiresShipping"`
	RequiresSize     bool      `json:"requiresSize"`
	RequiresColor    bool      `json:"requiresColor"`
	Colors           []string  `json:"colors,omitempty"`
}

// Sizes accepted for apparel rewards.
var apparelSizes = []string{"XS", "S", "M", "L", "XL", "XXL", "XXXL"}

var catalog = []CatalogEntry{
	{
		Rank:             rank.RankIgnitor,
		RewardName:       "Ignitor Tee",
		RewardDesc:       "Limited branded t-shirt for your first three active affiliates.",
		RewardType:       "branded_tshirt",
		RequiresShipping: true,
		RequiresSize:     true,
		RequiresColor:    true,
		Colors:           []string{"Black", "White", "Navy"},
	},
	{
		Rank:             rank.RankSpark,
		RewardName:       "Spark Hoodie",
		RewardDesc:       "Premium zip hoodie for building a twelve-strong network.",
		RewardType:       "premium_hoodie",
		RequiresShipping: true,
		RequiresSize:     true,
		RequiresColor:    true,
		Colors:           []string{"Black", "Grey"},
	},
	{
		Rank:             rank.RankRiser,
		RewardName:       "Riser Smartwatch",
		RewardDesc:       "Fitness smartwatch shipped to your door.",
		RewardType:       "smartwatch",
		RequiresShipping: true,
		RequiresColor:    true,
		Colors:           []string{"Black", "Silver"},
	},
	{
		Rank:             rank.RankPioneer,
		RewardName:       "Pioneer Tablet",
		RewardDesc:       "10-inch tablet for managing your growing team on the go.",
		RewardType:       "tablet",
		RequiresShipping: true,
	},
	{
		Rank:             rank.RankInnovator,
		RewardName:       "Innovator Laptop",
		RewardDesc:       "Ultralight laptop for serious network builders.",
		RewardType:       "laptop",
		RequiresShipping: true,
	},
	{
		Rank:       rank.RankTrailblazer,
		RewardName: "Trailblazer Getaway",
		RewardDesc: "All-expenses regional trip for two.",
		RewardType: "travel_package",
	},
	{
		Rank:             rank.RankCatalyst,
		RewardName:       "Catalyst Pro Workstation",
		RewardDesc:       "Top-spec workstation laptop.",
		RewardType:       "pro_workstation",
		RequiresShipping: true,
	},
	{
		Rank:             rank.RankMogul,
		RewardName:       "Mogul E-Bike",
		RewardDesc:       "Electric bike delivered to your city.",
		RewardType:       "electric_bike",
		RequiresShipping: true,
		RequiresColor:    true,
		Colors:           []string{"Black", "Red", "Blue"},
	},
	{
		Rank:             rank.RankVanguard,
		RewardName:       "Vanguard Timepiece",
		RewardDesc:       "Luxury watch engraved with your rank.",
		RewardType:       "luxury_watch",
		RequiresShipping: true,
	},
	{
		Rank:       rank.RankLuminary,
		RewardName: "Luminary Car Fund",
		RewardDesc: "Down-payment contribution toward a new car.",
		RewardType: "car_fund",
	},
	{
		Rank:       rank.RankSovereign,
		RewardName: "Sovereign World Tour",
		RewardDesc: "International tour for two across three destinations.",
		RewardType: "world_tour",
	},
	{
		Rank:       rank.RankZenith,
		RewardName: "Zenith Dream Car",
		RewardDesc: "The flagship reward: a luxury car lease for a year.",
		RewardType: "luxury_car",
	},
}

// Catalog returns the static rank→reward table.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogFor looks up the reward definition attached to a rank.
func CatalogFor(r rank.Rank) (CatalogEntry, bool) {
	for _, entry := range catalog {
		if entry.Rank == r {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

func validSize(size string) bool {
	for _, s := range apparelSizes {
		if s == size {
			return true
		}
	}
	return false
}

func validColor(entry CatalogEntry, color string) bool {
	for _, c := range entry.Colors {
		if c == color {
			return true
		}
	}
	return false
}
