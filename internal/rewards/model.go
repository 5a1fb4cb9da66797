package rewards

import (
	"time"

	"github.com/ProPulseLabs/teamcore/internal/rank"
)

// Status is a reward's fulfillment stage. Transitions are strictly forward;
// AVAILABLE entries are synthesized from the member's highest rank and only
// materialize as rows once claimed.
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusClaimed    Status = "CLAIMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
)

var statusOrder = map[Status]int{
	StatusAvailable:  0,
	StatusClaimed:    1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// CanAdvance reports whether a reward may move from current to next. Only
// single forward steps are legal; fulfillment never moves backward.
func CanAdvance(current, next Status) bool {
	currentOrder, ok := statusOrder[current]
	if !ok {
		return false
	}
	nextOrder, ok := statusOrder[next]
	if !ok {
		return false
	}
	return nextOrder == currentOrder+1
}

// ShippingAddress is the delivery destination captured at claim time.
type ShippingAddress struct {
	Street  string `gorm:"column:street;size:190" json:"street"`
	City    string `gorm:"column:city;size:96" json:"city"`
	State   string `gorm:"column:state;size:96" json:"state"`
	ZipCode string `gorm:"column:zip_code;size:24" json:"zipCode"`
	Country string `gorm:"column:country;size:96" json:"country"`
	Phone   string `gorm:"column:phone;size:32" json:"phone"`
}

func (a ShippingAddress) complete() bool {
	return a.Street != "" && a.City != "" && a.State != "" &&
		a.ZipCode != "" && a.Country != "" && a.Phone != ""
}

// Reward is one member's claim against one rank. The composite unique index
// is the storage-level guarantee that a (member, rank) pair is claimed at
// most once, regardless of application races.
type Reward struct {
	ID             uint            `gorm:"column:id;primaryKey;autoIncrement"`
	MemberID       string          `gorm:"column:member_id;size:36;not null;uniqueIndex:idx_rewards_member_rank"`
	Rank           rank.Rank       `gorm:"column:rank;size:16;not null;uniqueIndex:idx_rewards_member_rank"`
	RewardType     string          `gorm:"column:reward_type;size:48;not null"`
	Status         Status          `gorm:"column:status;size:16;not null"`
	Size           string          `gorm:"column:size;size:8"`
	Color          string          `gorm:"column:color;size:24"`
	Shipping       ShippingAddress `gorm:"embedded;embeddedPrefix:shipping_"`
	Notes          string          `gorm:"column:notes;size:512"`
	TrackingNumber string          `gorm:"column:tracking_number;size:64"`
	ClaimedAt      time.Time       `gorm:"column:claimed_at;not null"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the reward ledger.
func (Reward) TableName() string {
	return "rank_rewards"
}
