package payouts

import "time"

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Supported payout rails. The processor only speaks crypto today.
const (
	MethodCrypto = "crypto"

	CurrencyUSDT = "USDT"
	CurrencyBTC  = "BTC"
)

// allowedTransitions encodes the monotonic status machine. Completed,
// failed, and cancelled are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether current may move to next.
func CanTransition(current, next Status) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Payout is a persisted withdrawal request. NetAmount is the amount after
// the processing fee; it is fixed at request time so a later fee change
// never rewrites history.
type Payout struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	MemberID            string     `gorm:"size:36;index" json:"memberId"`
	ReferenceNumber     string     `gorm:"size:20;uniqueIndex" json:"referenceNumber"`
	Amount              float64    `json:"amount"`
	FeeAmount           float64    `json:"feeAmount"`
	NetAmount           float64    `json:"netAmount"`
	PayoutMethod        string     `gorm:"size:16" json:"payoutMethod"`
	CryptoWalletAddress string     `gorm:"size:128" json:"cryptoWalletAddress"`
	CryptoCurrency      string     `gorm:"size:8" json:"cryptoCurrency"`
	Status              Status     `gorm:"size:16;index" json:"status"`
	TxHash              string     `gorm:"size:128" json:"txHash,omitempty"`
	FailureReason       string     `gorm:"size:256" json:"failureReason,omitempty"`
	RequestedAt         time.Time  `json:"requestedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

// TableName pins the storage table for the payout ledger.
func (Payout) TableName() string {
	return "payouts"
}
