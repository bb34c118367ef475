package usage

import "strings"

// DefaultDailyLimit is the number of messages a non-premium identity may
// send per calendar day.
const DefaultDailyLimit = 10

const (
	premiumUsersKey       = "monad-premium-users"
	messageCountKeyPrefix = "monad-message-count-"
	dateLayout            = "2006-01-02"
)

// Record is the persisted per-identity counter. Count only applies while
// Date is today.
type Record struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

// PremiumGrant is a permanent unlock recorded after a confirmed payment.
type PremiumGrant struct {
	Address     string `json:"address"`
	PurchasedAt int64  `json:"purchasedAt"`
	TxHash      string `json:"txHash"`
}

type NotificationKind string

const (
	KindUsageChanged   NotificationKind = "usage_changed"
	KindPremiumChanged NotificationKind = "premium_changed"
)

// Notification is published whenever an identity's count or premium status changes.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Identity string           `json:"identity"`
	Count    int              `json:"count,omitempty"`
	Premium  bool             `json:"premium,omitempty"`
}

// Status is a point-in-time view of an identity's quota.
type Status struct {
	Identity   string `json:"identity"`
	Premium    bool   `json:"premium"`
	Count      int    `json:"count"`
	Remaining  int    `json:"remaining"`
	Unlimited  bool   `json:"unlimited"`
	CanSend    bool   `json:"can_send"`
	DailyLimit int    `json:"daily_limit"`
	ResetIn    string `json:"reset_in"`
	ResetInMS  int64  `json:"reset_in_ms"`
}

// NormalizeIdentity lowercases and trims a wallet address.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
