package limiter

import "time"

// UserType distinguishes admin users, who bypass quota checks entirely,
// from metered clients.
type UserType string

const (
	UserTypeAdmin  UserType = "admin"
	UserTypeClient UserType = "client"
)

// UsageRecord is the authoritative quota record as stored in the quota
// store under "usage_limit:{user_id}". Field names are part of the wire
// contract with the billing system.
type UsageRecord struct {
	UserID            string     `json:"user_id"`
	UserType          UserType   `json:"user_type"`
	Allowed           bool       `json:"allowed"`
	Status            string     `json:"status"`
	TokensQuota       *int64     `json:"tokens_quota"`
	TokensUsed        int64      `json:"tokens_used"`
	CostQuota         *float64   `json:"cost_quota"`
	CostUsed          float64    `json:"cost_used"`
	UpdateID          int64      `json:"update_id"`
	Reason            string     `json:"reason"`
	ResetAt           *time.Time `json:"reset_at"`
	LastUpdated       *time.Time `json:"last_updated"`
	BillingCycleStart *time.Time `json:"billing_cycle_start"`
	BillingCycleEnd   *time.Time `json:"billing_cycle_end"`
}

// Decision is the only thing the request path ever sees from the limiter:
// store errors are absorbed into an allow/deny per the fail-open policy.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	if reason == "" {
		reason = "Usage limit exceeded"
	}
	return Decision{Allowed: false, Reason: reason}
}
