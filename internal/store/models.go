package store

import "time"

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

type Status string

const (
	StatusActive Status = "active"
	StatusBanned Status = "banned"
)

type TransactionType string

const (
	TxUsage           TransactionType = "usage"
	TxPurchase        TransactionType = "purchase"
	TxAdminAdjustment TransactionType = "admin_adjustment"
	TxSignupBonus     TransactionType = "signup_bonus"
)

type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Credits       int        `json:"credits"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	VerifiedAt    *time.Time `json:"verified_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}

// CreditTransaction is one append-only ledger row. Negative amounts consume credits.
type CreditTransaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	UserEmail string          `json:"user_email,omitempty"` // only filled by admin listings
	Amount    int             `json:"amount"`
	Type      TransactionType `json:"type"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CacheEntry is a memoized generation result keyed by request fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Kind        string    `json:"kind"`
	Payload     string    `json:"-"`
	Tag         string    `json:"tag"`
	Explanation string    `json:"explanation"`
	Markup      string    `json:"markup"`
	CreatedAt   time.Time `json:"created_at"`
}

type AdminLog struct {
	ID           string    `json:"id"`
	AdminID      string    `json:"admin_id"`
	ActionType   string    `json:"action_type"`
	TargetUserID string    `json:"target_user_id"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

type Analytics struct {
	TotalUsers         int `json:"totalUsers"`
	ActiveUsers        int `json:"activeUsers"`
	TotalCreditsIssued int `json:"totalCreditsIssued"`
	TotalCreditsUsed   int `json:"totalCreditsUsed"`
}
