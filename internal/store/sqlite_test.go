package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sumLedger(t *testing.T, s *SQLiteStore, userID string) int {
	t.Helper()
	var sum int
	require.NoError(t, s.DB().QueryRow("SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?", userID).Scan(&sum))
	return sum
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	version, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	statuses, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
}

func TestEnsureUserGrantsSignupCreditsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "user-1", "a@example.com", false, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Credits)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, StatusActive, u.Status)
	assert.False(t, u.EmailVerified)

	u, err = s.EnsureUser(ctx, "user-1", "a@example.com", true, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Credits, "signup credits must not be granted twice")
	assert.True(t, u.EmailVerified)
	assert.NotNil(t, u.VerifiedAt)

	txs, err := s.ListTransactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TxSignupBonus, txs[0].Type)
	assert.Equal(t, 3, sumLedger(t, s, "user-1"))
}

func TestGetUserByIDMissing(t *testing.T) {
	s := newTestStore(t)
	u, err := s.GetUserByID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestDebitUsageConservesCredits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", true, 5)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		balance, err := s.DebitUsage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 5-i, balance)
	}

	_, err = s.DebitUsage(ctx, "user-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	txs, err := s.ListTransactions(ctx, "user-1", 100)
	require.NoError(t, err)
	usage := 0
	for _, tx := range txs {
		if tx.Type == TxUsage {
			usage++
			assert.Equal(t, -1, tx.Amount)
		}
	}
	assert.Equal(t, 5, usage)
	assert.Equal(t, 0, sumLedger(t, s, "user-1"))
}

func TestDebitUsageConcurrentNeverOverspends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", true, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DebitUsage(ctx, "user-1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	u, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Credits)
	assert.Equal(t, 0, sumLedger(t, s, "user-1"))
}

func TestCreditPurchaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", true, 0)
	require.NoError(t, err)

	balance, err := s.CreditPurchase(ctx, "user-1", 25, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, 25, balance)

	balance, err = s.CreditPurchase(ctx, "user-1", 25, "cs_test_1")
	assert.ErrorIs(t, err, ErrDuplicatePurchase)
	assert.Equal(t, 25, balance)

	purchases, err := s.Purchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "a@example.com", purchases[0].UserEmail)
	assert.Equal(t, "cs_test_1", purchases[0].Reference)

	_, err = s.CreditPurchase(ctx, "ghost", 25, "cs_test_2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustCredits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", true, 2)
	require.NoError(t, err)

	balance, err := s.AdjustCredits(ctx, "admin-1", "user-1", 10, "support refund")
	require.NoError(t, err)
	assert.Equal(t, 12, balance)

	_, err = s.AdjustCredits(ctx, "admin-1", "user-1", -20, "too much")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = s.AdjustCredits(ctx, "admin-1", "ghost", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 12, sumLedger(t, s, "user-1"))

	logs, err := s.AdminLogs(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "update_credits", logs[0].ActionType)
	assert.Contains(t, logs[0].Details, "support refund")
}

func TestAdminUserMutations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", false, 0)
	require.NoError(t, err)

	require.NoError(t, s.SetUserStatus(ctx, "admin-1", "user-1", StatusBanned))
	require.NoError(t, s.VerifyUserEmail(ctx, "admin-1", "user-1"))
	require.NoError(t, s.SetUserRole(ctx, "admin-1", "user-1", RoleAdmin))

	u, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, u.Status)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.True(t, u.IsAdmin())

	assert.ErrorIs(t, s.SetUserStatus(ctx, "admin-1", "ghost", StatusActive), ErrNotFound)
	assert.Error(t, s.SetUserStatus(ctx, "admin-1", "user-1", Status("deleted")))

	logs, err := s.AdminLogs(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCacheEntriesAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	miss, err := s.GetCacheEntry(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, s.SaveCacheEntry(ctx, &CacheEntry{Fingerprint: "abc", Kind: "flowchart", Payload: "x", Tag: "main.go", Explanation: "first", Markup: "flowchart TD"}))
	require.NoError(t, s.SaveCacheEntry(ctx, &CacheEntry{Fingerprint: "abc", Kind: "flowchart", Payload: "x", Tag: "main.go", Explanation: "second", Markup: "flowchart LR"}))

	hit, err := s.GetCacheEntry(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "first", hit.Explanation)
	assert.Equal(t, "main.go", hit.Tag)
}

func TestPruneCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.SaveCacheEntry(ctx, &CacheEntry{Fingerprint: "old", Kind: "flowchart", Explanation: "e", Markup: "m", CreatedAt: old}))
	require.NoError(t, s.SaveCacheEntry(ctx, &CacheEntry{Fingerprint: "new", Kind: "flowchart", Explanation: "e", Markup: "m"}))

	n, err := s.PruneCache(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hit, err := s.GetCacheEntry(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

func TestAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "user-1", "a@example.com", true, 3)
	require.NoError(t, err)
	_, err = s.EnsureUser(ctx, "user-2", "b@example.com", true, 3)
	require.NoError(t, err)
	require.NoError(t, s.SetUserStatus(ctx, "admin", "user-2", StatusBanned))
	_, err = s.DebitUsage(ctx, "user-1")
	require.NoError(t, err)

	a, err := s.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalUsers)
	assert.Equal(t, 1, a.ActiveUsers)
	assert.Equal(t, 6, a.TotalCreditsIssued)
	assert.Equal(t, 1, a.TotalCreditsUsed)

	recent, err := s.RecentTransactions(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
