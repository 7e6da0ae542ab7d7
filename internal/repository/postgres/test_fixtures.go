package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trendboard/internal/domain/market_data"
	"trendboard/internal/testsupport"
)

// TestFixtures seeds rows that foreign keys require
type TestFixtures struct {
	t  *testing.T
	db DBTX
}

// NewTestFixtures creates a new test fixtures factory
func NewTestFixtures(t *testing.T, db DBTX) *TestFixtures {
	return &TestFixtures{t: t, db: db}
}

// CreateSecurity registers the fixture security
func (f *TestFixtures) CreateSecurity() string {
	f.t.Helper()
	now := time.Now().UTC()
	err := NewSecurityRepository(f.db).Upsert(context.Background(), &market_data.Security{
		SecurityID: testsupport.SecurityID,
		Symbol:     "MANKIND",
		Exchange:   "NSE_EQ",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(f.t, err)
	return testsupport.SecurityID
}

// CreateDailyBars stores a daily series starting at day0
func (f *TestFixtures) CreateDailyBars(day0 time.Time, closes []float64) []market_data.Bar {
	f.t.Helper()
	bars := testsupport.DailySeries(day0, closes)
	_, err := NewBarRepository(f.db).UpsertBars(context.Background(), bars)
	require.NoError(f.t, err)
	return bars
}
