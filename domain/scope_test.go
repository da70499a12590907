package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScopeValidate(t *testing.T) {
	now := time.Now()

	t.Run("global is always valid", func(t *testing.T) {
		assert.NoError(t, GlobalScope().Validate())
	})

	t.Run("feeds scope needs feed ids", func(t *testing.T) {
		assert.NoError(t, FeedScope(1, 2).Validate())
		assert.Error(t, FeedScope().Validate())
	})

	t.Run("items scope needs item ids", func(t *testing.T) {
		assert.NoError(t, ItemScope(1).Validate())
		assert.Error(t, ItemScope().Validate())
	})

	t.Run("timerange needs an ordered window", func(t *testing.T) {
		assert.NoError(t, TimeRangeScope(now, now.Add(time.Hour)).Validate())
		assert.Error(t, TimeRangeScope(now, now).Validate())
		assert.Error(t, TimeRangeScope(now.Add(time.Hour), now).Validate())
		assert.Error(t, RunScope{Kind: ScopeTimeRange}.Validate())
	})

	t.Run("unknown kinds are rejected", func(t *testing.T) {
		assert.Error(t, RunScope{Kind: "everything"}.Validate())
	})
}

func TestRunScopeRoundTrip(t *testing.T) {
	scope := FeedScope(3, 7)

	data, err := scope.Value()
	require.NoError(t, err)

	got, err := ScanScope(data)
	require.NoError(t, err)
	assert.Equal(t, scope, got)
}

func TestScanScopeRejectsGarbage(t *testing.T) {
	_, err := ScanScope([]byte("{not json"))
	assert.Error(t, err)
}
