package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessedSet_AddContains(t *testing.T) {
	s := NewProcessedSet(24*time.Hour, 0, nil)
	assert.False(t, s.Contains("a"))
	s.Add("a")
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Len())
}

func TestProcessedSet_AgesOut(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewProcessedSet(24*time.Hour, 0, func() time.Time { return now })

	s.Add("old")
	now = now.Add(12 * time.Hour)
	s.Add("new")

	now = now.Add(12*time.Hour + time.Second)
	assert.False(t, s.Contains("old"))
	assert.True(t, s.Contains("new"))
}

func TestProcessedSet_CeilingEvictsOldestOnly(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewProcessedSet(24*time.Hour, 3, func() time.Time { return now })

	for i := 0; i < 4; i++ {
		now = now.Add(time.Minute)
		s.Add(fmt.Sprintf("id-%d", i))
	}

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("id-0"))
	for i := 1; i < 4; i++ {
		assert.True(t, s.Contains(fmt.Sprintf("id-%d", i)))
	}
}

func TestProcessedSet_ReAddRefreshesAge(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewProcessedSet(time.Hour, 2, func() time.Time { return now })

	s.Add("a")
	now = now.Add(time.Minute)
	s.Add("b")
	now = now.Add(time.Minute)
	s.Add("a")
	now = now.Add(time.Minute)
	s.Add("c")

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestProcessedSet_AddAtKeepsOriginalAge(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	s := NewProcessedSet(24*time.Hour, 0, func() time.Time { return now })

	assert.False(t, s.AddAt("expired", now.Add(-25*time.Hour)))
	assert.True(t, s.AddAt("restored", now.Add(-23*time.Hour)))
	assert.False(t, s.Contains("expired"))
	assert.True(t, s.Contains("restored"))

	// ages out on its original schedule, not 24h from the restore
	now = now.Add(time.Hour + time.Second)
	assert.False(t, s.Contains("restored"))
}
