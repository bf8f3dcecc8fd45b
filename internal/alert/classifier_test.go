package alert

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/welfare-notifier/internal/models"
)

func TestClassify_HeatwaveWarning(t *testing.T) {
	c := NewClassifier(DefaultRules("서울특별시"))
	observed := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

	rec := c.Classify(models.DisasterMessage{
		SerialNumber: "200",
		Location:     "서울특별시 전체",
		Message:      "폭염경보 발령",
		CreatedAt:    observed,
	})

	assert.Equal(t, "200", rec.ID)
	assert.Equal(t, "heatwave", rec.Category)
	assert.Equal(t, "warning", rec.EmergencyLevel)
	assert.True(t, rec.IsEmergency)
	assert.Equal(t, observed, rec.ObservedAt)
}

func TestClassify_LevelPriority(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		message  string
		category string
		level    string
	}{
		{"호우주의보 발효", "heavy-rain", "watch"},
		{"대설경보 및 강풍주의보", "heavy-snow", "warning"},
		{"지진해일 긴급 대피", "tsunami", "urgent"},
		{"규모 4.0 지진 발생, 여진 주의", "earthquake", "advisory"},
		{"산불 위기경보 심각 단계", "wildfire", "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			rec := c.Classify(models.DisasterMessage{SerialNumber: "1", Message: tt.message})
			assert.Equal(t, tt.category, rec.Category)
			assert.Equal(t, tt.level, rec.EmergencyLevel)
			assert.True(t, rec.IsEmergency)
		})
	}
}

func TestClassify_LevelOnlyIsEmergency(t *testing.T) {
	c := NewClassifier(DefaultRules())
	rec := c.Classify(models.DisasterMessage{SerialNumber: "1", Message: "가스 누출 긴급 대피"})
	assert.Equal(t, CategoryOther, rec.Category)
	assert.Equal(t, "urgent", rec.EmergencyLevel)
	assert.True(t, rec.IsEmergency)
}

func TestClassify_NotEmergency(t *testing.T) {
	c := NewClassifier(DefaultRules())
	rec := c.Classify(models.DisasterMessage{SerialNumber: "1", Message: "실종자를 찾습니다"})
	assert.False(t, rec.IsEmergency)
	assert.Equal(t, CategoryOther, rec.Category)
	assert.Empty(t, rec.EmergencyLevel)
}

func TestRelevant(t *testing.T) {
	c := NewClassifier(DefaultRules("서울특별시", "종로구"))

	assert.True(t, c.Relevant(models.DisasterMessage{Location: "서울특별시 종로구", Message: "실종자"}))
	assert.False(t, c.Relevant(models.DisasterMessage{Location: "부산광역시", Message: "폭염경보"}))
	assert.True(t, c.Relevant(models.DisasterMessage{Location: "전국", Message: "태풍 북상"}))
	assert.False(t, c.Relevant(models.DisasterMessage{Location: "전국", Message: "코로나 방역수칙"}))
	assert.True(t, c.Relevant(models.DisasterMessage{Location: "", Message: "한파 대비"}))
}

func TestFilter(t *testing.T) {
	c := NewClassifier(DefaultRules("서울특별시"))
	recs := c.Filter([]models.DisasterMessage{
		{SerialNumber: "1", Location: "서울특별시", Message: "폭염경보"},
		{SerialNumber: "2", Location: "대구광역시", Message: "폭염경보"},
		{SerialNumber: "3", Location: "전국", Message: "한파주의보"},
	})
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, "3", recs[1].ID)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
local_regions: ["부산광역시"]
levels:
  - term: 경보
    label: warning
`), 0o644))

	rules, err := LoadRules(path, "서울특별시")
	require.NoError(t, err)
	assert.Equal(t, []string{"부산광역시"}, rules.LocalRegions)
	assert.Len(t, rules.Levels, 1)
	assert.Equal(t, DefaultRules().Disasters, rules.Disasters)
}

func TestLoadRules_EmptyPathIsDefault(t *testing.T) {
	rules, err := LoadRules("", "서울특별시")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules("서울특별시"), rules)
}

func TestLoadRules_RejectsIncompleteKeyword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("disasters:\n  - term: 폭염\n"), 0o644))

	_, err := LoadRules(path)
	assert.Error(t, err)
}
