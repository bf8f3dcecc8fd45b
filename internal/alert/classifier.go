package alert

import (
	"strings"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// CategoryOther is used when no disaster keyword matches
const CategoryOther = "other"

// Classifier turns disaster messages into alert records using keyword rules
type Classifier struct {
	rules Rules
}

// NewClassifier creates a classifier
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Relevant reports whether a message concerns one of the local regions, or
// is a nationwide message about a known disaster type.
func (c *Classifier) Relevant(m models.DisasterMessage) bool {
	for _, region := range c.rules.LocalRegions {
		if region != "" && strings.Contains(m.Location, region) {
			return true
		}
	}

	if !c.nationwide(m.Location) {
		return false
	}
	_, ok := match(m.Message, c.rules.Disasters)
	return ok
}

func (c *Classifier) nationwide(location string) bool {
	location = strings.TrimSpace(location)
	if location == "" {
		return true
	}
	for _, term := range c.rules.NationwideTerms {
		if strings.Contains(location, term) {
			return true
		}
	}
	return false
}

// Classify extracts category and level from the message text. A message is
// an emergency when any disaster or level keyword matched.
func (c *Classifier) Classify(m models.DisasterMessage) models.AlertRecord {
	category, categoryMatched := match(m.Message, c.rules.Disasters)
	if !categoryMatched {
		category = CategoryOther
	}
	level, levelMatched := match(m.Message, c.rules.Levels)

	return models.AlertRecord{
		ID:             m.SerialNumber,
		Region:         m.Location,
		Category:       category,
		Message:        m.Message,
		EmergencyLevel: level,
		IsEmergency:    categoryMatched || levelMatched,
		ObservedAt:     m.CreatedAt,
		FetchedAt:      m.FetchedAt,
	}
}

// Filter drops irrelevant messages and classifies the rest, preserving order
func (c *Classifier) Filter(msgs []models.DisasterMessage) []models.AlertRecord {
	records := make([]models.AlertRecord, 0, len(msgs))
	for _, m := range msgs {
		if !c.Relevant(m) {
			continue
		}
		records = append(records, c.Classify(m))
	}
	return records
}

// match returns the label of the first keyword contained in text
func match(text string, keywords []Keyword) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(text, k.Term) {
			return k.Label, true
		}
	}
	return "", false
}
