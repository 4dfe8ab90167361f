package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type record struct {
	Name   string `json:"name"`
	Active bool   `json:"is_active"`
	Count  int    `json:"count,omitempty"`
	hidden string
}

func TestExtractFields(t *testing.T) {
	e := &DefaultFieldExtractor{}
	got := e.ExtractFields(&record{Name: "a", Active: true, Count: 2, hidden: "x"}, []string{"name", "count", "hidden"})
	assert.Equal(t, map[string]interface{}{"name": "a", "count": 2}, got)

	assert.Empty(t, e.ExtractFields(nil, []string{"name"}))
	assert.Empty(t, e.ExtractFields((*record)(nil), []string{"name"}))
}

func TestExtractChanges(t *testing.T) {
	e := &DefaultFieldExtractor{}
	old := record{Name: "a", Active: true, Count: 1}
	updated := record{Name: "a", Active: false, Count: 1}

	got := e.ExtractChanges(old, updated, []string{"name", "is_active", "count"})
	assert.Equal(t, map[string]interface{}{
		"is_active": map[string]interface{}{"old": true, "new": false},
	}, got)
}
