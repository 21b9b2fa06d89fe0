package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusInProgress, StatusResolved, true},
		{StatusOpen, StatusResolved, false},
		{StatusResolved, StatusOpen, false},
		{StatusInProgress, StatusOpen, false},
		{StatusResolved, StatusInProgress, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("in_progress")
	assert.True(t, ok)
	assert.Equal(t, StatusInProgress, s)

	_, ok = ParseStatus("closed")
	assert.False(t, ok)
}

func TestGeoPointValid(t *testing.T) {
	assert.True(t, GeoPoint{Lat: 12.97, Lng: 77.59}.Valid())
	assert.False(t, GeoPoint{}.Valid())
	assert.False(t, GeoPoint{Lat: 91, Lng: 10}.Valid())
}

func TestWithBreachWarning(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticket := Ticket{Status: StatusOpen, SLA: SLA{ExpectedResolutionDate: &due}}

	assert.False(t, ticket.WithBreachWarning(due.Add(-time.Hour)).SLA.BreachWarning)
	assert.True(t, ticket.WithBreachWarning(due.Add(time.Hour)).SLA.BreachWarning)

	ticket.Status = StatusResolved
	assert.False(t, ticket.WithBreachWarning(due.Add(time.Hour)).SLA.BreachWarning)
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, NormalizeSeverity("critical"))
	assert.Equal(t, SeverityLow, NormalizeSeverity(" low "))
	assert.Equal(t, SeverityMedium, NormalizeSeverity(""))
}
