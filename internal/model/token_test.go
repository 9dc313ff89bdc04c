package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIssuedTokenIsExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"past expiry", now.Add(-time.Hour), true},
		{"expires exactly now", now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &IssuedToken{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expired, tok.IsExpired(now))
		})
	}
}

func TestPrescriptionStatusIsTerminal(t *testing.T) {
	terminal := []PrescriptionStatus{
		PrescriptionStatusFulfilled,
		PrescriptionStatusRejected,
		PrescriptionStatusCancelled,
		PrescriptionStatusExpired,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	open := []PrescriptionStatus{
		PrescriptionStatusPending,
		PrescriptionStatusScanned,
		PrescriptionStatusValidated,
		PrescriptionStatusDispensed,
	}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}
