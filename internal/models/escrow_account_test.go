package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestIsValidAccountTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{AccountStatusCreated, AccountStatusFunded, true},
		{AccountStatusFunded, AccountStatusReleased, true},
		{AccountStatusFunded, AccountStatusDisputed, true},
		{AccountStatusCreated, AccountStatusCancelled, true},

		// Monotonic: nothing returns to created, terminals stay terminal
		{AccountStatusFunded, AccountStatusCreated, false},
		{AccountStatusReleased, AccountStatusFunded, false},
		{AccountStatusDisputed, AccountStatusFunded, false},
		{AccountStatusCancelled, AccountStatusCreated, false},
		{AccountStatusReleased, AccountStatusDisputed, false},

		// Cancel is pre-funding only, dispute is post-funding only
		{AccountStatusFunded, AccountStatusCancelled, false},
		{AccountStatusCreated, AccountStatusDisputed, false},
		{AccountStatusCreated, AccountStatusReleased, false},

		{"nonexistent", AccountStatusFunded, false},
		{AccountStatusCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidAccountTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidAccountTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllAccountStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		AccountStatusCreated, AccountStatusFunded,
		AccountStatusReleased, AccountStatusDisputed, AccountStatusCancelled,
	}

	for _, status := range allStatuses {
		if _, ok := ValidAccountTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidAccountTransitions map", status)
		}
	}
}

func TestTerminalAccountStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{AccountStatusReleased, AccountStatusDisputed, AccountStatusCancelled}
	for _, status := range terminal {
		transitions := ValidAccountTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestPartyRole(t *testing.T) {
	payer := uuid.New()
	payee := uuid.New()
	account := &EscrowAccount{PayerID: payer, PayeeID: payee}

	if got := account.PartyRole(payer); got != RolePayer {
		t.Errorf("PartyRole(payer) = %q, want %q", got, RolePayer)
	}
	if got := account.PartyRole(payee); got != RolePayee {
		t.Errorf("PartyRole(payee) = %q, want %q", got, RolePayee)
	}
	if got := account.PartyRole(uuid.New()); got != "" {
		t.Errorf("PartyRole(stranger) = %q, want empty", got)
	}
}

func TestRemainingCents(t *testing.T) {
	account := &EscrowAccount{AmountCents: 100000, ReleasedAmountCents: 40000}
	if got := account.RemainingCents(); got != 60000 {
		t.Errorf("RemainingCents() = %d, want 60000", got)
	}
}
