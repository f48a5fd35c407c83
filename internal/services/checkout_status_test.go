package services

import (
	"testing"
	"time"

	domain "github.com/payforge/api/internal/domain"
)

func readySession() domain.CheckoutSession {
	return domain.CheckoutSession{
		ID:       "chk_1",
		TenantID: "tn_1",
		Currency: "USD",
		LineItems: []domain.LineItem{
			{ID: "li-1", Name: "Widget", Quantity: 1, UnitPrice: 1000, TotalPrice: 1000, Currency: "USD"},
		},
		Buyer:           &domain.Buyer{Email: "buyer@example.com"},
		ShippingAddress: &domain.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		PaymentInstruments: []domain.PaymentInstrument{
			{ID: "pi_1", Handler: "stripe", Type: "card"},
		},
		SelectedInstrumentID: "pi_1",
		Status:               domain.CheckoutStatusIncomplete,
	}
}

func TestValidateCheckoutTransitionTable(t *testing.T) {
	cases := []struct {
		from    domain.CheckoutStatus
		to      domain.CheckoutStatus
		allowed bool
	}{
		{domain.CheckoutStatusIncomplete, domain.CheckoutStatusRequiresEscalation, true},
		{domain.CheckoutStatusIncomplete, domain.CheckoutStatusReadyForComplete, true},
		{domain.CheckoutStatusIncomplete, domain.CheckoutStatusCanceled, true},
		{domain.CheckoutStatusIncomplete, domain.CheckoutStatusCompleted, false},
		{domain.CheckoutStatusRequiresEscalation, domain.CheckoutStatusIncomplete, true},
		{domain.CheckoutStatusRequiresEscalation, domain.CheckoutStatusCompleteInProgress, false},
		{domain.CheckoutStatusReadyForComplete, domain.CheckoutStatusCompleteInProgress, true},
		{domain.CheckoutStatusReadyForComplete, domain.CheckoutStatusIncomplete, true},
		{domain.CheckoutStatusCompleteInProgress, domain.CheckoutStatusCompleted, true},
		{domain.CheckoutStatusCompleteInProgress, domain.CheckoutStatusCanceled, false},
		{domain.CheckoutStatusCompleted, domain.CheckoutStatusCanceled, false},
		{domain.CheckoutStatusCanceled, domain.CheckoutStatusIncomplete, false},
	}

	for _, tc := range cases {
		allowed, reason := validateCheckoutTransition(tc.from, tc.to)
		if allowed != tc.allowed {
			t.Fatalf("%s -> %s: allowed = %v, want %v", tc.from, tc.to, allowed, tc.allowed)
		}
		if !allowed && reason == "" {
			t.Fatalf("%s -> %s: disallowed transition must carry a reason", tc.from, tc.to)
		}
	}
}

func TestMissingCheckoutRequirementsCanonicalOrder(t *testing.T) {
	missing := missingCheckoutRequirements(domain.CheckoutSession{})

	want := []string{"line_items", "buyer.email", "shipping_address", "selected_instrument_id"}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("missing[%d] = %q, want %q", i, missing[i], want[i])
		}
	}
}

func TestMissingCheckoutRequirementsUnresolvableInstrument(t *testing.T) {
	session := readySession()
	session.SelectedInstrumentID = "pi_missing"

	missing := missingCheckoutRequirements(session)
	if len(missing) != 1 || missing[0] != "selected_instrument_id" {
		t.Fatalf("missing = %v, want only selected_instrument_id", missing)
	}
}

func TestComputeCheckoutStatus(t *testing.T) {
	session := readySession()
	if got := computeCheckoutStatus(session); got != domain.CheckoutStatusReadyForComplete {
		t.Fatalf("complete session status = %q, want ready_for_complete", got)
	}

	session.SelectedInstrumentID = ""
	if got := computeCheckoutStatus(session); got != domain.CheckoutStatusIncomplete {
		t.Fatalf("session without instrument = %q, want incomplete", got)
	}

	session = readySession()
	session.Messages = []domain.Message{{
		Type:      domain.MessageTypeError,
		Code:      "handler_declined",
		Severity:  domain.SeverityRequiresBuyerInput,
		CreatedAt: time.Now(),
	}}
	if got := computeCheckoutStatus(session); got != domain.CheckoutStatusRequiresEscalation {
		t.Fatalf("blocked session = %q, want requires_escalation", got)
	}

	session.Messages[0].Severity = domain.SeverityRecoverable
	if got := computeCheckoutStatus(session); got != domain.CheckoutStatusReadyForComplete {
		t.Fatalf("recoverable error must not block, got %q", got)
	}
}

func TestComputeCheckoutStatusTerminalSticky(t *testing.T) {
	for _, status := range []domain.CheckoutStatus{domain.CheckoutStatusCompleted, domain.CheckoutStatusCanceled} {
		session := domain.CheckoutSession{Status: status}
		if got := computeCheckoutStatus(session); got != status {
			t.Fatalf("terminal status %q recomputed to %q", status, got)
		}
	}
}

func TestCheckoutStatusPredicates(t *testing.T) {
	all := []domain.CheckoutStatus{
		domain.CheckoutStatusIncomplete,
		domain.CheckoutStatusRequiresEscalation,
		domain.CheckoutStatusReadyForComplete,
		domain.CheckoutStatusCompleteInProgress,
		domain.CheckoutStatusCompleted,
		domain.CheckoutStatusCanceled,
	}

	for _, status := range all {
		if got, want := canCompleteCheckout(status), status == domain.CheckoutStatusReadyForComplete; got != want {
			t.Fatalf("canComplete(%q) = %v, want %v", status, got, want)
		}

		openStatus := status == domain.CheckoutStatusIncomplete ||
			status == domain.CheckoutStatusRequiresEscalation ||
			status == domain.CheckoutStatusReadyForComplete
		if got := canModifyCheckout(status); got != openStatus {
			t.Fatalf("canModify(%q) = %v, want %v", status, got, openStatus)
		}
		if got := canCancelCheckout(status); got != openStatus {
			t.Fatalf("canCancel(%q) = %v, want %v", status, got, openStatus)
		}

		terminal := status == domain.CheckoutStatusCompleted || status == domain.CheckoutStatusCanceled
		if got := isTerminalCheckoutStatus(status); got != terminal {
			t.Fatalf("isTerminal(%q) = %v, want %v", status, got, terminal)
		}
	}
}
