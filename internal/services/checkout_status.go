package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/payforge/api/internal/domain"
)

var checkoutStateTransitions = map[domain.CheckoutStatus][]domain.CheckoutStatus{
	domain.CheckoutStatusIncomplete: {
		domain.CheckoutStatusRequiresEscalation,
		domain.CheckoutStatusReadyForComplete,
		domain.CheckoutStatusCanceled,
	},
	domain.CheckoutStatusRequiresEscalation: {
		domain.CheckoutStatusIncomplete,
		domain.CheckoutStatusReadyForComplete,
		domain.CheckoutStatusCanceled,
	},
	domain.CheckoutStatusReadyForComplete: {
		domain.CheckoutStatusIncomplete,
		domain.CheckoutStatusCompleteInProgress,
		domain.CheckoutStatusCanceled,
	},
	domain.CheckoutStatusCompleteInProgress: {
		domain.CheckoutStatusCompleted,
	},
}

// validateCheckoutTransition reports whether the status move is legal and,
// when it is not, a human readable reason. It never mutates state.
func validateCheckoutTransition(from, to domain.CheckoutStatus) (bool, string) {
	if from == to {
		return true, ""
	}
	if isTerminalCheckoutStatus(from) {
		return false, fmt.Sprintf("checkout status %q is terminal", from)
	}
	allowed, ok := checkoutStateTransitions[from]
	if !ok || !slices.Contains(allowed, to) {
		return false, fmt.Sprintf("checkout status cannot move from %q to %q", from, to)
	}
	return true, ""
}

// missingCheckoutRequirements lists the unsatisfied completion requirements in
// canonical order.
func missingCheckoutRequirements(session domain.CheckoutSession) []string {
	var missing []string
	if len(session.LineItems) == 0 {
		missing = append(missing, "line_items")
	}
	if session.Buyer == nil || strings.TrimSpace(session.Buyer.Email) == "" {
		missing = append(missing, "buyer.email")
	}
	if session.ShippingAddress == nil {
		missing = append(missing, "shipping_address")
	}
	if !selectedInstrumentResolvable(session) {
		missing = append(missing, "selected_instrument_id")
	}
	return missing
}

func selectedInstrumentResolvable(session domain.CheckoutSession) bool {
	if session.SelectedInstrumentID == "" {
		return false
	}
	for _, instrument := range session.PaymentInstruments {
		if instrument.ID == session.SelectedInstrumentID {
			return true
		}
	}
	return false
}

// computeCheckoutStatus derives the session status from its content and
// diagnostics. Terminal statuses are sticky and returned unchanged.
func computeCheckoutStatus(session domain.CheckoutSession) domain.CheckoutStatus {
	if isTerminalCheckoutStatus(session.Status) {
		return session.Status
	}
	if hasBlockingErrors(session.Messages) {
		return domain.CheckoutStatusRequiresEscalation
	}
	if len(missingCheckoutRequirements(session)) > 0 {
		return domain.CheckoutStatusIncomplete
	}
	return domain.CheckoutStatusReadyForComplete
}

func canCompleteCheckout(status domain.CheckoutStatus) bool {
	return status == domain.CheckoutStatusReadyForComplete
}

func canModifyCheckout(status domain.CheckoutStatus) bool {
	switch status {
	case domain.CheckoutStatusIncomplete, domain.CheckoutStatusRequiresEscalation, domain.CheckoutStatusReadyForComplete:
		return true
	default:
		return false
	}
}

func canCancelCheckout(status domain.CheckoutStatus) bool {
	return canModifyCheckout(status)
}

func isTerminalCheckoutStatus(status domain.CheckoutStatus) bool {
	return status == domain.CheckoutStatusCompleted || status == domain.CheckoutStatusCanceled
}
