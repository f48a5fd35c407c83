package services

import (
	"time"

	domain "github.com/payforge/api/internal/domain"
)

const messageIDPrefix = "msg_"

// Diagnostic codes attached to checkout sessions.
const (
	MessageCodeLineItemsRequired       = "line_items_required"
	MessageCodeBuyerEmailRequired      = "buyer_email_required"
	MessageCodeShippingAddressRequired = "shipping_address_required"
	MessageCodeInstrumentRequired      = "payment_instrument_required"
	MessageCodeInstrumentNotResolvable = "payment_instrument_not_resolvable"
	MessageCodeCurrencyNotRecognized   = "currency_not_recognized"
	MessageCodeCheckoutExpiresSoon     = "checkout_expires_soon"
)

// messageFieldPaths maps each diagnostic code to its canonical session field.
// Every error code used by the checkout flow must have an entry here; the
// table is verified exhaustively in tests.
var messageFieldPaths = map[string]string{
	MessageCodeLineItemsRequired:       "line_items",
	MessageCodeBuyerEmailRequired:      "buyer.email",
	MessageCodeShippingAddressRequired: "shipping_address",
	MessageCodeInstrumentRequired:      "selected_instrument_id",
	MessageCodeInstrumentNotResolvable: "selected_instrument_id",
	MessageCodeCurrencyNotRecognized:   "currency",
	MessageCodeCheckoutExpiresSoon:     "expires_at",
}

// ErrorMessageOptions overrides the defaults applied to error messages.
type ErrorMessageOptions struct {
	Severity domain.MessageSeverity
	Path     string
}

// messageBuilder constructs diagnostics with deterministic ids and timestamps.
type messageBuilder struct {
	clock func() time.Time
	newID func() string
}

// Error builds an error message. Severity defaults to requires_buyer_input and
// the path defaults to the canonical field for the code.
func (b messageBuilder) Error(code, content string, opts ErrorMessageOptions) domain.Message {
	severity := opts.Severity
	if severity == "" {
		severity = domain.SeverityRequiresBuyerInput
	}
	path := opts.Path
	if path == "" {
		path = messageFieldPaths[code]
	}
	return domain.Message{
		ID:        messageIDPrefix + b.newID(),
		Type:      domain.MessageTypeError,
		Code:      code,
		Content:   content,
		Severity:  severity,
		Path:      path,
		CreatedAt: b.clock(),
	}
}

// Warning builds a warning message. Warnings carry no severity.
func (b messageBuilder) Warning(code, content string) domain.Message {
	return domain.Message{
		ID:        messageIDPrefix + b.newID(),
		Type:      domain.MessageTypeWarning,
		Code:      code,
		Content:   content,
		Path:      messageFieldPaths[code],
		CreatedAt: b.clock(),
	}
}

// Info builds an informational message.
func (b messageBuilder) Info(code, content string) domain.Message {
	return domain.Message{
		ID:        messageIDPrefix + b.newID(),
		Type:      domain.MessageTypeInfo,
		Code:      code,
		Content:   content,
		CreatedAt: b.clock(),
	}
}

// MessageSummary reports per-type diagnostic counts for a session.
type MessageSummary struct {
	Errors   int
	Warnings int
	Infos    int
	Blocking int
}

func appendMessage(messages []domain.Message, msg domain.Message) []domain.Message {
	return append(messages, msg)
}

func removeMessagesByCode(messages []domain.Message, code string) []domain.Message {
	filtered := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Code != code {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

func filterMessagesByType(messages []domain.Message, msgType domain.MessageType) []domain.Message {
	var filtered []domain.Message
	for _, msg := range messages {
		if msg.Type == msgType {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// hasBlockingErrors reports whether any error message requires buyer input.
func hasBlockingErrors(messages []domain.Message) bool {
	for _, msg := range messages {
		if msg.Type == domain.MessageTypeError && msg.Severity == domain.SeverityRequiresBuyerInput {
			return true
		}
	}
	return false
}

// SummarizeMessages reports per-type diagnostic counts for a message list.
// Blocking counts errors with buyer-input severity only.
func SummarizeMessages(messages []domain.Message) MessageSummary {
	var summary MessageSummary
	for _, msg := range messages {
		switch msg.Type {
		case domain.MessageTypeError:
			summary.Errors++
			if msg.Severity == domain.SeverityRequiresBuyerInput {
				summary.Blocking++
			}
		case domain.MessageTypeWarning:
			summary.Warnings++
		case domain.MessageTypeInfo:
			summary.Infos++
		}
	}
	return summary
}
