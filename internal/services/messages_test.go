package services

import (
	"testing"
	"time"

	domain "github.com/payforge/api/internal/domain"
)

func testMessageBuilder() messageBuilder {
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	return messageBuilder{
		clock: func() time.Time { return now },
		newID: sequentialIDs(),
	}
}

func TestErrorMessageDefaults(t *testing.T) {
	builder := testMessageBuilder()

	msg := builder.Error(MessageCodeBuyerEmailRequired, "buyer email is required", ErrorMessageOptions{})

	if msg.Type != domain.MessageTypeError {
		t.Fatalf("type = %q, want error", msg.Type)
	}
	if msg.Severity != domain.SeverityRequiresBuyerInput {
		t.Fatalf("severity = %q, want default blocking severity", msg.Severity)
	}
	if msg.Path != "buyer.email" {
		t.Fatalf("path = %q, want canonical buyer.email", msg.Path)
	}
	if msg.ID != "msg_id-1" {
		t.Fatalf("id = %q, want msg_id-1", msg.ID)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("created timestamp not set")
	}
}

func TestErrorMessageOverrides(t *testing.T) {
	builder := testMessageBuilder()

	msg := builder.Error("custom_code", "something recoverable", ErrorMessageOptions{
		Severity: domain.SeverityRecoverable,
		Path:     "metadata.custom",
	})

	if msg.Severity != domain.SeverityRecoverable {
		t.Fatalf("severity = %q, want recoverable", msg.Severity)
	}
	if msg.Path != "metadata.custom" {
		t.Fatalf("path = %q, want override", msg.Path)
	}
}

func TestWarningAndInfoCarryNoSeverity(t *testing.T) {
	builder := testMessageBuilder()

	warning := builder.Warning(MessageCodeCurrencyNotRecognized, "unknown currency")
	info := builder.Info("checkout_created", "session opened")

	if warning.Severity != "" || info.Severity != "" {
		t.Fatalf("warning/info must not carry severity, got %q and %q", warning.Severity, info.Severity)
	}
	if warning.Path != "currency" {
		t.Fatalf("warning path = %q, want currency", warning.Path)
	}
}

func TestRemoveMessagesByCode(t *testing.T) {
	builder := testMessageBuilder()
	messages := []domain.Message{
		builder.Error(MessageCodeBuyerEmailRequired, "missing email", ErrorMessageOptions{}),
		builder.Warning(MessageCodeCurrencyNotRecognized, "unknown currency"),
		builder.Error(MessageCodeBuyerEmailRequired, "still missing", ErrorMessageOptions{}),
	}

	remaining := removeMessagesByCode(messages, MessageCodeBuyerEmailRequired)

	if len(remaining) != 1 {
		t.Fatalf("expected 1 message remaining, got %d", len(remaining))
	}
	if remaining[0].Code != MessageCodeCurrencyNotRecognized {
		t.Fatalf("unexpected surviving code %q", remaining[0].Code)
	}
}

func TestRemoveMessagesByCodeLeavesInputIntact(t *testing.T) {
	builder := testMessageBuilder()
	messages := []domain.Message{
		builder.Error(MessageCodeBuyerEmailRequired, "missing email", ErrorMessageOptions{}),
		builder.Warning(MessageCodeCurrencyNotRecognized, "unknown currency"),
	}

	removeMessagesByCode(messages, MessageCodeBuyerEmailRequired)

	if messages[0].Code != MessageCodeBuyerEmailRequired {
		t.Fatalf("input slice was rewritten, first code = %q", messages[0].Code)
	}
	if messages[1].Code != MessageCodeCurrencyNotRecognized {
		t.Fatalf("input slice was rewritten, second code = %q", messages[1].Code)
	}
}

func TestFilterMessagesByType(t *testing.T) {
	builder := testMessageBuilder()
	messages := []domain.Message{
		builder.Error("a", "a", ErrorMessageOptions{}),
		builder.Warning("b", "b"),
		builder.Info("c", "c"),
		builder.Error("d", "d", ErrorMessageOptions{Severity: domain.SeverityRecoverable}),
	}

	errs := filterMessagesByType(messages, domain.MessageTypeError)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	infos := filterMessagesByType(messages, domain.MessageTypeInfo)
	if len(infos) != 1 {
		t.Fatalf("expected 1 info, got %d", len(infos))
	}
}

func TestSummarizeMessagesCountsBlockingSeparately(t *testing.T) {
	builder := testMessageBuilder()
	messages := []domain.Message{
		builder.Error("a", "blocking", ErrorMessageOptions{}),
		builder.Error("b", "recoverable", ErrorMessageOptions{Severity: domain.SeverityRecoverable}),
		builder.Warning("c", "warn"),
		builder.Info("d", "info"),
	}

	summary := SummarizeMessages(messages)

	if summary.Errors != 2 || summary.Warnings != 1 || summary.Infos != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if summary.Blocking != 1 {
		t.Fatalf("blocking = %d, want 1", summary.Blocking)
	}

	if !hasBlockingErrors(messages) {
		t.Fatal("expected blocking errors to be detected")
	}
	if hasBlockingErrors(messages[1:]) {
		t.Fatal("recoverable error must not count as blocking")
	}
}

func TestMessageFieldPathTableCoversCheckoutCodes(t *testing.T) {
	codes := []string{
		MessageCodeLineItemsRequired,
		MessageCodeBuyerEmailRequired,
		MessageCodeShippingAddressRequired,
		MessageCodeInstrumentRequired,
		MessageCodeInstrumentNotResolvable,
		MessageCodeCurrencyNotRecognized,
		MessageCodeCheckoutExpiresSoon,
	}
	for _, code := range codes {
		if messageFieldPaths[code] == "" {
			t.Fatalf("code %q has no canonical field path", code)
		}
	}
}
