package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

const (
	checkoutEventCreated   = "checkout.created"
	checkoutEventUpdated   = "checkout.updated"
	checkoutEventCompleted = "checkout.completed"
	checkoutEventCanceled  = "checkout.canceled"
	checkoutEventExpired   = "checkout.expired"

	checkoutIDPrefix = "chk_"

	defaultCheckoutTTL = 24 * time.Hour
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotFound indicates the session is absent for the tenant.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrCheckoutCannotModify indicates the session status forbids mutation.
	ErrCheckoutCannotModify = errors.New("checkout: cannot modify")
	// ErrCheckoutCannotComplete indicates the session is not ready for completion.
	ErrCheckoutCannotComplete = errors.New("checkout: cannot complete")
	// ErrCheckoutCannotCancel indicates the session status forbids cancellation.
	ErrCheckoutCannotCancel = errors.New("checkout: cannot cancel")
	// ErrCheckoutInstrumentNotFound indicates the referenced instrument id is not attached.
	ErrCheckoutInstrumentNotFound = errors.New("checkout: payment instrument not found")
	// ErrCheckoutInvalidState indicates an invalid status transition was attempted.
	ErrCheckoutInvalidState = errors.New("checkout: invalid status transition")
	// ErrCheckoutConflict indicates optimistic concurrency conflicts or duplicates.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Checkouts   repositories.CheckoutRepository
	Orders      OrderService
	Instruments InstrumentResolver
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Pricing     TotalsOptions
	DefaultTTL  time.Duration
}

type checkoutService struct {
	checkouts   repositories.CheckoutRepository
	orders      OrderService
	instruments InstrumentResolver
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	events      EventPublisher
	logger      func(context.Context, string, map[string]any)
	pricing     TotalsOptions
	defaultTTL  time.Duration
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Checkouts == nil {
		return nil, errors.New("checkout service: checkout repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ttl := deps.DefaultTTL
	if ttl <= 0 {
		ttl = defaultCheckoutTTL
	}

	return &checkoutService{
		checkouts:   deps.Checkouts,
		orders:      deps.Orders,
		instruments: deps.Instruments,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		events:     deps.Events,
		logger:     logger,
		pricing:    deps.Pricing,
		defaultTTL: ttl,
	}, nil
}

func (s *checkoutService) Create(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: tenant id is required", ErrCheckoutInvalidInput)
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if code == "" {
		return CheckoutSession{}, fmt.Errorf("%w: currency is required", ErrCheckoutInvalidInput)
	}

	now := s.now()
	ttl := cmd.ExpiresIn
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	session := CheckoutSession{
		ID:                 checkoutIDPrefix + s.newID(),
		TenantID:           tenantID,
		Currency:           code,
		LineItems:          normalizeLineItems(cmd.LineItems, code),
		Buyer:              cloneBuyer(cmd.Buyer),
		PaymentInstruments: []PaymentInstrument{},
		Messages:           []Message{},
		Status:             domain.CheckoutStatusIncomplete,
		ContinueURL:        strings.TrimSpace(cmd.ContinueURL),
		CancelURL:          strings.TrimSpace(cmd.CancelURL),
		ExpiresAt:          now.Add(ttl),
		Metadata:           cloneMap(cmd.Metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := currency.ParseISO(code); err != nil {
		session.Messages = appendMessage(session.Messages, s.messages().Warning(
			MessageCodeCurrencyNotRecognized,
			fmt.Sprintf("currency %q is not a recognized ISO 4217 code", code),
		))
	}

	session.Totals = CalculateTotals(session.LineItems, code, s.pricing)
	session.Status = computeCheckoutStatus(session)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.checkouts.Insert(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.publish(ctx, checkoutEventCreated, session, nil)

	return session, nil
}

func (s *checkoutService) Get(ctx context.Context, tenantID, checkoutID string) (CheckoutSession, error) {
	tenantID = strings.TrimSpace(tenantID)
	checkoutID = strings.TrimSpace(checkoutID)
	if tenantID == "" || checkoutID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: tenant id and checkout id are required", ErrCheckoutInvalidInput)
	}

	session, err := s.checkouts.FindByID(ctx, tenantID, checkoutID)
	if err != nil {
		return CheckoutSession{}, s.mapRepositoryError(err)
	}
	return session, nil
}

func (s *checkoutService) List(ctx context.Context, filter CheckoutListFilter) (domain.Page[CheckoutSession], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.Page[CheckoutSession]{}, fmt.Errorf("%w: tenant id is required", ErrCheckoutInvalidInput)
	}
	page, err := s.checkouts.List(ctx, filter)
	if err != nil {
		return domain.Page[CheckoutSession]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *checkoutService) Update(ctx context.Context, cmd UpdateCheckoutCommand) (CheckoutSession, error) {
	var updated CheckoutSession
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		session, err := s.load(txCtx, cmd.TenantID, cmd.CheckoutID)
		if err != nil {
			return err
		}
		if !canModifyCheckout(session.Status) {
			return fmt.Errorf("%w: status is %q", ErrCheckoutCannotModify, session.Status)
		}

		if cmd.LineItems != nil {
			session.LineItems = normalizeLineItems(*cmd.LineItems, session.Currency)
			session.Totals = CalculateTotals(session.LineItems, session.Currency, s.pricing)
		}
		if cmd.Buyer != nil {
			session.Buyer = cloneBuyer(cmd.Buyer)
		}
		if cmd.ShippingAddress != nil {
			session.ShippingAddress = cloneAddress(cmd.ShippingAddress)
		}
		if cmd.ContinueURL != nil {
			session.ContinueURL = strings.TrimSpace(*cmd.ContinueURL)
		}
		if cmd.CancelURL != nil {
			session.CancelURL = strings.TrimSpace(*cmd.CancelURL)
		}
		if len(cmd.Metadata) > 0 {
			session.Metadata = cloneAndMergeMetadata(session.Metadata, cmd.Metadata)
		}

		session.Status = computeCheckoutStatus(session)
		session.UpdatedAt = s.now()

		if err := s.checkouts.Update(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.publish(ctx, checkoutEventUpdated, updated, nil)

	return updated, nil
}

func (s *checkoutService) AddPaymentInstrument(ctx context.Context, cmd AddInstrumentCommand) (CheckoutSession, error) {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return CheckoutSession{}, fmt.Errorf("%w: instrument token is required", ErrCheckoutInvalidInput)
	}

	var updated CheckoutSession
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		session, err := s.load(txCtx, cmd.TenantID, cmd.CheckoutID)
		if err != nil {
			return err
		}
		if !canModifyCheckout(session.Status) {
			return fmt.Errorf("%w: status is %q", ErrCheckoutCannotModify, session.Status)
		}

		instrument, err := s.resolveInstrument(txCtx, token)
		if err != nil {
			session.Messages = removeMessagesByCode(session.Messages, MessageCodeInstrumentNotResolvable)
			session.Messages = appendMessage(session.Messages, s.messages().Error(
				MessageCodeInstrumentNotResolvable,
				fmt.Sprintf("payment instrument %q could not be verified with its handler", token),
				ErrorMessageOptions{},
			))
			session.Status = computeCheckoutStatus(session)
			session.UpdatedAt = s.now()
			if updErr := s.checkouts.Update(txCtx, session); updErr != nil {
				return s.mapRepositoryError(updErr)
			}
			updated = session
			return nil
		}

		session.Messages = removeMessagesByCode(session.Messages, MessageCodeInstrumentNotResolvable)
		session.PaymentInstruments = append(session.PaymentInstruments, instrument)
		if session.SelectedInstrumentID == "" {
			session.SelectedInstrumentID = instrument.ID
		}

		session.Status = computeCheckoutStatus(session)
		session.UpdatedAt = s.now()

		if err := s.checkouts.Update(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.publish(ctx, checkoutEventUpdated, updated, nil)

	return updated, nil
}

func (s *checkoutService) SelectPaymentInstrument(ctx context.Context, cmd SelectInstrumentCommand) (CheckoutSession, error) {
	instrumentID := strings.TrimSpace(cmd.InstrumentID)
	if instrumentID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: instrument id is required", ErrCheckoutInvalidInput)
	}

	var updated CheckoutSession
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		session, err := s.load(txCtx, cmd.TenantID, cmd.CheckoutID)
		if err != nil {
			return err
		}
		if !canModifyCheckout(session.Status) {
			return fmt.Errorf("%w: status is %q", ErrCheckoutCannotModify, session.Status)
		}

		found := false
		for _, instrument := range session.PaymentInstruments {
			if instrument.ID == instrumentID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrCheckoutInstrumentNotFound, instrumentID)
		}

		session.SelectedInstrumentID = instrumentID
		session.Status = computeCheckoutStatus(session)
		session.UpdatedAt = s.now()

		if err := s.checkouts.Update(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.publish(ctx, checkoutEventUpdated, updated, nil)

	return updated, nil
}

func (s *checkoutService) Complete(ctx context.Context, cmd CompleteCheckoutCommand) (CheckoutCompletion, error) {
	var completion CheckoutCompletion
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		session, err := s.load(txCtx, cmd.TenantID, cmd.CheckoutID)
		if err != nil {
			return err
		}
		if !canCompleteCheckout(session.Status) {
			return fmt.Errorf("%w: status is %q", ErrCheckoutCannotComplete, session.Status)
		}

		now := s.now()
		if err := s.transition(&session, domain.CheckoutStatusCompleteInProgress, now); err != nil {
			return err
		}

		capture := CaptureSummary{
			InstrumentID:  session.SelectedInstrumentID,
			TransactionID: strings.TrimSpace(cmd.TransactionID),
			CapturedAt:    &now,
		}
		for _, instrument := range session.PaymentInstruments {
			if instrument.ID == session.SelectedInstrumentID {
				capture.Handler = instrument.Handler
				break
			}
		}

		order, err := s.orders.CreateFromCheckout(txCtx, CreateOrderFromCheckoutCommand{
			TenantID: session.TenantID,
			Checkout: session,
			Capture:  capture,
		})
		if err != nil {
			return err
		}

		if err := s.transition(&session, domain.CheckoutStatusCompleted, now); err != nil {
			return err
		}
		session.OrderID = order.ID

		if err := s.checkouts.Update(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}

		completion = CheckoutCompletion{Checkout: session, Order: order}
		return nil
	})
	if err != nil {
		return CheckoutCompletion{}, err
	}

	s.publish(ctx, checkoutEventCompleted, completion.Checkout, map[string]any{
		"orderId": completion.Order.ID,
	})

	return completion, nil
}

func (s *checkoutService) Cancel(ctx context.Context, cmd CancelCheckoutCommand) (CheckoutSession, error) {
	var updated CheckoutSession
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		session, err := s.load(txCtx, cmd.TenantID, cmd.CheckoutID)
		if err != nil {
			return err
		}
		if !canCancelCheckout(session.Status) {
			return fmt.Errorf("%w: status is %q", ErrCheckoutCannotCancel, session.Status)
		}

		now := s.now()
		if err := s.transition(&session, domain.CheckoutStatusCanceled, now); err != nil {
			return err
		}
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			session.Metadata = ensureMap(session.Metadata)
			session.Metadata["cancelReason"] = reason
		}

		if err := s.checkouts.Update(txCtx, session); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.publish(ctx, checkoutEventCanceled, updated, nil)

	return updated, nil
}

// ExpireStale cancels open sessions whose expiry has passed. It returns the
// number of sessions transitioned.
func (s *checkoutService) ExpireStale(ctx context.Context, tenantID string, limit int) (int, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant id is required", ErrCheckoutInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	stale, err := s.checkouts.ListExpired(ctx, tenantID, limit)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	expired := 0
	for _, candidate := range stale {
		session := candidate
		err := s.runInTx(ctx, func(txCtx context.Context) error {
			current, err := s.load(txCtx, session.TenantID, session.ID)
			if err != nil {
				return err
			}
			if !canCancelCheckout(current.Status) {
				return nil
			}
			now := s.now()
			if err := s.transition(&current, domain.CheckoutStatusCanceled, now); err != nil {
				return err
			}
			current.Metadata = ensureMap(current.Metadata)
			current.Metadata["cancelReason"] = "expired"
			if err := s.checkouts.Update(txCtx, current); err != nil {
				return s.mapRepositoryError(err)
			}
			session = current
			return nil
		})
		if err != nil {
			s.logger(ctx, "checkout.expire.failed", map[string]any{
				"checkout": session.ID,
				"tenant":   session.TenantID,
				"error":    err.Error(),
			})
			continue
		}
		if session.Status == domain.CheckoutStatusCanceled {
			expired++
			s.publish(ctx, checkoutEventExpired, session, nil)
		}
	}

	return expired, nil
}

func (s *checkoutService) load(ctx context.Context, tenantID, checkoutID string) (CheckoutSession, error) {
	tenantID = strings.TrimSpace(tenantID)
	checkoutID = strings.TrimSpace(checkoutID)
	if tenantID == "" || checkoutID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: tenant id and checkout id are required", ErrCheckoutInvalidInput)
	}
	session, err := s.checkouts.FindByID(ctx, tenantID, checkoutID)
	if err != nil {
		return CheckoutSession{}, s.mapRepositoryError(err)
	}
	return session, nil
}

// transition applies a status move after checking it against the legality table.
func (s *checkoutService) transition(session *CheckoutSession, target domain.CheckoutStatus, now time.Time) error {
	allowed, reason := validateCheckoutTransition(session.Status, target)
	if !allowed {
		return fmt.Errorf("%w: %s", ErrCheckoutInvalidState, reason)
	}
	session.Status = target
	session.UpdatedAt = now
	return nil
}

func (s *checkoutService) resolveInstrument(ctx context.Context, token string) (PaymentInstrument, error) {
	if s.instruments == nil {
		// Without a resolver the token is trusted as-is.
		return PaymentInstrument{ID: token, Handler: "manual", Type: "unknown"}, nil
	}
	return s.instruments.Resolve(ctx, token)
}

func (s *checkoutService) messages() messageBuilder {
	return messageBuilder{clock: s.clock, newID: s.newID}
}

func (s *checkoutService) publish(ctx context.Context, eventType string, session CheckoutSession, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"checkoutId": session.ID,
		"status":     string(session.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.events.Publish(ctx, DomainEvent{
		ID:         "de_" + s.newID(),
		TenantID:   session.TenantID,
		Type:       eventType,
		EntityID:   session.ID,
		OccurredAt: s.now(),
		Payload:    payload,
	})
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCheckoutNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *checkoutService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}

func normalizeLineItems(items []LineItem, currency string) []LineItem {
	normalized := make([]LineItem, 0, len(items))
	for _, item := range items {
		line := item
		line.ID = strings.TrimSpace(line.ID)
		line.Name = strings.TrimSpace(line.Name)
		if line.Quantity < 1 {
			line.Quantity = 1
		}
		if line.Currency == "" {
			line.Currency = currency
		}
		line.TotalPrice = line.UnitPrice * int64(line.Quantity)
		normalized = append(normalized, line)
	}
	return normalized
}

func cloneBuyer(buyer *Buyer) *Buyer {
	if buyer == nil {
		return nil
	}
	cloned := *buyer
	cloned.Email = strings.TrimSpace(cloned.Email)
	return &cloned
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func cloneAndMergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	result := cloneMap(base)
	if len(extra) == 0 {
		return result
	}
	if result == nil {
		result = map[string]any{}
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
