package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/google/uuid"
)

// PaddleConfig holds credentials for both provider environments. A mode with
// an empty API key is simply not served; at least one mode is required.
type PaddleConfig struct {
	LiveAPIKey        string        `env:"PADDLE_LIVE_API_KEY"`
	LiveWebhookSecret string        `env:"PADDLE_LIVE_WEBHOOK_SECRET"`
	LiveAddOnPriceID  string        `env:"PADDLE_LIVE_ADDON_PRICE_ID"`
	TestAPIKey        string        `env:"PADDLE_TEST_API_KEY"`
	TestWebhookSecret string        `env:"PADDLE_TEST_WEBHOOK_SECRET"`
	TestAddOnPriceID  string        `env:"PADDLE_TEST_ADDON_PRICE_ID"`
	CallTimeout       time.Duration `env:"PADDLE_CALL_TIMEOUT" envDefault:"10s"`
}

type paddleEnv struct {
	client       *paddle.SDK
	verifier     *paddle.WebhookVerifier
	addOnPriceID string
}

// PaddleProvider implements BillingProvider against Paddle Billing, holding
// one SDK client per mode: ModeLive talks to production, ModeTest to the
// sandbox. Every call runs under the configured timeout.
type PaddleProvider struct {
	envs    map[Mode]*paddleEnv
	timeout time.Duration
}

// NewPaddleProvider builds clients for every configured mode.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.LiveAPIKey == "" && cfg.TestAPIKey == "" {
		return nil, errors.Join(ErrValidation, errors.New("billing: no paddle API key configured for any mode"))
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &PaddleProvider{envs: make(map[Mode]*paddleEnv), timeout: timeout}

	if cfg.LiveAPIKey != "" {
		client, err := paddle.New(cfg.LiveAPIKey)
		if err != nil {
			return nil, fmt.Errorf("billing: create live paddle client: %w", err)
		}
		env := &paddleEnv{client: client, addOnPriceID: cfg.LiveAddOnPriceID}
		if cfg.LiveWebhookSecret != "" {
			env.verifier = paddle.NewWebhookVerifier(cfg.LiveWebhookSecret)
		}
		p.envs[ModeLive] = env
	}

	if cfg.TestAPIKey != "" {
		client, err := paddle.NewSandbox(cfg.TestAPIKey)
		if err != nil {
			return nil, fmt.Errorf("billing: create sandbox paddle client: %w", err)
		}
		env := &paddleEnv{client: client, addOnPriceID: cfg.TestAddOnPriceID}
		if cfg.TestWebhookSecret != "" {
			env.verifier = paddle.NewWebhookVerifier(cfg.TestWebhookSecret)
		}
		p.envs[ModeTest] = env
	}

	return p, nil
}

func (p *PaddleProvider) env(mode Mode) (*paddleEnv, error) {
	env, ok := p.envs[mode]
	if !ok {
		return nil, errors.Join(ErrValidation, fmt.Errorf("billing: paddle mode %q not configured", mode))
	}
	return env, nil
}

func (p *PaddleProvider) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// classifyPaddleErr maps SDK failures onto the engine's two provider error
// classes. Request-level rejections (bad IDs, missing entities) are
// permanent for the request; everything else, including timeouts, is
// transient and must not mutate local state.
func classifyPaddleErr(err error) error {
	if err == nil {
		return nil
	}

	var pErr *paddleerr.Error
	if errors.As(err, &pErr) {
		if pErr.Type == paddleerr.ErrorTypeRequestError {
			return errors.Join(ErrProviderRejected, err)
		}
		return errors.Join(ErrProviderUnavailable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrProviderUnavailable, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}

// CreateCustomer registers the tenant as a Paddle customer, threading the
// tenant ID through custom data so webhooks can be routed back.
func (p *PaddleProvider) CreateCustomer(ctx context.Context, mode Mode, tenantID uuid.UUID, email string) (string, error) {
	env, err := p.env(mode)
	if err != nil {
		return "", err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	customer, err := env.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: email,
		CustomData: paddle.CustomData{
			"tenant_id": tenantID.String(),
		},
	})
	if err != nil {
		return "", classifyPaddleErr(err)
	}
	return customer.ID, nil
}

// RetrieveCustomer confirms a stored customer reference still exists.
func (p *PaddleProvider) RetrieveCustomer(ctx context.Context, mode Mode, customerID string) (*CustomerRecord, error) {
	env, err := p.env(mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	customer, err := env.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	return &CustomerRecord{
		CustomerID: customer.ID,
		Email:      customer.Email,
		Deleted:    customer.Status == "archived",
	}, nil
}

// CreateCheckoutSession opens a hosted Paddle transaction for the price.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, mode Mode, req CheckoutRequest) (*CheckoutSession, error) {
	env, err := p.env(mode)
	if err != nil {
		return nil, err
	}
	if req.PriceID == "" {
		return nil, errors.Join(ErrValidation, errors.New("billing: price ID is required"))
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"tenant_id": req.TenantID.String(),
		},
	}
	if req.CustomerID != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := env.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	var checkoutURL string
	if transaction.Checkout != nil && transaction.Checkout.URL != nil {
		checkoutURL = *transaction.Checkout.URL
	}
	if checkoutURL == "" {
		return nil, errors.Join(ErrProviderRejected, errors.New("billing: no checkout URL returned from paddle"))
	}

	return &CheckoutSession{
		SessionID: transaction.ID,
		URL:       checkoutURL,
		ExpiresAt: time.Now().Add(24 * time.Hour), // Paddle checkout links expire in 24 hours
	}, nil
}

// RetrieveCheckoutSession fetches a transaction's current state.
func (p *PaddleProvider) RetrieveCheckoutSession(ctx context.Context, mode Mode, sessionID string) (*CheckoutSession, error) {
	env, err := p.env(mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	transaction, err := env.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: sessionID,
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	session := &CheckoutSession{
		SessionID: transaction.ID,
		Completed: transaction.Status == "completed",
	}
	if transaction.SubscriptionID != nil {
		session.SubscriptionID = *transaction.SubscriptionID
	}
	if transaction.Checkout != nil && transaction.Checkout.URL != nil {
		session.URL = *transaction.Checkout.URL
	}
	return session, nil
}

// RetrieveSubscription fetches and normalizes the provider's current view.
func (p *PaddleProvider) RetrieveSubscription(ctx context.Context, mode Mode, subID string) (*SubscriptionSnapshot, error) {
	env, err := p.env(mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	sub, err := env.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subID,
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	snap := &SubscriptionSnapshot{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Status:         string(sub.Status),
		OccurredAt:     time.Now().UTC(), // a direct fetch is current by definition
		Mode:           mode,
	}
	if sub.CurrentBillingPeriod != nil {
		snap.PeriodStart = parsePaddleTime(sub.CurrentBillingPeriod.StartsAt)
	}

	for _, item := range sub.Items {
		if item.Price.ID == "" {
			continue
		}
		if item.Price.ID == env.addOnPriceID && env.addOnPriceID != "" {
			snap.AddOnQuantity = item.Quantity
			continue
		}
		if snap.PriceID == "" {
			snap.PriceID = item.Price.ID
		}
	}

	return snap, nil
}

// UpdateItemQuantity sets the add-on item quantity. Paddle replaces the full
// item list on update, so the current items are rebuilt around the change.
// Quantity zero removes the item.
func (p *PaddleProvider) UpdateItemQuantity(ctx context.Context, mode Mode, subID, priceID string, quantity int) error {
	env, err := p.env(mode)
	if err != nil {
		return err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	current, err := env.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subID,
	})
	if err != nil {
		return classifyPaddleErr(err)
	}

	var items []paddle.UpdateSubscriptionItems
	found := false
	for _, item := range current.Items {
		if item.Price.ID == "" {
			continue
		}
		q := item.Quantity
		if item.Price.ID == priceID {
			found = true
			if quantity == 0 {
				continue
			}
			q = quantity
		}
		items = append(items, *paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
			PriceID:  item.Price.ID,
			Quantity: q,
		}))
	}
	if !found && quantity > 0 {
		items = append(items, *paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
			PriceID:  priceID,
			Quantity: quantity,
		}))
	}

	_, err = env.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       subID,
		Items:                paddle.NewPatchField(items),
		ProrationBillingMode: paddle.NewPatchField(paddle.ProrationBillingModeProratedImmediately),
	})
	return classifyPaddleErr(err)
}

// ScheduleItemPriceChange swaps the base item's price, billed in full at the
// next period boundary with no proration, and returns the effective date.
func (p *PaddleProvider) ScheduleItemPriceChange(ctx context.Context, mode Mode, subID, priceID string) (time.Time, error) {
	env, err := p.env(mode)
	if err != nil {
		return time.Time{}, err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	current, err := env.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subID,
	})
	if err != nil {
		return time.Time{}, classifyPaddleErr(err)
	}

	var items []paddle.UpdateSubscriptionItems
	for _, item := range current.Items {
		if item.Price.ID == "" {
			continue
		}
		id := item.Price.ID
		if env.addOnPriceID == "" || id != env.addOnPriceID {
			// The base plan item takes the new price; add-on items ride along.
			id = priceID
		}
		items = append(items, *paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
			PriceID:  id,
			Quantity: item.Quantity,
		}))
	}

	updated, err := env.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       subID,
		Items:                paddle.NewPatchField(items),
		ProrationBillingMode: paddle.NewPatchField(paddle.ProrationBillingModeFullNextBillingPeriod),
	})
	if err != nil {
		return time.Time{}, classifyPaddleErr(err)
	}

	if updated.NextBilledAt != nil {
		if at := parsePaddleTime(*updated.NextBilledAt); at != nil {
			return *at, nil
		}
	}
	if updated.CurrentBillingPeriod != nil {
		if at := parsePaddleTime(updated.CurrentBillingPeriod.EndsAt); at != nil {
			return *at, nil
		}
	}
	return time.Time{}, nil
}

// ListPrices pulls the provider's price records for catalog sync.
func (p *PaddleProvider) ListPrices(ctx context.Context, mode Mode) ([]PriceRecord, error) {
	env, err := p.env(mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	res, err := env.client.PricesClient.ListPrices(ctx, &paddle.ListPricesRequest{})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	var records []PriceRecord
	err = res.Iter(ctx, func(price *paddle.Price) (bool, error) {
		amount, err := strconv.ParseInt(price.UnitPrice.Amount, 10, 64)
		if err != nil {
			return true, nil // malformed amount, skip the record
		}
		rec := PriceRecord{
			PriceID:  price.ID,
			Amount:   amount,
			Currency: string(price.UnitPrice.CurrencyCode),
		}
		if price.Name != nil {
			rec.ProductName = *price.Name
		}
		records = append(records, rec)
		return true, nil
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}
	return records, nil
}

// ParseWebhook verifies the signature and normalizes the payload. With
// ModeUnknown the live secret is tried first, then the sandbox one: Paddle
// does not label which environment an event came from, so trial-and-error
// across the configured secrets is a compatibility shim, not a weakening;
// each attempt is still a full HMAC verification.
func (p *PaddleProvider) ParseWebhook(payload []byte, signature string, mode Mode) (*ProviderEvent, error) {
	verifiedMode, ok := p.verifySignature(payload, signature, mode)
	if !ok {
		return nil, ErrWebhookSignature
	}

	var body struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Join(ErrValidation, fmt.Errorf("parse webhook payload: %w", err))
	}

	event := &ProviderEvent{
		EventID:   body.EventID,
		EventType: body.EventType,
		Mode:      verifiedMode,
	}
	if at := parsePaddleTime(body.OccurredAt); at != nil {
		event.OccurredAt = *at
	} else {
		event.OccurredAt = time.Now().UTC()
	}

	event.TenantID = tenantIDFromCustomData(body.Data)

	switch {
	case strings.HasPrefix(body.EventType, "subscription."):
		event.Snapshot = p.snapshotFromWebhook(body.Data, verifiedMode, event.OccurredAt)
		if event.Snapshot != nil {
			event.SubscriptionID = event.Snapshot.SubscriptionID
		}
	case strings.HasPrefix(body.EventType, "transaction."):
		// Invoice-level event: carry the subscription reference and let the
		// engine fetch the authoritative state.
		if subID, ok := body.Data["subscription_id"].(string); ok {
			event.SubscriptionID = subID
		}
	}

	return event, nil
}

func (p *PaddleProvider) verifySignature(payload []byte, signature string, mode Mode) (Mode, bool) {
	try := func(m Mode) bool {
		env, ok := p.envs[m]
		if !ok || env.verifier == nil {
			return false
		}
		req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
		if err != nil {
			return false
		}
		req.Header.Set("Paddle-Signature", signature)
		valid, err := env.verifier.Verify(req)
		return err == nil && valid
	}

	if mode != ModeUnknown {
		return mode, try(mode)
	}
	for _, m := range []Mode{ModeLive, ModeTest} {
		if try(m) {
			return m, true
		}
	}
	return ModeUnknown, false
}

// snapshotFromWebhook extracts a SubscriptionSnapshot from the raw webhook
// body of a subscription.* event.
func (p *PaddleProvider) snapshotFromWebhook(data map[string]any, mode Mode, occurredAt time.Time) *SubscriptionSnapshot {
	if data == nil {
		return nil
	}

	snap := &SubscriptionSnapshot{OccurredAt: occurredAt, Mode: mode}
	if id, ok := data["id"].(string); ok {
		snap.SubscriptionID = id
	}
	if customerID, ok := data["customer_id"].(string); ok {
		snap.CustomerID = customerID
	}
	if status, ok := data["status"].(string); ok {
		snap.Status = status
	}
	if period, ok := data["current_billing_period"].(map[string]any); ok {
		if starts, ok := period["starts_at"].(string); ok {
			snap.PeriodStart = parsePaddleTime(starts)
		}
	}

	addOnPriceID := ""
	if env, ok := p.envs[mode]; ok {
		addOnPriceID = env.addOnPriceID
	}
	if items, ok := data["items"].([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			price, ok := item["price"].(map[string]any)
			if !ok {
				continue
			}
			priceID, _ := price["id"].(string)
			if priceID == "" {
				continue
			}
			if addOnPriceID != "" && priceID == addOnPriceID {
				if q, ok := item["quantity"].(float64); ok {
					snap.AddOnQuantity = int(q)
				}
				continue
			}
			if snap.PriceID == "" {
				snap.PriceID = priceID
			}
		}
	}

	if snap.SubscriptionID == "" {
		return nil
	}
	return snap
}

func tenantIDFromCustomData(data map[string]any) uuid.UUID {
	custom, ok := data["custom_data"].(map[string]any)
	if !ok {
		return uuid.Nil
	}
	raw, ok := custom["tenant_id"].(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parsePaddleTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
