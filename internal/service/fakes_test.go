package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/ledger"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"github.com/shopspring/decimal"
)

type memStore struct {
	mu   sync.Mutex
	reqs map[string]models.PaymentRequest
	// failUpdates makes every guarded update fail with this error
	failUpdates error
}

func newMemStore() *memStore {
	return &memStore{reqs: make(map[string]models.PaymentRequest)}
}

func (s *memStore) Insert(_ context.Context, req *models.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := requestKey(req.MerchantID, req.ID)
	if _, ok := s.reqs[key]; ok {
		return repository.ErrPaymentRequestExists
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	s.reqs[key] = *req
	return nil
}

func (s *memStore) Get(_ context.Context, merchantID, id string) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[requestKey(merchantID, id)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &req, nil
}

func (s *memStore) Update(_ context.Context, merchantID, id string, patch models.PaymentRequestPatch, allowedFrom []domain.SettlementStatus) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates != nil && len(allowedFrom) > 0 {
		return nil, s.failUpdates
	}
	key := requestKey(merchantID, id)
	req, ok := s.reqs[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if len(allowedFrom) > 0 && !slices.Contains(allowedFrom, req.SettlementStatus) {
		return &req, repository.ErrStatusConflict
	}
	updated := patch.Apply(req)
	updated.UpdatedAt = time.Now()
	s.reqs[key] = updated
	return &updated, nil
}

func (s *memStore) filter(keep func(models.PaymentRequest) bool) []models.PaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRequest
	for _, r := range s.reqs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) FindByWalletAddress(_ context.Context, address string) ([]models.PaymentRequest, error) {
	return s.filter(func(r models.PaymentRequest) bool { return r.WalletAddress == address }), nil
}

func (s *memStore) FindByTransferHash(_ context.Context, hash string) ([]models.PaymentRequest, error) {
	return s.filter(func(r models.PaymentRequest) bool { return r.MarketTransferTransactionHash == hash }), nil
}

func (s *memStore) FindByPeriod(_ context.Context, from, to time.Time) ([]models.PaymentRequest, error) {
	return s.filter(func(r models.PaymentRequest) bool {
		return !r.CreatedAt.Before(from) && r.CreatedAt.Before(to)
	}), nil
}

func (s *memStore) FindStale(_ context.Context, statuses []domain.SettlementStatus, updatedBefore time.Time, limit int) ([]models.PaymentRequest, error) {
	out := s.filter(func(r models.PaymentRequest) bool {
		return slices.Contains(statuses, r.SettlementStatus) && r.UpdatedAt.Before(updatedBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) mustGet(merchantID, id string) models.PaymentRequest {
	req, err := s.Get(context.Background(), merchantID, id)
	if err != nil {
		panic(err)
	}
	return *req
}

// age moves every request's UpdatedAt into the past.
func (s *memStore) age(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.reqs {
		r.UpdatedAt = r.UpdatedAt.Add(-d)
		s.reqs[k] = r
	}
}

type memWork struct {
	mu    sync.Mutex
	items map[string]models.ExchangeWorkItem
}

func newMemWork() *memWork {
	return &memWork{items: make(map[string]models.ExchangeWorkItem)}
}

func workKey(pair, id string) string { return pair + "|" + id }

func (w *memWork) Add(_ context.Context, item models.ExchangeWorkItem) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := workKey(item.AssetPairID, item.PaymentRequestID)
	if _, ok := w.items[key]; ok {
		return false, nil
	}
	item.CreatedAt = time.Now()
	w.items[key] = item
	return true, nil
}

func (w *memWork) NextEligible(_ context.Context, before time.Time) (models.ExchangeWorkItem, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var (
		best  models.ExchangeWorkItem
		found bool
	)
	for _, it := range w.items {
		if it.LastAttempt.After(before) {
			continue
		}
		if !found || it.LastAttempt.Before(best.LastAttempt) ||
			(it.LastAttempt.Equal(best.LastAttempt) && it.PaymentRequestID < best.PaymentRequestID) {
			best, found = it, true
		}
	}
	return best, found, nil
}

func (w *memWork) Touch(_ context.Context, pair, id string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := workKey(pair, id)
	it, ok := w.items[key]
	if !ok {
		return repository.ErrNotFound
	}
	it.LastAttempt = at
	w.items[key] = it
	return nil
}

func (w *memWork) RecordFill(_ context.Context, pair, id, orderID string, price decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := workKey(pair, id)
	it, ok := w.items[key]
	if !ok {
		return repository.ErrNotFound
	}
	it.FilledOrderID, it.FilledPrice = orderID, price
	w.items[key] = it
	return nil
}

func (w *memWork) Delete(_ context.Context, pair, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items, workKey(pair, id))
	return nil
}

func (w *memWork) Exists(_ context.Context, merchantID, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, it := range w.items {
		if it.MerchantID == merchantID && it.PaymentRequestID == id {
			return true, nil
		}
	}
	return false, nil
}

func (w *memWork) Count(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.items)), nil
}

func (w *memWork) get(pair, id string) (models.ExchangeWorkItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[workKey(pair, id)]
	return it, ok
}

// recordingBus captures published events and sent commands.
type recordingBus struct {
	mu       sync.Mutex
	events   []messaging.Event
	commands []messaging.Command
}

func (b *recordingBus) Publish(_ context.Context, evt messaging.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *recordingBus) Send(_ context.Context, cmd messaging.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	return nil
}

func (b *recordingBus) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

func (b *recordingBus) count(eventType string) int {
	n := 0
	for _, t := range b.eventTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}

type recordingProjection struct {
	mu        sync.Mutex
	snapshots []models.PaymentRequest
}

func (p *recordingProjection) Write(_ context.Context, req models.PaymentRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, req)
	return nil
}

type stubChain struct {
	hash  string
	fee   decimal.Decimal
	err   error
	calls [][]gateway.TransferSource
	txs   map[string]*gateway.Transaction
}

func (c *stubChain) MultiTransfer(_ context.Context, sources []gateway.TransferSource, destination string) (string, error) {
	c.calls = append(c.calls, sources)
	if c.err != nil {
		return "", c.err
	}
	if c.txs == nil {
		c.txs = make(map[string]*gateway.Transaction)
	}
	c.txs[c.hash] = &gateway.Transaction{Hash: c.hash, Destination: destination, Fee: c.fee, Sources: sources}
	return c.hash, nil
}

func (c *stubChain) GetTransaction(_ context.Context, hash string) (*gateway.Transaction, error) {
	tx, ok := c.txs[hash]
	if !ok {
		return nil, gateway.ErrTransactionNotFound
	}
	return tx, nil
}

func (c *stubChain) FindTransfer(_ context.Context, source, destination string) (*gateway.Transaction, error) {
	for _, tx := range c.txs {
		if _, ok := tx.SourceAmount(source); ok && tx.Destination == destination {
			return tx, nil
		}
	}
	return nil, gateway.ErrTransactionNotFound
}

type stubEngine struct {
	resp  *gateway.MarketOrderResponse
	err   error
	calls []gateway.MarketOrderRequest
}

func (e *stubEngine) PlaceMarketOrder(_ context.Context, req gateway.MarketOrderRequest) (*gateway.MarketOrderResponse, error) {
	e.calls = append(e.calls, req)
	return e.resp, e.err
}

type stubBalances struct {
	balances map[string]decimal.Decimal
	status   gateway.TransferStatus
	err      error
	calls    []gateway.InternalTransfer
}

func (b *stubBalances) GetBalances(context.Context, string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out, nil
}

func (b *stubBalances) Transfer(_ context.Context, req gateway.InternalTransfer) (gateway.TransferStatus, error) {
	b.calls = append(b.calls, req)
	if b.err != nil {
		return "", b.err
	}
	return b.status, nil
}

const (
	testMerchant     = "merchant-1"
	testClient       = "client-1"
	testMarketWallet = "market-wallet"
	testAccount      = "settlement-account"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() *gateway.StaticCatalog {
	return gateway.NewStaticCatalog(
		[]gateway.Asset{{ID: "USDT", Accuracy: 6}, {ID: "USD", Accuracy: 2}},
		[]gateway.AssetPair{{ID: "USDTUSD", BaseAssetID: "USDT", QuotingAssetID: "USD", Accuracy: 4}},
		[]gateway.Merchant{{ID: testMerchant, ClientID: testClient}},
	)
}

// harness wires every service over in-memory collaborators.
type harness struct {
	store      *memStore
	work       *memWork
	bus        *recordingBus
	projection *recordingProjection
	toMarket   *queue.MemoryQueue[models.TransferToMarketMessage]
	toMerchant *queue.MemoryQueue[models.TransferToMerchantMessage]
	chain      *stubChain
	engine     *stubEngine
	balances   *stubBalances
	ledger     *ledger.Ledger
	catalog    *gateway.StaticCatalog
	now        time.Time

	status          *StatusService
	settlement      *SettlementService
	toMarketCoord   *TransferToMarketCoordinator
	exchangeCoord   *ExchangeCoordinator
	toMerchantCoord *TransferToMerchantCoordinator
	reconciliation  *ReconciliationService
}

func newHarness() *harness {
	h := &harness{
		store:      newMemStore(),
		work:       newMemWork(),
		bus:        &recordingBus{},
		projection: &recordingProjection{},
		toMarket:   queue.NewMemoryQueue[models.TransferToMarketMessage](),
		toMerchant: queue.NewMemoryQueue[models.TransferToMerchantMessage](),
		chain:      &stubChain{hash: "0xH"},
		engine:     &stubEngine{resp: &gateway.MarketOrderResponse{Status: gateway.MarketOrderOk, Price: dec("0.99"), OrderID: "order-1"}},
		balances:   &stubBalances{balances: map[string]decimal.Decimal{}, status: gateway.TransferOk},
		catalog:    testCatalog(),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.ledger = ledger.New(testAccount, h.balances)
	h.status = NewStatusService(h.store, h.work, h.catalog, h.bus, h.projection, h.toMarket, h.toMerchant)
	h.settlement = NewSettlementService(h.status, h.store, h.catalog, h.catalog, h.chain, h.bus, SettlementRules{
		PaymentAssets:    []string{"USDT", "USD"},
		SettlementAssets: []string{"USD"},
		MinAmounts:       map[string]decimal.Decimal{"USDT": dec("1")},
	})
	h.toMarketCoord = NewTransferToMarketCoordinator(h.toMarket, h.store, h.status, h.chain, testMarketWallet)
	h.exchangeCoord = NewExchangeCoordinator(h.work, h.store, h.status, h.engine, h.ledger)
	h.exchangeCoord.now = func() time.Time { return h.now }
	h.toMerchantCoord = NewTransferToMerchantCoordinator(h.toMerchant, h.store, h.status, h.balances, h.catalog, h.ledger)
	h.reconciliation = NewReconciliationService(h.store, h.work, h.status, h.toMarket, h.toMerchant, h.chain, h.bus)
	return h
}

func createCommand(id, wallet string, paid string) messaging.CreateSettlement {
	return messaging.CreateSettlement{
		MerchantID:        testMerchant,
		PaymentRequestID:  id,
		OrderID:           "order-" + id,
		Amount:            dec(paid),
		SettlementAssetID: "USD",
		PaymentAssetID:    "USDT",
		DueDate:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		WalletAddress:     wallet,
		PaidAmount:        dec(paid),
		PaidDate:          time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

// seed creates a request directly in the given status.
func (h *harness) seed(id string, status domain.SettlementStatus, mutate func(*models.PaymentRequest)) models.PaymentRequest {
	req := models.PaymentRequest{
		MerchantID:        testMerchant,
		ID:                id,
		PaidAmount:        dec("100"),
		Amount:            dec("100"),
		PaymentAssetID:    "USDT",
		SettlementAssetID: "USD",
		WalletAddress:     "wallet-" + id,
		MerchantClientID:  testClient,
		SettlementStatus:  status,
		Error:             domain.ErrorNone,
	}
	if mutate != nil {
		mutate(&req)
	}
	if err := h.store.Insert(context.Background(), &req); err != nil {
		panic(err)
	}
	return req
}

var errBoom = errors.New("boom")
