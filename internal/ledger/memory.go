package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wnt/lotkeeper/internal/models"
)

// MemoryRepository is an in-process Repository. Transactions snapshot the
// whole store and restore it when fn fails.
type MemoryRepository struct {
	mutex sync.Mutex
	state *memoryState
}

type memoryState struct {
	nextHoldingID uint
	nextLotID     uint
	holdings      map[uint]models.Holding
	lots          map[uint][]models.Lot
	runs          []models.ImportRun
	wallets       map[string]models.Wallet
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		holdings: make(map[uint]models.Holding),
		lots:     make(map[uint][]models.Lot),
		wallets:  make(map[string]models.Wallet),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		nextHoldingID: s.nextHoldingID,
		nextLotID:     s.nextLotID,
		holdings:      make(map[uint]models.Holding, len(s.holdings)),
		lots:          make(map[uint][]models.Lot, len(s.lots)),
		runs:          append([]models.ImportRun(nil), s.runs...),
		wallets:       make(map[string]models.Wallet, len(s.wallets)),
	}
	for id, h := range s.holdings {
		c.holdings[id] = h
	}
	for id, lots := range s.lots {
		c.lots[id] = append([]models.Lot(nil), lots...)
	}
	for addr, w := range s.wallets {
		c.wallets[addr] = w
	}
	return c
}

// ImportRuns returns the recorded import runs in insertion order
func (r *MemoryRepository) ImportRuns() []models.ImportRun {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]models.ImportRun(nil), r.state.runs...)
}

// Wallet returns the wallet record of address, if any import was recorded for it
func (r *MemoryRepository) Wallet(address string) (models.Wallet, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	w, ok := r.state.wallets[address]
	return w, ok
}

func (r *MemoryRepository) EnsureHolding(ctx context.Context, wallet string, asset HoldingAsset) (*models.Holding, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).EnsureHolding(ctx, wallet, asset)
}

func (r *MemoryRepository) GetHolding(ctx context.Context, holdingID uint) (*models.Holding, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).GetHolding(ctx, holdingID)
}

func (r *MemoryRepository) ListHoldings(ctx context.Context, wallet string) ([]models.Holding, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).ListHoldings(ctx, wallet)
}

func (r *MemoryRepository) CreateLots(ctx context.Context, batch []models.Lot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).CreateLots(ctx, batch)
}

func (r *MemoryRepository) ListLotsForHolding(ctx context.Context, holdingID uint) ([]models.Lot, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).ListLotsForHolding(ctx, holdingID)
}

func (r *MemoryRepository) UpdateCostBasis(ctx context.Context, holdingID uint, perUnit models.CostBasis, currency string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).UpdateCostBasis(ctx, holdingID, perUnit, currency)
}

func (r *MemoryRepository) DeleteHolding(ctx context.Context, holdingID uint) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).DeleteHolding(ctx, holdingID)
}

func (r *MemoryRepository) RecordImportRun(ctx context.Context, run *models.ImportRun) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return (&memoryTx{state: r.state}).RecordImportRun(ctx, run)
}

// Transaction holds the store lock for the duration of fn
func (r *MemoryRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	snapshot := r.state.clone()
	if err := fn(&memoryTx{state: r.state}); err != nil {
		r.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

// memoryTx operates on the state with the lock already held
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) EnsureHolding(ctx context.Context, wallet string, asset HoldingAsset) (*models.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, h := range t.state.holdings {
		if h.WalletAddress == wallet && h.AssetID == asset.AssetID {
			holding := h
			return &holding, nil
		}
	}

	t.state.nextHoldingID++
	now := time.Now().UTC()
	holding := models.Holding{
		ID:                t.state.nextHoldingID,
		WalletAddress:     wallet,
		AssetID:           asset.AssetID,
		ContractAddress:   asset.ContractAddress,
		Symbol:            asset.Symbol,
		Decimals:          asset.Decimals,
		CostBasisPerUnit:  models.Unknown(),
		CostBasisCurrency: "USD",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	t.state.holdings[holding.ID] = holding
	return &holding, nil
}

func (t *memoryTx) GetHolding(ctx context.Context, holdingID uint) (*models.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := t.state.holdings[holdingID]
	if !ok {
		return nil, ErrHoldingNotFound
	}
	return &h, nil
}

func (t *memoryTx) ListHoldings(ctx context.Context, wallet string) ([]models.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var holdings []models.Holding
	for _, h := range t.state.holdings {
		if h.WalletAddress == wallet {
			holdings = append(holdings, h)
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].ID < holdings[j].ID })
	return holdings, nil
}

func (t *memoryTx) CreateLots(ctx context.Context, batch []models.Lot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	type key struct {
		holdingID uint
		txHash    string
	}
	seen := make(map[key]bool)
	for _, lots := range t.state.lots {
		for _, l := range lots {
			seen[key{l.HoldingID, l.TxHash}] = true
		}
	}
	for i := range batch {
		if _, ok := t.state.holdings[batch[i].HoldingID]; !ok {
			return ErrHoldingNotFound
		}
		if batch[i].TxHash == "" {
			continue
		}
		k := key{batch[i].HoldingID, batch[i].TxHash}
		if seen[k] {
			return ErrDuplicateLot
		}
		seen[k] = true
	}

	now := time.Now().UTC()
	for i := range batch {
		t.state.nextLotID++
		batch[i].ID = t.state.nextLotID
		batch[i].CreatedAt = now
		t.state.lots[batch[i].HoldingID] = append(t.state.lots[batch[i].HoldingID], batch[i])
	}
	return nil
}

func (t *memoryTx) ListLotsForHolding(ctx context.Context, holdingID uint) ([]models.Lot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lots := append([]models.Lot(nil), t.state.lots[holdingID]...)
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].Before(lots[j]) })
	return lots, nil
}

func (t *memoryTx) UpdateCostBasis(ctx context.Context, holdingID uint, perUnit models.CostBasis, currency string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, ok := t.state.holdings[holdingID]
	if !ok {
		return ErrHoldingNotFound
	}
	h.CostBasisPerUnit = perUnit
	h.CostBasisCurrency = currency
	h.UpdatedAt = time.Now().UTC()
	t.state.holdings[holdingID] = h
	return nil
}

func (t *memoryTx) DeleteHolding(ctx context.Context, holdingID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.state.holdings[holdingID]; !ok {
		return ErrHoldingNotFound
	}
	delete(t.state.holdings, holdingID)
	delete(t.state.lots, holdingID)
	return nil
}

func (t *memoryTx) RecordImportRun(ctx context.Context, run *models.ImportRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.state.runs = append(t.state.runs, *run)

	w := t.state.wallets[run.WalletAddress]
	w.Address = run.WalletAddress
	w.LastImportedAt = run.FinishedAt
	w.LastRunID = run.ID
	w.ImportCount++
	t.state.wallets[run.WalletAddress] = w
	return nil
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}
