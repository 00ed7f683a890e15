// Package importer runs one wallet import: it fetches the transfer feeds,
// prices and classifies every inbound leg, and appends the resulting lots to
// the ledger in a single transaction.
package importer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wnt/lotkeeper/internal/classify"
	"github.com/wnt/lotkeeper/internal/ledger"
	"github.com/wnt/lotkeeper/internal/logger"
	"github.com/wnt/lotkeeper/internal/metrics"
	"github.com/wnt/lotkeeper/internal/models"
	"github.com/wnt/lotkeeper/internal/normalize"
	"github.com/wnt/lotkeeper/internal/pricing"
	"github.com/wnt/lotkeeper/internal/provider"
)

// DefaultTimeout bounds a whole import run
const DefaultTimeout = 2 * time.Minute

// recordTimeout bounds writing the audit row once the run is over
const recordTimeout = 5 * time.Second

var (
	// ErrInvalidWallet is returned for an address that is not 0x followed by 40 hex digits
	ErrInvalidWallet = errors.New("invalid wallet address")
	// ErrImportInProgress is returned when another run holds the wallet's import lock
	ErrImportInProgress = errors.New("import already in progress for wallet")
	// ErrFeedsUnavailable is returned when neither transfer feed could be reached
	ErrFeedsUnavailable = errors.New("transfer feeds unavailable")
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// HoldingSummary describes one holding touched by an import
type HoldingSummary struct {
	HoldingID        uint
	AssetID          string
	Symbol           string
	LotsCreated      int
	TotalQty         decimal.Decimal
	CostBasisPerUnit models.CostBasis
	UnknownCostQty   decimal.Decimal
}

// Result reports what an import did
type Result struct {
	RunID         string
	Wallet        string
	Status        models.ImportStatus
	Groups        int
	Transfers     int
	Swaps         int
	LotsCreated   int
	LotsSkipped   int
	UnpricedCount int
	Holdings      []HoldingSummary
	Diagnostics   []string
	Mismatches    []normalize.TimestampMismatch
}

func (r *Result) note(format string, args ...interface{}) {
	r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
}

func (r *Result) degrade(format string, args ...interface{}) {
	r.Status = models.ImportDegraded
	r.note(format, args...)
}

// Options configures an Importer
type Options struct {
	Timeout time.Duration
	Native  normalize.Options
}

// Importer runs wallet imports. It is safe for concurrent use; runs for the
// same wallet are serialized through the Locker.
type Importer struct {
	transfers  provider.TransferSource
	directory  *pricing.Directory
	prices     *pricing.Resolver
	repo       ledger.Repository
	locker     Locker
	normalizer *normalize.Normalizer
	timeout    time.Duration
	logger     zerolog.Logger
}

// New creates an importer. A nil locker falls back to an in-process one.
func New(
	transfers provider.TransferSource,
	directory *pricing.Directory,
	prices *pricing.Resolver,
	repo ledger.Repository,
	locker Locker,
	opts Options,
	baseLogger zerolog.Logger,
) *Importer {
	if locker == nil {
		locker = NewLocalLocker()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Importer{
		transfers:  transfers,
		directory:  directory,
		prices:     prices,
		repo:       repo,
		locker:     locker,
		normalizer: normalize.New(opts.Native),
		timeout:    timeout,
		logger:     baseLogger.With().Str("component", "importer").Logger(),
	}
}

// Run imports the full history of wallet.
//
// A feed that cannot be reached is treated as empty and the run is marked
// degraded; an explicit provider error aborts the run. When the run deadline
// passes, nothing is written and the run degrades to zero lots. Lots already
// recorded for a transaction are skipped, so re-importing a wallet only adds
// what is new.
func (im *Importer) Run(ctx context.Context, wallet string) (*Result, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if !walletPattern.MatchString(wallet) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWallet, wallet)
	}

	runID := uuid.NewString()
	log := logger.WithRun(logger.WithWallet(im.logger, wallet), runID)

	acquired, err := im.locker.AcquireImportLock(ctx, wallet, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire import lock: %w", err)
	}
	if !acquired {
		return nil, ErrImportInProgress
	}
	defer func() {
		if err := im.locker.ReleaseImportLock(context.WithoutCancel(ctx), wallet, runID); err != nil {
			log.Warn().Err(err).Msg("Failed to release import lock")
		}
	}()

	startTime := time.Now().UTC()
	log.Info().Dur("timeout", im.timeout).Msg("Starting wallet import")

	result := &Result{
		RunID:  runID,
		Wallet: wallet,
		Status: models.ImportSucceeded,
	}

	runCtx, cancel := context.WithTimeout(ctx, im.timeout)
	defer cancel()

	err = im.run(runCtx, log, result)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		result.LotsCreated = 0
		result.LotsSkipped = 0
		result.UnpricedCount = 0
		result.Holdings = nil
		result.degrade("import timed out after %s, no lots were written", im.timeout)
		err = nil
	}

	duration := time.Since(startTime)
	if err != nil {
		metrics.RecordImport(string(models.ImportFailed), duration.Seconds())
		im.recordRun(ctx, log, result, models.ImportFailed, startTime, err.Error())
		log.Error().Err(err).Dur("duration", duration).Msg("Wallet import failed")
		return nil, err
	}

	metrics.RecordImport(string(result.Status), duration.Seconds())
	im.recordRun(ctx, log, result, result.Status, startTime, strings.Join(result.Diagnostics, "; "))

	log.Info().
		Str("status", string(result.Status)).
		Int("groups", result.Groups).
		Int("lots_created", result.LotsCreated).
		Int("lots_skipped", result.LotsSkipped).
		Int("unpriced", result.UnpricedCount).
		Int("holdings", len(result.Holdings)).
		Dur("duration", duration).
		Msg("Wallet import completed")

	return result, nil
}

func (im *Importer) run(ctx context.Context, log zerolog.Logger, result *Result) error {
	tokens, natives, err := im.fetchFeeds(ctx, result)
	if err != nil {
		return err
	}

	normalized := im.normalizer.Normalize(result.Wallet, tokens, natives)
	result.Groups = len(normalized.Groups)
	result.Mismatches = normalized.Mismatches
	for _, m := range normalized.Mismatches {
		log.Warn().
			Str("tx_hash", m.Hash).
			Time("kept", m.Kept).
			Time("seen", m.Seen).
			Msg("Feeds disagree on transaction timestamp, keeping the earliest")
	}
	if normalized.DroppedRows > 0 {
		log.Debug().Int("rows", normalized.DroppedRows).Msg("Dropped rows not attributable to wallet")
	}

	aliases, err := im.resolveAliases(ctx, normalized.Groups, result)
	if err != nil {
		return err
	}

	table, err := im.prices.Resolve(ctx, priceRequests(normalized.Groups, aliases))
	if err != nil {
		return err
	}
	for _, asset := range table.Failed() {
		result.note("no usable prices for %s: %v", asset, table.Err(asset))
	}

	computed := classify.Classify(normalized.Groups, table.WithAliases(aliases))
	summary := classify.Summarize(computed)
	result.Transfers = summary.Transfers
	result.Swaps = summary.Swaps

	log.Debug().
		Int("lots", summary.Lots).
		Int("unpriced", summary.Unpriced).
		Int("transfers", summary.Transfers).
		Int("swaps", summary.Swaps).
		Msg("Classified transactions")

	return im.persist(ctx, log, result, computed)
}

// fetchFeeds lists both feeds concurrently. A NetworkError empties its feed
// and a truncated history keeps what was listed, both degrading the run;
// any other error cancels the other fetch and aborts.
func (im *Importer) fetchFeeds(ctx context.Context, result *Result) ([]models.TokenTransferRow, []models.NativeTransferRow, error) {
	var (
		tokens          []models.TokenTransferRow
		natives         []models.NativeTransferRow
		tokenErr        error
		nativeErr       error
		tokenTruncated  error
		nativeTruncated error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := im.transfers.ListTokenTransfers(gctx, result.Wallet)
		if errors.Is(err, provider.ErrHistoryTruncated) {
			tokenTruncated, err = err, nil
		}
		if provider.IsNetworkError(err) {
			tokenErr = err
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list token transfers: %w", err)
		}
		tokens = rows
		return nil
	})
	g.Go(func() error {
		rows, err := im.transfers.ListNativeTransfers(gctx, result.Wallet)
		if errors.Is(err, provider.ErrHistoryTruncated) {
			nativeTruncated, err = err, nil
		}
		if provider.IsNetworkError(err) {
			nativeErr = err
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list native transfers: %w", err)
		}
		natives = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if tokenErr != nil && nativeErr != nil {
		return nil, nil, fmt.Errorf("%w: %v; %v", ErrFeedsUnavailable, tokenErr, nativeErr)
	}
	if tokenErr != nil {
		result.degrade("token transfers unavailable: %v", tokenErr)
	}
	if nativeErr != nil {
		result.degrade("native transfers unavailable: %v", nativeErr)
	}
	if tokenTruncated != nil {
		result.degrade("token transfers incomplete: %v", tokenTruncated)
	}
	if nativeTruncated != nil {
		result.degrade("native transfers incomplete: %v", nativeTruncated)
	}
	return tokens, natives, nil
}

// resolveAliases maps every asset seen in groups to its price identifier.
// A directory failure leaves token assets unpriced.
func (im *Importer) resolveAliases(ctx context.Context, groups []models.TransactionGroup, result *Result) (map[string]string, error) {
	seen := make(map[string]bool)
	var assets []string
	for _, g := range groups {
		for _, leg := range g.Legs() {
			if !seen[leg.AssetID] {
				seen[leg.AssetID] = true
				assets = append(assets, leg.AssetID)
			}
		}
	}

	aliases, err := im.directory.Resolve(ctx, assets)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.note("asset directory unavailable, token legs left unpriced: %v", err)
	}
	return aliases, nil
}

func priceRequests(groups []models.TransactionGroup, aliases map[string]string) []pricing.Request {
	var requests []pricing.Request
	for _, g := range groups {
		for _, leg := range g.Legs() {
			if id, ok := aliases[leg.AssetID]; ok {
				requests = append(requests, pricing.Request{AssetID: id, Timestamp: g.Timestamp})
			}
		}
	}
	return requests
}

// assetLots is the computed lots of one asset, in acquisition order
type assetLots struct {
	asset ledger.HoldingAsset
	lots  []models.ComputedLot
}

func groupByAsset(computed []models.ComputedLot) []*assetLots {
	index := make(map[string]*assetLots)
	var ordered []*assetLots
	for _, c := range computed {
		group, ok := index[c.AssetID]
		if !ok {
			group = &assetLots{asset: ledger.HoldingAsset{
				AssetID:         c.AssetID,
				ContractAddress: c.ContractAddress,
				Symbol:          c.Symbol,
				Decimals:        c.Decimals,
			}}
			index[c.AssetID] = group
			ordered = append(ordered, group)
		}
		group.lots = append(group.lots, c)
	}
	return ordered
}

// persist writes every new lot and refreshes the cost basis of each holding
// it touched, all in one ledger transaction
func (im *Importer) persist(ctx context.Context, log zerolog.Logger, result *Result, computed []models.ComputedLot) error {
	groups := groupByAsset(computed)
	if len(groups) == 0 {
		return nil
	}

	var (
		holdings []HoldingSummary
		created  int
		skipped  int
		unpriced int
		bySource map[models.LotSource]int
	)

	err := im.repo.Transaction(ctx, func(tx ledger.Repository) error {
		holdings, created, skipped, unpriced = nil, 0, 0, 0
		bySource = make(map[models.LotSource]int)

		for _, group := range groups {
			holding, err := tx.EnsureHolding(ctx, result.Wallet, group.asset)
			if err != nil {
				return err
			}

			existing, err := tx.ListLotsForHolding(ctx, holding.ID)
			if err != nil {
				return err
			}
			recorded := make(map[string]bool, len(existing))
			for _, lot := range existing {
				recorded[lot.TxHash] = true
			}

			var batch []models.Lot
			for _, c := range group.lots {
				if recorded[c.TxHash] {
					skipped++
					continue
				}
				recorded[c.TxHash] = true
				batch = append(batch, models.Lot{
					HoldingID:         holding.ID,
					AssetID:           c.AssetID,
					TxHash:            c.TxHash,
					Timestamp:         c.Timestamp,
					QtyIn:             c.QtyIn,
					CostBasisUSDTotal: c.CostBasis,
					Source:            c.Source,
					ImportRunID:       result.RunID,
				})
				bySource[c.Source]++
				if !c.CostBasis.IsKnown() {
					unpriced++
				}
			}

			if err := tx.CreateLots(ctx, batch); err != nil {
				return fmt.Errorf("failed to create lots for %s: %w", group.asset.AssetID, err)
			}
			created += len(batch)

			agg, ok, err := ledger.AggregateHolding(ctx, tx, holding.ID)
			if err != nil {
				return fmt.Errorf("failed to aggregate holding %d: %w", holding.ID, err)
			}
			perUnit := models.Unknown()
			if ok {
				perUnit = agg.CostBasis()
			}

			holdings = append(holdings, HoldingSummary{
				HoldingID:        holding.ID,
				AssetID:          holding.AssetID,
				Symbol:           holding.Symbol,
				LotsCreated:      len(batch),
				TotalQty:         agg.TotalQty,
				CostBasisPerUnit: perUnit,
				UnknownCostQty:   agg.UnknownCostQty,
			})

			assetLog := logger.WithAsset(log, holding.AssetID)
			assetLog.Debug().
				Uint("holding_id", holding.ID).
				Int("lots_created", len(batch)).
				Str("cost_basis_per_unit", perUnit.String()).
				Msg("Updated holding")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write lots: %w", err)
	}

	result.Holdings = holdings
	result.LotsCreated = created
	result.LotsSkipped = skipped
	result.UnpricedCount = unpriced

	for source, count := range bySource {
		metrics.RecordLotsCreated(string(source), count)
	}
	metrics.RecordUnpricedLots(unpriced)
	return nil
}

// recordRun stores the audit row even when ctx is already done
func (im *Importer) recordRun(ctx context.Context, log zerolog.Logger, result *Result, status models.ImportStatus, startTime time.Time, diagnostic string) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	run := &models.ImportRun{
		ID:            result.RunID,
		WalletAddress: result.Wallet,
		StartedAt:     startTime,
		FinishedAt:    time.Now().UTC(),
		Status:        status,
		Groups:        result.Groups,
		LotsCreated:   result.LotsCreated,
		UnpricedCount: result.UnpricedCount,
		Diagnostic:    diagnostic,
	}
	if err := im.repo.RecordImportRun(recordCtx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record import run")
	}
}
