// Package explorer reads a wallet's transfer history from an Etherscan
// compatible block explorer API.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wnt/lotkeeper/internal/models"
	"github.com/wnt/lotkeeper/internal/provider"
	"github.com/wnt/lotkeeper/internal/rpc"
)

const providerName = "explorer"

const (
	DefaultPageSize = 1000

	// DefaultResultWindow is how many rows the API serves for one query (page * offset)
	DefaultResultWindow = 10000

	noTransactions = "No transactions found"
)

// Options configures a Client
type Options struct {
	APIKey       string
	ChainID      string
	PageSize     int
	ResultWindow int
}

// Client implements provider.TransferSource
type Client struct {
	fetcher  *rpc.Fetcher
	apiKey   string
	chainID  string
	pageSize int
	window   int
	logger   zerolog.Logger
}

// NewClient creates an explorer client on top of fetcher
func NewClient(fetcher *rpc.Fetcher, opts Options, logger zerolog.Logger) *Client {
	window := opts.ResultWindow
	if window <= 0 {
		window = DefaultResultWindow
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > window {
		pageSize = window
	}
	return &Client{
		fetcher:  fetcher,
		apiKey:   opts.APIKey,
		chainID:  opts.ChainID,
		pageSize: pageSize,
		window:   window,
		logger:   logger.With().Str("component", "explorer").Logger(),
	}
}

// envelope is the common response wrapper. result is a list on success and a
// message string on failure.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenTx struct {
	BlockNumber     string `json:"blockNumber"`
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	TokenDecimal    string `json:"tokenDecimal"`
	TokenSymbol     string `json:"tokenSymbol"`
}

func (tx tokenTx) block() uint64 { return parseBlock(tx.BlockNumber) }

// valueTx is a row of txlist or txlistinternal; both carry the same fields
type valueTx struct {
	BlockNumber string `json:"blockNumber"`
	Hash        string `json:"hash"`
	TimeStamp   string `json:"timeStamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	IsError     string `json:"isError"`
}

func (tx valueTx) block() uint64 { return parseBlock(tx.BlockNumber) }

type blockRow interface {
	block() uint64
}

// ListTokenTransfers returns every ERC-20 transfer touching wallet, ascending.
// When the history cannot be listed in full, the rows listed so far are
// returned with an error wrapping provider.ErrHistoryTruncated.
func (c *Client) ListTokenTransfers(ctx context.Context, wallet string) ([]models.TokenTransferRow, error) {
	page, listErr := paginate[tokenTx](ctx, c, "tokentx", wallet)
	if listErr != nil && !errors.Is(listErr, provider.ErrHistoryTruncated) {
		return nil, listErr
	}

	rows := make([]models.TokenTransferRow, 0, len(page))
	for _, tx := range page {
		ts, ok := parseTimestamp(tx.TimeStamp)
		if !ok {
			c.logger.Debug().Str("hash", tx.Hash).Str("time_stamp", tx.TimeStamp).Msg("Skipping token transfer with malformed timestamp")
			continue
		}
		rows = append(rows, models.TokenTransferRow{
			Hash:      tx.Hash,
			Timestamp: ts,
			From:      tx.From,
			To:        tx.To,
			Contract:  tx.ContractAddress,
			RawValue:  tx.Value,
			Decimals:  tx.TokenDecimal,
			Symbol:    tx.TokenSymbol,
		})
	}
	return rows, listErr
}

// ListNativeTransfers returns the native value moved to or from wallet,
// ascending. It merges normal transactions with internal ones, which carry
// native value paid out by contracts such as a swap router. Reverted calls
// moved no value and are skipped. Truncation is reported as in
// ListTokenTransfers.
func (c *Client) ListNativeTransfers(ctx context.Context, wallet string) ([]models.NativeTransferRow, error) {
	var (
		rows      []models.NativeTransferRow
		truncated error
	)
	for _, action := range []string{"txlist", "txlistinternal"} {
		page, err := paginate[valueTx](ctx, c, action, wallet)
		if errors.Is(err, provider.ErrHistoryTruncated) {
			truncated = err
		} else if err != nil {
			return nil, err
		}

		for _, tx := range page {
			if tx.IsError == "1" {
				continue
			}
			ts, ok := parseTimestamp(tx.TimeStamp)
			if !ok {
				c.logger.Debug().Str("action", action).Str("hash", tx.Hash).Str("time_stamp", tx.TimeStamp).Msg("Skipping transaction with malformed timestamp")
				continue
			}
			rows = append(rows, models.NativeTransferRow{
				Hash:      tx.Hash,
				Timestamp: ts,
				From:      tx.From,
				To:        tx.To,
				RawValue:  tx.Value,
			})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, truncated
}

// paginate lists every row of action for wallet in ascending block order.
//
// The explorer serves at most c.window rows per query, so once a window is
// exhausted the listing restarts at the last block seen. That block's rows
// are dropped first since the next window lists them again in full. A
// single block filling a whole window cannot be walked past; the rows so far
// are returned with ErrHistoryTruncated.
func paginate[T blockRow](ctx context.Context, c *Client, action, wallet string) ([]T, error) {
	maxPages := c.window / c.pageSize

	var (
		rows       []T
		startBlock uint64
	)
	for {
		for page := 1; page <= maxPages; page++ {
			raw, err := c.fetchPage(ctx, action, wallet, startBlock, page)
			if err != nil {
				return nil, err
			}
			if raw == nil {
				return rows, nil
			}

			var batch []T
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, &provider.ProviderError{Provider: providerName, Op: action, Message: fmt.Sprintf("malformed result: %v", err)}
			}
			rows = append(rows, batch...)

			c.logger.Debug().Str("action", action).Uint64("start_block", startBlock).Int("page", page).Int("rows", len(batch)).Msg("Fetched page")

			if len(batch) < c.pageSize {
				return rows, nil
			}
		}

		last := rows[len(rows)-1].block()
		if last <= startBlock {
			c.logger.Warn().
				Str("action", action).
				Str("wallet", wallet).
				Uint64("block", last).
				Int("rows", len(rows)).
				Msg("History truncated, one block fills the explorer's result window")
			return rows, fmt.Errorf("%w: %s for %s stops at block %d", provider.ErrHistoryTruncated, action, wallet, last)
		}

		cut := len(rows)
		for cut > 0 && rows[cut-1].block() == last {
			cut--
		}
		rows = rows[:cut]
		startBlock = last
	}
}

// fetchPage returns the raw result list of one page starting at startBlock,
// or nil when the explorer reports there is nothing (more) to list
func (c *Client) fetchPage(ctx context.Context, action, wallet string, startBlock uint64, page int) (json.RawMessage, error) {
	query := url.Values{
		"module":  {"account"},
		"action":  {action},
		"address": {wallet},
		"page":    {strconv.Itoa(page)},
		"offset":  {strconv.Itoa(c.pageSize)},
		"sort":    {"asc"},
	}
	if startBlock > 0 {
		query.Set("startblock", strconv.FormatUint(startBlock, 10))
	}
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	if c.chainID != "" {
		query.Set("chainid", c.chainID)
	}

	body, err := c.fetcher.Get(ctx, query)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		netErr := &provider.NetworkError{Provider: providerName, Op: action, Err: err}
		var statusErr *rpc.StatusError
		if errors.As(err, &statusErr) {
			netErr.StatusCode = statusErr.StatusCode
		}
		return nil, netErr
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &provider.ProviderError{Provider: providerName, Op: action, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.Status == "1" {
		return resp.Result, nil
	}

	// status "0": either an empty history or an error message
	if strings.EqualFold(resp.Message, noTransactions) || isEmptyList(resp.Result) {
		return nil, nil
	}
	var detail string
	if json.Unmarshal(resp.Result, &detail) != nil || detail == "" {
		detail = resp.Message
	}
	return nil, &provider.ProviderError{Provider: providerName, Op: action, Message: detail}
}

func isEmptyList(raw json.RawMessage) bool {
	var list []json.RawMessage
	return json.Unmarshal(raw, &list) == nil && len(list) == 0
}

func parseBlock(s string) uint64 {
	block, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return block
}

func parseTimestamp(s string) (time.Time, bool) {
	unix, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}
