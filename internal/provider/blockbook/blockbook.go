// Package blockbook adapts a Blockbook-style REST API (as used by
// Trezor/various UTXO and EVM explorers) to the provider.Gateway contract.
package blockbook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

const defaultTimeout = 10 * time.Second

// Gateway talks to one Blockbook-compatible base URL. It never supports
// async jobs — Blockbook's REST API is synchronous pagination only.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// New constructs a Gateway with the spec's mandated 10s HTTP client timeout.
func New(baseURL string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (g *Gateway) Name() string { return "blockbook" }

func (g *Gateway) SupportsAsyncJobs(domain.ChainAlias) bool { return false }

type addressResponse struct {
	Balance      string `json:"balance"`
	Transactions []txDTO `json:"transactions"`
}

type txDTO struct {
	TxID        string `json:"txid"`
	BlockHeight int64  `json:"blockHeight"`
	Vin         []struct {
		Addresses []string `json:"addresses"`
	} `json:"vin"`
	Vout []struct {
		Addresses []string `json:"addresses"`
	} `json:"vout"`
	Fees string `json:"fees"`
}

func (g *Gateway) GetCurrentBlockNumber(ctx context.Context, _ domain.ChainAlias) (int64, bool, error) {
	var out struct {
		Backend struct {
			Blocks int64 `json:"blocks"`
		} `json:"backend"`
	}
	if err := g.get(ctx, "/api/v2", nil, &out); err != nil {
		return 0, false, fmt.Errorf("get current block number: %w", err)
	}
	return out.Backend.Blocks, true, nil
}

// FetchTransactions pages through GET /api/v2/address/{address}, using the
// provider's own page number as the opaque cursor. A per-transaction cursor
// ("page:txid") resumes at that transaction's page.
func (g *Gateway) FetchTransactions(ctx context.Context, address string, _ domain.ChainAlias, opts provider.FetchOptions) (provider.TransactionPage, error) {
	page := 1
	if opts.Cursor != "" {
		pageStr, _, _ := strings.Cut(opts.Cursor, ":")
		if p, err := strconv.Atoi(pageStr); err == nil {
			page = p
		}
	}

	query := url.Values{"page": {strconv.Itoa(page)}, "details": {"txs"}}
	if opts.FromBlock != nil {
		query.Set("from", strconv.FormatInt(*opts.FromBlock, 10))
	}
	if opts.ToBlock != nil {
		query.Set("to", strconv.FormatInt(*opts.ToBlock, 10))
	}

	var out addressResponse
	if err := g.get(ctx, "/api/v2/address/"+url.PathEscape(address), query, &out); err != nil {
		return provider.TransactionPage{}, fmt.Errorf("fetch transactions: %w", err)
	}
	if len(out.Transactions) == 0 {
		return provider.TransactionPage{Done: true}, nil
	}

	txs := make([]provider.Transaction, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		txs = append(txs, dtoToTransaction(t, page))
	}
	return provider.TransactionPage{
		Transactions: txs,
		NextCursor:   strconv.Itoa(page + 1),
	}, nil
}

func dtoToTransaction(t txDTO, page int) provider.Transaction {
	raw := map[string]any{"txid": t.TxID, "blockHeight": t.BlockHeight, "fees": t.Fees}
	from, to := "", ""
	if len(t.Vin) > 0 && len(t.Vin[0].Addresses) > 0 {
		from = t.Vin[0].Addresses[0]
	}
	if len(t.Vout) > 0 && len(t.Vout[0].Addresses) > 0 {
		to = t.Vout[0].Addresses[0]
	}
	return provider.Transaction{
		TransactionHash: t.TxID,
		Cursor:          fmt.Sprintf("%d:%s", page, t.TxID),
		RawData:         raw,
		Normalized: provider.Normalized{
			FromAddress: from,
			ToAddress:   to,
			BlockNumber: t.BlockHeight,
			Fee:         t.Fees,
		},
	}
}

// StartAsyncJob and FetchAsyncJobResults are unreachable: SupportsAsyncJobs
// always returns false for this adapter.
func (g *Gateway) StartAsyncJob(context.Context, domain.ChainAlias, string, provider.StartAsyncJobParams) (provider.AsyncJobHandle, error) {
	return provider.AsyncJobHandle{}, fmt.Errorf("blockbook: async jobs unsupported")
}

func (g *Gateway) FetchAsyncJobResults(context.Context, string) (provider.AsyncJobResult, error) {
	return provider.AsyncJobResult{}, fmt.Errorf("blockbook: async jobs unsupported")
}

func (g *Gateway) get(ctx context.Context, path string, query url.Values, out any) error {
	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ provider.Gateway = (*Gateway)(nil)
