// Package memory is an in-memory Gateway used by service/worker tests and by
// local development without a real chain RPC endpoint.
package memory

import (
	"context"
	"sync"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

// Gateway is a fully scriptable fake: tests preload Transactions and, for the
// async flow, a sequence of Batches to hand back across polling passes.
type Gateway struct {
	mu sync.Mutex

	ProviderName string
	Async        map[domain.ChainAlias]bool
	BlockHeight  map[domain.ChainAlias]int64

	// Transactions backs FetchTransactions: one page per call, paged by
	// index so repeated calls with the same cursor are idempotent.
	Transactions []provider.Transaction
	PageSize     int

	// Batches backs the async flow: each call to FetchAsyncJobResults pops
	// the next entry. The last entry must have IsComplete=true.
	Batches []provider.AsyncJobResult

	nextAsyncJobID int
}

func New(name string) *Gateway {
	return &Gateway{
		ProviderName: name,
		Async:        map[domain.ChainAlias]bool{},
		BlockHeight:  map[domain.ChainAlias]int64{},
		PageSize:     50,
	}
}

func (g *Gateway) Name() string { return g.ProviderName }

func (g *Gateway) SupportsAsyncJobs(chain domain.ChainAlias) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Async[chain]
}

func (g *Gateway) GetCurrentBlockNumber(_ context.Context, chain domain.ChainAlias) (int64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.BlockHeight[chain]
	return h, ok, nil
}

// FetchTransactions pages through g.Transactions starting after the cursor.
// Cursor values are the Cursor fields of g.Transactions; "" means start from
// the beginning.
func (g *Gateway) FetchTransactions(_ context.Context, _ string, _ domain.ChainAlias, opts provider.FetchOptions) (provider.TransactionPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := 0
	if opts.Cursor != "" {
		for i, tx := range g.Transactions {
			if tx.Cursor == opts.Cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(g.Transactions) {
		return provider.TransactionPage{Done: true}, nil
	}

	end := start + g.PageSize
	if end > len(g.Transactions) {
		end = len(g.Transactions)
	}
	page := g.Transactions[start:end]
	nextCursor := ""
	if len(page) > 0 {
		nextCursor = page[len(page)-1].Cursor
	}
	return provider.TransactionPage{
		Transactions: page,
		NextCursor:   nextCursor,
		Done:         end >= len(g.Transactions),
	}, nil
}

func (g *Gateway) StartAsyncJob(_ context.Context, _ domain.ChainAlias, _ string, _ provider.StartAsyncJobParams) (provider.AsyncJobHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextAsyncJobID++
	return provider.AsyncJobHandle{JobID: "async-job", NextPageURL: "page-0"}, nil
}

// FetchAsyncJobResults pops the next scripted batch, keyed by call order
// rather than by the URL (the fake doesn't need real pagination tokens).
func (g *Gateway) FetchAsyncJobResults(_ context.Context, nextPageURL string) (provider.AsyncJobResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Batches) == 0 {
		return provider.AsyncJobResult{IsReady: false}, nil
	}
	batch := g.Batches[0]
	g.Batches = g.Batches[1:]
	return batch, nil
}

var _ provider.Gateway = (*Gateway)(nil)
