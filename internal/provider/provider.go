// Package provider defines the Gateway contract the Reconciliation Worker
// uses to talk to a chain-data provider, in either streaming or async-job
// mode (spec §4.4).
package provider

import (
	"context"
	"time"

	"github.com/reconcore/core/internal/domain"
)

// Normalized carries the fields the worker compares against a local
// transaction row during reconciliation (spec §4.3.4 step 4).
type Normalized struct {
	FromAddress string
	ToAddress   string
	BlockNumber int64
	Fee         string
}

// Transaction is one provider-reported transaction, restartable via Cursor.
type Transaction struct {
	TransactionHash string
	Cursor          string
	RawData         map[string]any
	Normalized      Normalized
}

// FetchOptions parameterises a streaming fetch (spec §4.3.4 step 3).
type FetchOptions struct {
	Cursor        string
	FromTimestamp *time.Time
	ToTimestamp   *time.Time
	FromBlock     *int64
	ToBlock       *int64
}

// StartAsyncJobParams parameterises StartAsyncJob (spec §4.3.5).
type StartAsyncJobParams struct {
	StartBlock *int64
	EndBlock   *int64
}

// AsyncJobHandle is returned by StartAsyncJob.
type AsyncJobHandle struct {
	JobID       string
	NextPageURL string
}

// AsyncJobResult is returned by FetchAsyncJobResults.
type AsyncJobResult struct {
	IsReady      bool
	IsComplete   bool
	Transactions []Transaction
	NextPageURL  string
}

// TransactionPage is one page of a streaming fetch. NextCursor requests the
// following page; Done=true marks the last page, whose Transactions may be
// empty.
type TransactionPage struct {
	Transactions []Transaction
	NextCursor   string
	Done         bool
}

// Gateway is the abstract provider contract (spec §4.4). Implementations:
// internal/provider/blockbook (HTTP-JSON) and internal/provider/memory (test double).
type Gateway interface {
	Name() string
	SupportsAsyncJobs(chain domain.ChainAlias) bool

	// GetCurrentBlockNumber reports the chain tip, or (0, false) if the
	// provider can't answer (spec §4.3.4 step 1 treats this as non-fatal).
	GetCurrentBlockNumber(ctx context.Context, chain domain.ChainAlias) (height int64, ok bool, err error)

	// FetchTransactions returns the next page of a restartable stream.
	FetchTransactions(ctx context.Context, address string, chain domain.ChainAlias, opts FetchOptions) (TransactionPage, error)

	StartAsyncJob(ctx context.Context, chain domain.ChainAlias, address string, params StartAsyncJobParams) (AsyncJobHandle, error)
	FetchAsyncJobResults(ctx context.Context, nextPageURL string) (AsyncJobResult, error)
}

// Registry resolves the provider name and Gateway for a chain (spec §4.2
// "Resolves provider name from chain registry").
type Registry interface {
	GatewayFor(chain domain.ChainAlias) (gw Gateway, providerName string, ok bool)
}

// StaticRegistry is a Registry backed by a fixed chain->Gateway map, with a
// single default Gateway for unlisted chains.
type StaticRegistry struct {
	Default   Gateway
	ByChain   map[domain.ChainAlias]Gateway
}

func (r StaticRegistry) GatewayFor(chain domain.ChainAlias) (Gateway, string, bool) {
	if gw, ok := r.ByChain[chain]; ok {
		return gw, gw.Name(), true
	}
	if r.Default != nil {
		return r.Default, r.Default.Name(), true
	}
	return nil, "", false
}
