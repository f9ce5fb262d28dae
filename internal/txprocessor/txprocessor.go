// Package txprocessor implements the Transaction Processor contract (spec
// §4.5): fetch a raw transaction, classify it, and upsert the normalized
// transaction row plus any tokens it references.
package txprocessor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/provider"
)

// Store is the persistence the processor needs. UpsertTransaction receives a
// row whose ID Process has already assigned; UpsertToken must honor the classification-field
// invariant of spec §3 (never overwritten on an existing row).
type Store interface {
	UpsertTransaction(ctx context.Context, tx domain.Transaction) error
	UpsertToken(ctx context.Context, meta domain.TokenMetadata) error
}

// RPCClient fetches the raw representation of a transaction from an
// on-chain RPC endpoint and extracts any token contract/mint addresses it
// references. A nil RPCClient is valid: the processor then classifies from
// the provider-reported normalized fields and RawData, with no token references.
type RPCClient interface {
	FetchRawTransaction(ctx context.Context, chain domain.ChainAlias, txHash string) (raw map[string]any, tokenAddresses []string, err error)
}

// Processor upserts one provider-reported transaction after fetching and
// classifying it.
type Processor struct {
	store Store
	rpc   RPCClient
}

func New(store Store, rpc RPCClient) *Processor {
	return &Processor{store: store, rpc: rpc}
}

// Process fetches, classifies and upserts p, returning the stored
// Transaction. Any error here is non-fatal to the enclosing job (spec
// §4.3.4 step 4: "On processor error, increment errorsCount and continue").
func (p *Processor) Process(ctx context.Context, chain domain.ChainAlias, ptx provider.Transaction) (domain.Transaction, error) {
	hash := domain.NormalizeHash(chain, ptx.TransactionHash)

	var (
		raw            = ptx.RawData
		tokenAddresses []string
	)
	if p.rpc != nil {
		fetched, tokens, err := p.rpc.FetchRawTransaction(ctx, chain, ptx.TransactionHash)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("fetch raw transaction %s: %w", hash, err)
		}
		raw = fetched
		tokenAddresses = tokens
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		Chain:       chain,
		TxHash:      hash,
		BlockNumber: ptx.Normalized.BlockNumber,
		FromAddress: domain.NormalizeAddress(chain, ptx.Normalized.FromAddress),
		ToAddress:   domain.NormalizeAddress(chain, ptx.Normalized.ToAddress),
		Fee:         ptx.Normalized.Fee,
		Status:      "confirmed",
	}
	tx.Value, _ = raw["value"].(string)

	classify(&tx, raw)

	if err := p.store.UpsertTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("upsert transaction %s: %w", hash, err)
	}

	for _, addr := range tokenAddresses {
		meta := domain.TokenMetadata{Chain: chain, Address: domain.NormalizeAddress(chain, addr)}
		if err := p.store.UpsertToken(ctx, meta); err != nil {
			return domain.Transaction{}, fmt.Errorf("upsert token %s: %w", addr, err)
		}
	}

	return tx, nil
}

// classify assigns a best-effort kind from the raw payload (spec §4.5).
func classify(tx *domain.Transaction, raw map[string]any) {
	data, _ := raw["input"].(string)
	switch {
	case tx.ToAddress == "":
		tx.Classification = domain.ClassificationContractCall
	case strings.HasPrefix(data, "0x") && len(data) > 2:
		tx.Classification = domain.ClassificationContractCall
	default:
		tx.Classification = domain.ClassificationTransfer
	}
}
