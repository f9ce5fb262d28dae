package domain

import "strings"

// NormalizeHash canonicalizes a transaction hash for uniqueness comparisons.
// EVM hashes are lowercased (mixed-case is just checksum formatting); other
// ecosystems preserve the provider's native casing.
func NormalizeHash(chain ChainAlias, hash string) string {
	if EcosystemOf(chain) == EcosystemEVM {
		return strings.ToLower(hash)
	}
	return hash
}

// NormalizeAddress canonicalizes an address the same way NormalizeHash
// canonicalizes a hash: lowercase for EVM, raw otherwise. Centralizing this
// here keeps the reorg-safe window, duplicate detection, and discrepancy
// comparison all using one definition of "the same address".
func NormalizeAddress(chain ChainAlias, address string) string {
	if EcosystemOf(chain) == EcosystemEVM {
		return strings.ToLower(address)
	}
	return address
}
