package swap

import (
	"sync"

	"github.com/klingon-exchange/swapd/internal/htlcchain"
)

// handleIndex resolves a chain handle back to the swap id that owns it.
// The event integrator needs this lookup without reaching into the
// registry's internals, so it is a standalone container built at
// HTLC-creation time.
type handleIndex struct {
	mu  sync.RWMutex
	ids map[string]string // handle key -> swap id
}

func newHandleIndex() *handleIndex {
	return &handleIndex{ids: make(map[string]string)}
}

func (h *handleIndex) Put(handle htlcchain.Handle, swapID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids[handleKey(handle)] = swapID
}

func (h *handleIndex) Lookup(handle htlcchain.Handle) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.ids[handleKey(handle)]
	return id, ok
}

func (h *handleIndex) Remove(handle htlcchain.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ids, handleKey(handle))
}

func handleKey(h htlcchain.Handle) string {
	switch h.Kind {
	case htlcchain.KindEVM:
		return "evm:" + string(h.EVMContractID[:])
	default:
		return "solana:" + h.SolanaEscrowAccount
	}
}
