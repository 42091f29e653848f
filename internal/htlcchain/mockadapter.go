package htlcchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/swapd/internal/preimage"
)

// MockAdapter is a test-only ChainAdapter backed by an in-memory map. It
// mirrors on-chain timelock semantics closely enough to drive engine and
// recovery-driver tests without a real RPC endpoint.
type MockAdapter struct {
	mu      sync.Mutex
	name    string
	kind    Kind
	escrows map[string]*mockEscrow
	seq     int
	now     func() time.Time

	subs []chan Event

	createErr error
}

type mockEscrow struct {
	handle    Handle
	params    CreateParams
	withdrawn bool
	refunded  bool
	secret    *preimage.Secret
}

// NewMockAdapter creates a mock adapter for the given chain name/kind. now
// defaults to time.Now if nil, and can be overridden so tests can advance
// time deterministically.
func NewMockAdapter(name string, kind Kind, now func() time.Time) *MockAdapter {
	if now == nil {
		now = time.Now
	}
	return &MockAdapter{
		name:    name,
		kind:    kind,
		escrows: make(map[string]*mockEscrow),
		now:     now,
	}
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) Address() string { return m.name + "-coordinator" }

// ForceCreateError makes every subsequent CreateHTLC call fail with err,
// simulating a chain that has become unreachable. Pass nil to clear it.
func (m *MockAdapter) ForceCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *MockAdapter) CreateHTLC(ctx context.Context, params CreateParams) (Handle, error) {
	m.mu.Lock()
	if m.createErr != nil {
		err := m.createErr
		m.mu.Unlock()
		return Handle{}, err
	}
	m.mu.Unlock()

	if params.Receiver == "" {
		return Handle{}, ErrInvalidReceiver
	}
	if params.Sender == "" {
		return Handle{}, ErrInvalidSender
	}
	if params.Timelock <= m.now().Unix() {
		return Handle{}, ErrInvalidTimelock
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("%s-escrow-%d", m.name, m.seq)

	var handle Handle
	switch m.kind {
	case KindEVM:
		var contractID [32]byte
		copy(contractID[:], []byte(id))
		handle = Handle{Kind: KindEVM, EVMContractID: contractID, EVMTxHash: id + "-tx"}
	default:
		handle = Handle{Kind: KindSolana, SolanaEscrowAccount: id, SolanaCreateSignature: id + "-sig"}
	}

	m.escrows[handleID(handle)] = &mockEscrow{handle: handle, params: params}
	return handle, nil
}

func (m *MockAdapter) Withdraw(ctx context.Context, handle Handle, secret preimage.Secret) (string, error) {
	m.mu.Lock()
	e, err := m.lookup(handle)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	if e.withdrawn {
		m.mu.Unlock()
		return "", ErrAlreadyWithdrawn
	}
	if e.refunded {
		m.mu.Unlock()
		return "", ErrAlreadyRefunded
	}
	if !preimage.Verify(secret, e.params.Hashlock) {
		m.mu.Unlock()
		return "", ErrInvalidSecret
	}
	if m.now().Unix() >= e.params.Timelock {
		m.mu.Unlock()
		return "", ErrWindowClosed
	}
	e.withdrawn = true
	s := secret
	e.secret = &s
	txID := e.id() + "-withdraw"
	m.mu.Unlock()

	m.publish(Event{Handle: e.handle, Kind: EventWithdrawn, Secret: &s, TxID: txID})
	return txID, nil
}

func (m *MockAdapter) Refund(ctx context.Context, handle Handle) (string, error) {
	m.mu.Lock()
	e, err := m.lookup(handle)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	if e.refunded {
		m.mu.Unlock()
		return "", ErrAlreadyRefunded
	}
	if e.withdrawn {
		m.mu.Unlock()
		return "", ErrAlreadyWithdrawn
	}
	if m.now().Unix() < e.params.Timelock {
		m.mu.Unlock()
		return "", ErrTimelockNotExpired
	}
	e.refunded = true
	txID := e.id() + "-refund"
	m.mu.Unlock()

	m.publish(Event{Handle: e.handle, Kind: EventRefunded, TxID: txID})
	return txID, nil
}

func (m *MockAdapter) CanWithdraw(ctx context.Context, handle Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(handle)
	if err != nil {
		return false, err
	}
	return !e.withdrawn && !e.refunded && m.now().Unix() < e.params.Timelock, nil
}

func (m *MockAdapter) CanRefund(ctx context.Context, handle Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(handle)
	if err != nil {
		return false, err
	}
	return !e.withdrawn && !e.refunded && m.now().Unix() >= e.params.Timelock, nil
}

func (m *MockAdapter) Info(ctx context.Context, handle Handle) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(handle)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Sender:    e.params.Sender,
		Receiver:  e.params.Receiver,
		Token:     e.params.Token,
		Amount:    e.params.Amount,
		Hashlock:  e.params.Hashlock,
		Timelock:  e.params.Timelock,
		Withdrawn: e.withdrawn,
		Refunded:  e.refunded,
		Secret:    e.secret,
	}, nil
}

func (m *MockAdapter) Observe(ctx context.Context) (<-chan Event, <-chan error, error) {
	ch := make(chan Event, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
		close(errCh)
	}()

	return ch, errCh, nil
}

// publish fans an event out to every active subscriber without blocking
// under the main mutex.
func (m *MockAdapter) publish(evt Event) {
	m.mu.Lock()
	subs := append([]chan Event(nil), m.subs...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (m *MockAdapter) lookup(handle Handle) (*mockEscrow, error) {
	id := handleID(handle)
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return e, nil
}

func (e *mockEscrow) id() string { return handleID(e.handle) }

func handleID(h Handle) string {
	switch h.Kind {
	case KindEVM:
		return fmt.Sprintf("evm:%x", h.EVMContractID)
	default:
		return fmt.Sprintf("solana:%s", h.SolanaEscrowAccount)
	}
}
