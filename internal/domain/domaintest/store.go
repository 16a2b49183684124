package domaintest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

// Store is an in-memory domain.Store for tests. WithTransaction serializes units of
// work and restores the previous state when fn fails.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	txs   map[string]domain.Transaction
	keys  map[uuid.UUID]domain.APIKey
	evs   []domain.WebhookEvent
	clock func() time.Time

	FailRecord error
}

func NewStore() *Store {
	return &Store{
		txs:   make(map[string]domain.Transaction),
		keys:  make(map[uuid.UUID]domain.APIKey),
		clock: time.Now,
	}
}

func (s *Store) Transactions() domain.TransactionRepository   { return memTransactions{s} }
func (s *Store) APIKeys() domain.APIKeyRepository             { return memAPIKeys{s} }
func (s *Store) WebhookEvents() domain.WebhookEventRepository { return memEvents{s} }

func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	txs := make(map[string]domain.Transaction, len(s.txs))
	for k, v := range s.txs {
		txs[k] = v
	}
	evs := append([]domain.WebhookEvent(nil), s.evs...)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.txs = txs
		s.evs = evs
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Get(reference string) (domain.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[reference]
	return tx, ok
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func (s *Store) Events() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WebhookEvent(nil), s.evs...)
}

type memTransactions struct{ s *Store }

func (r memTransactions) CreatePending(ctx context.Context, tx *domain.Transaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.txs[tx.Reference]; ok {
		return false, nil
	}
	row := *tx
	row.Status = domain.StatusPending
	if row.Metadata == nil {
		row.Metadata = json.RawMessage("{}")
	}
	row.CreatedAt = r.s.clock()
	row.UpdatedAt = row.CreatedAt
	r.s.txs[tx.Reference] = row
	return true, nil
}

func (r memTransactions) Upsert(ctx context.Context, reference string, update domain.TransactionUpdate) (*domain.UpsertResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, exists := r.s.txs[reference]
	if !exists {
		row = domain.Transaction{
			Reference: reference,
			Status:    domain.StatusPending,
			Currency:  "GHS",
			Metadata:  json.RawMessage("{}"),
			CreatedAt: r.s.clock(),
		}
	} else if update.Status != nil && !domain.CanTransition(row.Status, *update.Status) {
		current := row
		return &domain.UpsertResult{Transaction: &current}, nil
	}

	update.Apply(&row)
	row.UpdatedAt = r.s.clock()
	r.s.txs[reference] = row

	out := row
	return &domain.UpsertResult{Transaction: &out, Created: !exists, Applied: true}, nil
}

func (r memTransactions) UpdateStatus(ctx context.Context, reference string, status domain.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.txs[reference]
	if !ok {
		return false, nil
	}
	row.Status = status
	row.UpdatedAt = r.s.clock()
	r.s.txs[reference] = row
	return true, nil
}

func (r memTransactions) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, ok := r.s.Get(reference)
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

type memAPIKeys struct{ s *Store }

func (r memAPIKeys) Create(ctx context.Context, key *domain.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key.CreatedAt = r.s.clock()
	r.s.keys[key.ID] = *key
	return nil
}

func (r memAPIKeys) Authenticate(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, k := range r.s.keys {
		if k.KeyHash == keyHash && k.IsActive {
			now := r.s.clock()
			k.LastUsed = &now
			r.s.keys[id] = k
			return &k, nil
		}
	}
	return nil, errors.ErrUnauthorized
}

func (r memAPIKeys) List(ctx context.Context) ([]domain.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.APIKey, 0, len(r.s.keys))
	for _, k := range r.s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (r memAPIKeys) Revoke(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keys[id]
	if !ok {
		return errors.NewAppError(errors.NotFound, "API key not found")
	}
	k.IsActive = false
	r.s.keys[id] = k
	return nil
}

type memEvents struct{ s *Store }

func (r memEvents) Record(ctx context.Context, event *domain.WebhookEvent) error {
	if r.s.FailRecord != nil {
		return r.s.FailRecord
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.ReceivedAt = r.s.clock()
	r.s.evs = append(r.s.evs, *event)
	return nil
}

func (r memEvents) ListByReference(ctx context.Context, reference string) ([]domain.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.WebhookEvent
	for _, e := range r.s.evs {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out, nil
}
