package broker_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/vault"
)

type txKey struct{}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func asUser(userID string) context.Context {
	return appctx.SetUserID(context.Background(), userID)
}

// fakeTx applies staged writes only on Commit
type fakeTx struct {
	database.Executor
	onCommit   []func()
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(context.Context) error {
	if !t.IsOpen() {
		return nil
	}
	for _, fn := range t.onCommit {
		fn()
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.IsOpen() {
		return nil
	}
	t.onCommit = nil
	t.rolledBack = true
	return nil
}

type fakeTransactor struct {
	txs []*fakeTx
}

func (f *fakeTransactor) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

func (f *fakeTransactor) last() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

// fakeStore holds committed rows; writes made through a transaction context
// are staged on that transaction.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]models.Integration
}

func newFakeStore(rows ...models.Integration) *fakeStore {
	s := &fakeStore{rows: map[string]models.Integration{}}
	for _, row := range rows {
		s.rows[row.ID] = row
	}
	return s
}

func (s *fakeStore) stage(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(txKey{}).(*fakeTx); ok {
		tx.onCommit = append(tx.onCommit, fn)
		return
	}
	fn()
}

func (s *fakeStore) get(id string) (models.Integration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	return row, ok
}

func (s *fakeStore) GetByIDForUpdate(_ context.Context, id string) (*models.Integration, error) {
	row, ok := s.get(id)
	if !ok {
		return nil, repositories.NotFound("integration %s does not exist", id)
	}
	return &row, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.get(id); !ok {
		return repositories.NotFound("integration %s does not exist", id)
	}
	s.stage(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rows, id)
	})
	return nil
}

func (s *fakeStore) MarkCredentialsInVault(ctx context.Context, id string) error {
	if _, ok := s.get(id); !ok {
		return repositories.NotFound("integration %s does not exist", id)
	}
	s.stage(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.rows[id]
		row.CredentialsInVault = true
		row.APIKey = nil
		row.WebhookSecret = nil
		s.rows[id] = row
	})
	return nil
}

type fakeVault struct {
	mu          sync.Mutex
	entries     map[string]string
	failPut     map[string]error
	failDelete  map[string]error
	putCalls    int
	deleteCalls int
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		entries:    map[string]string{},
		failPut:    map[string]error{},
		failDelete: map[string]error{},
	}
}

func (v *fakeVault) Put(_ context.Context, name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.putCalls++
	if err := v.failPut[name]; err != nil {
		return err
	}
	v.entries[name] = value
	return nil
}

func (v *fakeVault) Get(_ context.Context, name string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.entries[name]
	if !ok {
		return "", vault.ErrNotFound
	}
	return value, nil
}

func (v *fakeVault) Delete(_ context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleteCalls++
	if err := v.failDelete[name]; err != nil {
		return err
	}
	delete(v.entries, name)
	return nil
}

func (v *fakeVault) Exists(_ context.Context, name string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.entries[name]
	return ok, nil
}

type fakeRoles map[string]models.Role

func (f fakeRoles) GetRoleByUserID(_ context.Context, userID string) (models.Role, error) {
	if userID == "broken" {
		return models.RoleNone, errors.New("connection reset")
	}
	return f[userID], nil
}

type fakeLocker struct {
	held     map[string]bool
	released []string
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	if l.held[key] {
		return nil, redis.ErrLockNotAcquired
	}
	return func(context.Context) error {
		l.released = append(l.released, key)
		return nil
	}, nil
}

type fakePublisher struct {
	events []kafka.AuditEvent
}

func (p *fakePublisher) PublishAudit(_ context.Context, evt *kafka.AuditEvent) error {
	p.events = append(p.events, *evt)
	return nil
}

func (p *fakePublisher) PublishJob(context.Context, *kafka.JobMessage) error { return nil }
func (p *fakePublisher) Close() error                                       { return nil }
