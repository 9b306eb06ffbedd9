// Вспомогательные фейки для тестов пакета saga: репозиторий в памяти
// с семантикой optimistic locking и шаг, фиксирующий вызовы.
package saga

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"example.com/fluxpay/internal/domain"
)

// =============================================================================
// memoryRepository — Repository в памяти
// =============================================================================

type memoryRepository struct {
	mu        sync.Mutex
	instances map[string]*Instance
	steps     map[string]map[int]*StepRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		instances: make(map[string]*Instance),
		steps:     make(map[string]map[int]*StepRecord),
	}
}

func (r *memoryRepository) Create(_ context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst.TenantID == "" {
		return domain.ErrTenantMissing
	}
	for _, existing := range r.instances {
		if existing.TenantID == inst.TenantID && existing.CorrelationID == inst.CorrelationID {
			return ErrDuplicateCorrelation
		}
	}

	r.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (r *memoryRepository) Update(_ context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.instances[inst.ID]
	if !ok {
		return ErrSagaNotFound
	}
	if stored.Version != inst.Version {
		return domain.ErrVersionConflict
	}

	inst.Version++
	inst.UpdatedAt = time.Now()
	r.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return cloneInstance(inst), nil
}

func (r *memoryRepository) GetByCorrelationID(_ context.Context, correlationID string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range r.instances {
		if inst.CorrelationID == correlationID {
			return cloneInstance(inst), nil
		}
	}
	return nil, ErrSagaNotFound
}

func (r *memoryRepository) SaveStep(_ context.Context, rec *StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if r.steps[rec.SagaID] == nil {
		r.steps[rec.SagaID] = make(map[int]*StepRecord)
	}
	r.steps[rec.SagaID][rec.Index] = cloneStep(rec)
	return nil
}

func (r *memoryRepository) GetSteps(_ context.Context, sagaID string) ([]*StepRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*StepRecord, 0, len(r.steps[sagaID]))
	for _, rec := range r.steps[sagaID] {
		records = append(records, cloneStep(rec))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

func (r *memoryRepository) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var stuck []*Instance
	for _, inst := range r.instances {
		if inst.Status.IsTerminal() {
			continue
		}
		if !inst.UpdatedAt.Before(olderThan) {
			continue
		}
		if inst.LeasedUntil != nil && inst.LeasedUntil.After(now) {
			continue
		}
		stuck = append(stuck, cloneInstance(inst))
	}

	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (r *memoryRepository) Claim(_ context.Context, id, owner string, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return false, nil
	}
	if inst.LeasedUntil != nil && inst.LeasedUntil.After(time.Now()) {
		return false, nil
	}

	inst.Owner = &owner
	leased := until
	inst.LeasedUntil = &leased
	return true, nil
}

func cloneInstance(inst *Instance) *Instance {
	c := *inst
	if inst.Context != nil {
		data, _ := json.Marshal(inst.Context)
		c.Context = NewContext()
		_ = json.Unmarshal(data, c.Context)
	}
	if inst.FailureReason != nil {
		v := *inst.FailureReason
		c.FailureReason = &v
	}
	if inst.Owner != nil {
		v := *inst.Owner
		c.Owner = &v
	}
	if inst.LeasedUntil != nil {
		v := *inst.LeasedUntil
		c.LeasedUntil = &v
	}
	return &c
}

func cloneStep(rec *StepRecord) *StepRecord {
	c := *rec
	if rec.Error != nil {
		v := *rec.Error
		c.Error = &v
	}
	if rec.ExecutedAt != nil {
		v := *rec.ExecutedAt
		c.ExecutedAt = &v
	}
	if rec.CompensatedAt != nil {
		v := *rec.CompensatedAt
		c.CompensatedAt = &v
	}
	return &c
}

// =============================================================================
// recordingStep — шаг, фиксирующий вызовы
// =============================================================================

type recordingStep struct {
	name            string
	executeCalls    int
	compensateCalls int

	// executeErr возвращается каждым вызовом Execute, если executeFn == nil.
	executeErr error

	// compensateErrs возвращаются по одному на вызов Compensate;
	// после исчерпания списка компенсация успешна.
	compensateErrs []error

	executeFn    func(ctx context.Context, sagaCtx *Context) error
	compensateFn func(ctx context.Context, sagaCtx *Context) error
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(ctx context.Context, sagaCtx *Context) error {
	s.executeCalls++
	if s.executeFn != nil {
		return s.executeFn(ctx, sagaCtx)
	}
	return s.executeErr
}

func (s *recordingStep) Compensate(ctx context.Context, sagaCtx *Context) error {
	s.compensateCalls++
	if s.compensateFn != nil {
		return s.compensateFn(ctx, sagaCtx)
	}
	if len(s.compensateErrs) > 0 {
		err := s.compensateErrs[0]
		s.compensateErrs = s.compensateErrs[1:]
		return err
	}
	return nil
}
