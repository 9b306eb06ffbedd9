// Package saga реализует персистентный saga-оркестратор.
//
// Сага — упорядоченный список шагов с прямым действием и компенсацией.
// Оркестратор выполняет шаги по очереди, фиксируя прогресс в БД после
// каждого шага. При ошибке выполненные шаги компенсируются в обратном
// порядке. Упавший процесс не теряет сагу: recovery-воркер находит
// зависшие экземпляры и доводит их до терминального состояния.
package saga

import (
	"encoding/json"
	"errors"
	"time"
)

// =============================================================================
// Состояния саги и шагов
// =============================================================================

// Status — состояние экземпляра саги.
type Status string

const (
	// StatusStarted — экземпляр создан, выполнение ещё не началось.
	StatusStarted Status = "STARTED"

	// StatusProcessing — шаги выполняются по порядку.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted — все шаги выполнены успешно.
	StatusCompleted Status = "COMPLETED"

	// StatusCompensating — ошибка шага, выполненные шаги откатываются.
	StatusCompensating Status = "COMPENSATING"

	// StatusCompensated — все компенсации выполнены, сага откатилась.
	StatusCompensated Status = "COMPENSATED"

	// StatusFailed — компенсация не удалась, требуется ручное вмешательство.
	StatusFailed Status = "FAILED"
)

// IsTerminal возвращает true для финальных состояний саги.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// StepStatus — состояние отдельного шага саги.
type StepStatus string

const (
	// StepStatusPending — шаг записан, выполнение не завершено.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusExecuted — прямое действие шага выполнено.
	StepStatusExecuted StepStatus = "EXECUTED"

	// StepStatusFailed — прямое действие или компенсация шага провалились.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusCompensated — компенсация шага выполнена.
	StepStatusCompensated StepStatus = "COMPENSATED"
)

// Ошибки переходов состояний.
var (
	ErrInvalidTransition = errors.New("недопустимый переход состояния саги")
	ErrSagaFinished      = errors.New("сага уже в терминальном состоянии")
)

// allowedTransitions определяет допустимые переходы состояний.
var allowedTransitions = map[Status][]Status{
	StatusStarted:      {StatusProcessing},
	StatusProcessing:   {StatusCompleted, StatusCompensating},
	StatusCompensating: {StatusCompensated, StatusFailed},
	// Терминальные состояния переходов не имеют.
}

// =============================================================================
// Instance — персистентный экземпляр саги
// =============================================================================

// Instance — состояние одного запуска саги.
type Instance struct {
	ID                 string     // UUID экземпляра
	TenantID           string     // Арендатор, от имени которого идёт сага
	SagaType           string     // Имя определения в реестре
	CorrelationID      string     // Бизнес-ключ, уникален в рамках арендатора
	Status             Status     // Текущее состояние
	CurrentStep        int        // Индекс следующего шага для выполнения
	Context            *Context   // Данные шагов, сериализуются в contextData
	FailureReason      *string    // Причина отката (при COMPENSATING и дальше)
	CompensationFailed bool       // true, если компенсация исчерпала ретраи
	Owner              *string    // Владелец lease (идентификатор процесса)
	LeasedUntil        *time.Time // Срок действия lease
	Version            int64      // Optimistic locking
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (i *Instance) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range allowedTransitions[i.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
func (i *Instance) TransitionTo(newStatus Status) error {
	if i.Status.IsTerminal() {
		return ErrSagaFinished
	}
	if !i.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}

	i.Status = newStatus
	i.UpdatedAt = time.Now()
	return nil
}

// StartProcessing переводит сагу к выполнению шагов.
func (i *Instance) StartProcessing() error {
	return i.TransitionTo(StatusProcessing)
}

// Complete завершает сагу после успешного выполнения всех шагов.
func (i *Instance) Complete() error {
	return i.TransitionTo(StatusCompleted)
}

// StartCompensation переводит сагу в откат с указанием причины.
func (i *Instance) StartCompensation(reason string) error {
	if err := i.TransitionTo(StatusCompensating); err != nil {
		return err
	}
	i.FailureReason = &reason
	return nil
}

// MarkCompensated фиксирует успешный откат всех шагов.
func (i *Instance) MarkCompensated() error {
	return i.TransitionTo(StatusCompensated)
}

// Fail фиксирует провал компенсации.
func (i *Instance) Fail() error {
	if err := i.TransitionTo(StatusFailed); err != nil {
		return err
	}
	i.CompensationFailed = true
	return nil
}

// =============================================================================
// StepRecord — персистентная запись о шаге
// =============================================================================

// StepRecord — состояние одного шага в рамках экземпляра саги.
type StepRecord struct {
	SagaID        string
	Index         int
	Name          string
	Status        StepStatus
	Error         *string
	ExecutedAt    *time.Time
	CompensatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// Context — данные, передаваемые между шагами
// =============================================================================

// Context — строковая карта данных саги. Сериализуется в JSON после каждого
// шага, поэтому всё, что шаги кладут в контекст, обязано быть строкой
// (структуры кладутся через SetJSON).
type Context struct {
	data map[string]string
}

// NewContext создаёт пустой контекст саги.
func NewContext() *Context {
	return &Context{data: make(map[string]string)}
}

// Set сохраняет значение по ключу.
func (c *Context) Set(key, value string) {
	c.data[key] = value
}

// Get возвращает значение по ключу.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.data[key]
	return v, ok
}

// SetJSON сериализует значение в JSON и сохраняет по ключу.
func (c *Context) SetJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = string(raw)
	return nil
}

// GetJSON десериализует значение по ключу в out.
func (c *Context) GetJSON(key string, out any) error {
	raw, ok := c.data[key]
	if !ok {
		return errors.New("ключ " + key + " отсутствует в контексте саги")
	}
	return json.Unmarshal([]byte(raw), out)
}

// MarshalJSON сериализует контекст как плоскую карту.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.data)
}

// UnmarshalJSON восстанавливает контекст из плоской карты.
func (c *Context) UnmarshalJSON(data []byte) error {
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.data = m
	return nil
}
