package saga

import (
	"context"
	"fmt"
)

// =============================================================================
// Step и Definition — описание саги
// =============================================================================

// Step — один шаг саги с прямым действием и компенсацией.
// Оба метода получают контекст саги и обязаны класть в него только
// JSON-сериализуемые значения: после каждого шага контекст попадает в БД,
// и при восстановлении шаг видит только то, что из него десериализовалось.
type Step interface {
	// Name возвращает стабильное имя шага для записи в БД и метрик.
	Name() string

	// Execute выполняет прямое действие шага.
	Execute(ctx context.Context, sagaCtx *Context) error

	// Compensate откатывает прямое действие шага.
	// Вызывается только для шагов со статусом EXECUTED и должен быть
	// идемпотентным: при восстановлении он может быть вызван повторно.
	Compensate(ctx context.Context, sagaCtx *Context) error
}

// Definition — именованная сага: упорядоченный список шагов
// и опциональный финальный обработчик.
type Definition struct {
	// Name — тип саги, по нему экземпляры находят определение в реестре.
	Name string

	// Steps — шаги в порядке выполнения.
	Steps []Step

	// OnComplete вызывается после перехода саги в COMPLETED.
	// Может быть nil.
	OnComplete func(ctx context.Context, sagaCtx *Context) error
}

// =============================================================================
// Registry — реестр определений саг
// =============================================================================

// Registry хранит определения саг по имени. Заполняется при старте
// процесса и дальше только читается.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register добавляет определение в реестр.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("определение саги без имени")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("сага %s не содержит шагов", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("сага %s уже зарегистрирована", def.Name)
	}

	r.defs[def.Name] = def
	return nil
}

// Get возвращает определение по имени.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("сага %s не зарегистрирована", name)
	}
	return def, nil
}
