package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory создаёт чистый экземпляр стратегии.
// Каждый инстанс получает собственный экземпляр: стратегии хранят
// состояние между вызовами и не должны делиться между инстансами.
type Factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register добавляет фабрику стратегии под именем name.
// Повторная регистрация имени - ошибка программирования, panic.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy: duplicate registration for %q", name))
	}
	registry[name] = factory
}

// Build создаёт экземпляр стратегии по имени из конфигурации
func Build(name string) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (known: %v)", name, Known())
	}
	return factory(), nil
}

// Known возвращает отсортированный список зарегистрированных стратегий
func Known() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("threshold", func() Strategy { return NewThreshold(0, 0) })
}
