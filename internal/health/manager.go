package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// Manager runs registered checks in parallel and aggregates the results.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
	mu       sync.RWMutex
}

// NewManager creates a manager with the default per-check timeout.
func NewManager() *Manager {
	return &Manager{timeout: DefaultTimeout}
}

// WithTimeout sets a custom timeout for each check.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return m
}

// AddChecker registers a new checker.
func (m *Manager) AddChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs every registered check with its own timeout and returns the
// results keyed by checker name.
func (m *Manager) Check(ctx context.Context) map[string]*Result {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	timeout := m.timeout
	m.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			if result == nil {
				result = Unhealthy("check returned no result")
			}
			if result.Latency == 0 {
				result.Latency = time.Since(start)
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

// OverallStatus is unhealthy if any check is unhealthy, degraded if any is
// degraded, and healthy otherwise.
func (m *Manager) OverallStatus(results map[string]*Result) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// CheckNames returns the names of all registered checkers.
func (m *Manager) CheckNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.checkers))
	for i, checker := range m.checkers {
		names[i] = checker.Name()
	}
	return names
}

// SortedNames returns the result keys in a stable order for display.
func SortedNames(results map[string]*Result) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
