package config

import "sync"

// Loader computes a RunConfiguration.
type Loader func() (*RunConfiguration, error)

var (
	mu      sync.Mutex
	current *RunConfiguration
	loader  Loader = func() (*RunConfiguration, error) { return Load(Options{}) }
)

// Current returns the process configuration, computing it on first use.
// A failed computation is not memoised.
func Current() (*RunConfiguration, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current, nil
	}
	cfg, err := loader()
	if err != nil {
		return nil, err
	}
	current = cfg
	return current, nil
}

// SetLoader replaces the loader used by Current and drops any cached value.
func SetLoader(l Loader) {
	mu.Lock()
	defer mu.Unlock()
	loader = l
	current = nil
}

// Reset drops the cached configuration so the next Current recomputes it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}
