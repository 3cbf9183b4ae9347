package recovery

import "sync"

// Collector accumulates the failures of one unit. The first failure added is
// the primary one; later failures are attached to it as suppressed.
type Collector struct {
	mu         sync.Mutex
	primary    error
	suppressed []error
	fatal      error
}

// Add records err. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil && IsUnrecoverable(err) {
		c.fatal = err
	}
	if c.primary == nil {
		c.primary = err
		return
	}
	c.suppressed = append(c.suppressed, err)
}

// Empty reports whether no failure was recorded.
func (c *Collector) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary == nil
}

// Fatal returns the first unrecoverable failure recorded, if any.
func (c *Collector) Fatal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Err returns nil, the single recorded failure, or a *SuppressedError.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return nil
	}
	if len(c.suppressed) == 0 {
		return c.primary
	}
	suppressed := make([]error, len(c.suppressed))
	copy(suppressed, c.suppressed)
	return &SuppressedError{Primary: c.primary, Suppressed: suppressed}
}
