package cluster

// logicalClock is a per-process monotonic tick counter, advanced once per
// Cluster.Tick and externally settable for test-induced skew (§3).
type logicalClock struct {
	now uint64
}

// Now implements process.Clock.
func (c *logicalClock) Now() uint64 { return c.now }

func (c *logicalClock) advance() { c.now++ }

func (c *logicalClock) set(t uint64) { c.now = t }

func (c *logicalClock) advanceBy(delta uint64) { c.now += delta }
