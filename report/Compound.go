package report

// Compound is a Reporter composed of an ordered sequence of
// sub-reporters. A multi-stage trainer pairs each of its sub-trainers
// with one component of a Compound, and replaces the Compound's flush
// behaviour with its own stage-aware flush while a fit is running.
type Compound struct {
	reporters []Reporter
	flush     FlushFunc
}

// NewCompound returns a Compound over the argument sub-reporters
func NewCompound(reporters ...Reporter) *Compound {
	return &Compound{reporters: reporters}
}

// Reporters returns the ordered sub-reporters of the Compound
func (c *Compound) Reporters() []Reporter {
	return c.reporters
}

// SetFlushFunc overrides how the Compound flushes its sub-reporters.
// Passing nil restores the default of flushing every sub-reporter.
func (c *Compound) SetFlushFunc(f FlushFunc) {
	c.flush = f
}

// Log forwards the record to every sub-reporter
func (c *Compound) Log(r Record) {
	for _, reporter := range c.reporters {
		reporter.Log(r)
	}
}

// Flush flushes the Compound using the overriding FlushFunc if one is
// set, otherwise flushes every sub-reporter
func (c *Compound) Flush(epoch int) {
	if c.flush != nil {
		c.flush(epoch)
		return
	}
	for _, reporter := range c.reporters {
		reporter.Flush(epoch)
	}
}
