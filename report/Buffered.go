package report

// Buffered is a Reporter that caches records in RAM until flushed,
// then files them under the epoch they were flushed at. Useful for
// inspecting training traces in tests and small experiments.
type Buffered struct {
	pending []Record
	flushed map[int][]Record
}

// NewBuffered returns a new empty Buffered reporter
func NewBuffered() *Buffered {
	return &Buffered{flushed: make(map[int][]Record)}
}

// Log caches a record until the next Flush
func (b *Buffered) Log(r Record) {
	b.pending = append(b.pending, r)
}

// Flush files all pending records under the argument epoch
func (b *Buffered) Flush(epoch int) {
	b.flushed[epoch] = append(b.flushed[epoch], b.pending...)
	b.pending = nil
}

// Pending returns the number of records that have not been flushed
func (b *Buffered) Pending() int {
	return len(b.pending)
}

// Epoch returns the records flushed under the argument epoch
func (b *Buffered) Epoch(epoch int) []Record {
	return b.flushed[epoch]
}
