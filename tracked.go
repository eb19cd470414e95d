package causez

// Tracked can be embedded in values that are handed between goroutines,
// such as queued jobs, to carry the causal context of the goroutine that
// created them to the goroutine that processes them.
type Tracked struct {
	md    Metadata
	saved bool
}

// SaveMetadata stores md.
func (t *Tracked) SaveMetadata(md Metadata) {
	t.md = md
	t.saved = true
}

// SaveActive stores the metadata currently in cell. An empty cell clears
// anything saved earlier.
func (t *Tracked) SaveActive(cell *Cell) {
	if cell == nil {
		t.md, t.saved = Metadata{}, false
		return
	}
	t.md, t.saved = cell.Get()
}

// SavedMetadata returns the stored metadata.
func (t *Tracked) SavedMetadata() (Metadata, bool) {
	return t.md, t.saved
}

// SavedTenantClass returns the tenant class of the stored metadata.
func (t *Tracked) SavedTenantClass() (int32, bool) {
	if !t.saved {
		return 0, false
	}
	return t.md.TenantClass()
}

// JoinSaved merges the stored metadata into cell. Does nothing if nothing
// was saved.
func (t *Tracked) JoinSaved(cell *Cell) {
	if !t.saved || cell == nil {
		return
	}
	cell.Join(t.md)
}
