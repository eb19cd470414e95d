package causez

// Metadata is the causal context propagated between units of work.
// The zero value is blank metadata: no task id, no tenant class, no parents.
//
// Metadata is immutable once built. Use ToBuilder to derive a modified copy.
type Metadata struct {
	parents     []int64
	options     []option
	taskID      int64
	tenantClass int32
	hasTaskID   bool
	hasTenant   bool
}

type option struct {
	payload []byte
	typ     OptionType
}

// BlankMetadata returns metadata with no task id, tenant class or parents.
func BlankMetadata() Metadata {
	return Metadata{}
}

// NewTaskMetadata returns metadata for the given task. When causal is true
// the metadata carries a single zero parent id so events built from it start
// a causal chain; otherwise it only propagates the task id.
func NewTaskMetadata(taskID int64, causal bool) Metadata {
	b := NewBuilder().TaskID(taskID)
	if causal {
		b.AddParent(0)
	}
	return b.Build()
}

// TenantMetadata returns metadata carrying only a tenant class.
func TenantMetadata(tenantClass int32) Metadata {
	return NewBuilder().TenantClass(tenantClass).Build()
}

// TaskID returns the task id and whether one is present.
func (m Metadata) TaskID() (int64, bool) {
	return m.taskID, m.hasTaskID
}

// HasTaskID reports whether a task id is present.
func (m Metadata) HasTaskID() bool {
	return m.hasTaskID
}

// TenantClass returns the tenant class and whether one is present.
func (m Metadata) TenantClass() (int32, bool) {
	return m.tenantClass, m.hasTenant
}

// HasTenantClass reports whether a tenant class is present.
func (m Metadata) HasTenantClass() bool {
	return m.hasTenant
}

// ParentCount returns the number of parent event ids.
func (m Metadata) ParentCount() int {
	return len(m.parents)
}

// ParentEventIDs returns a copy of the parent event ids in order.
func (m Metadata) ParentEventIDs() []int64 {
	if len(m.parents) == 0 {
		return nil
	}
	out := make([]int64, len(m.parents))
	copy(out, m.parents)
	return out
}

// Option returns a copy of the payload stored for typ.
func (m Metadata) Option(typ OptionType) ([]byte, bool) {
	for _, o := range m.options {
		if o.typ == typ {
			return append([]byte(nil), o.payload...), true
		}
	}
	return nil, false
}

// HasOption reports whether an option of type typ is present.
func (m Metadata) HasOption(typ OptionType) bool {
	for _, o := range m.options {
		if o.typ == typ {
			return true
		}
	}
	return false
}

func (m Metadata) hasParent(id int64) bool {
	for _, p := range m.parents {
		if p == id {
			return true
		}
	}
	return false
}

// clone returns a deep copy that shares no storage with m.
func (m Metadata) clone() Metadata {
	c := m
	if m.parents != nil {
		c.parents = make([]int64, len(m.parents))
		copy(c.parents, m.parents)
	}
	if m.options != nil {
		c.options = make([]option, len(m.options))
		for i, o := range m.options {
			c.options[i] = option{typ: o.typ, payload: append([]byte(nil), o.payload...)}
		}
	}
	return c
}

// Equal reports whether two values carry the same task, tenant, parents and options.
func (m Metadata) Equal(other Metadata) bool {
	if m.hasTaskID != other.hasTaskID || m.taskID != other.taskID {
		return false
	}
	if m.hasTenant != other.hasTenant || m.tenantClass != other.tenantClass {
		return false
	}
	if len(m.parents) != len(other.parents) || len(m.options) != len(other.options) {
		return false
	}
	for i := range m.parents {
		if m.parents[i] != other.parents[i] {
			return false
		}
	}
	for i := range m.options {
		if m.options[i].typ != other.options[i].typ || string(m.options[i].payload) != string(other.options[i].payload) {
			return false
		}
	}
	return true
}

// ToBuilder returns a Builder seeded with a copy of m.
func (m Metadata) ToBuilder() *Builder {
	return &Builder{md: m.clone()}
}

// Builder assembles a Metadata value. Build always returns a value that
// shares no storage with the builder.
type Builder struct {
	md Metadata
}

// NewBuilder returns a Builder for blank metadata.
func NewBuilder() *Builder {
	return &Builder{}
}

// TaskID sets the task id.
func (b *Builder) TaskID(id int64) *Builder {
	b.md.taskID = id
	b.md.hasTaskID = true
	return b
}

// ClearTaskID removes the task id.
func (b *Builder) ClearTaskID() *Builder {
	b.md.taskID = 0
	b.md.hasTaskID = false
	return b
}

// TenantClass sets the tenant class.
func (b *Builder) TenantClass(class int32) *Builder {
	b.md.tenantClass = class
	b.md.hasTenant = true
	return b
}

// ClearTenantClass removes the tenant class.
func (b *Builder) ClearTenantClass() *Builder {
	b.md.tenantClass = 0
	b.md.hasTenant = false
	return b
}

// AddParent appends parent event ids in order.
func (b *Builder) AddParent(ids ...int64) *Builder {
	b.md.parents = append(b.md.parents, ids...)
	return b
}

// ClearParents removes every parent event id.
func (b *Builder) ClearParents() *Builder {
	b.md.parents = nil
	return b
}

// SetOption stores payload under typ, replacing any existing entry.
func (b *Builder) SetOption(typ OptionType, payload []byte) *Builder {
	b.RemoveOption(typ)
	b.md.options = append(b.md.options, option{typ: typ, payload: append([]byte(nil), payload...)})
	return b
}

// RemoveOption deletes the entry for typ, if any.
func (b *Builder) RemoveOption(typ OptionType) *Builder {
	for i, o := range b.md.options {
		if o.typ == typ {
			b.md.options = append(b.md.options[:i:i], b.md.options[i+1:]...)
			return b
		}
	}
	return b
}

// Build returns the assembled Metadata.
func (b *Builder) Build() Metadata {
	return b.md.clone()
}
