package causez

import (
	"context"
	"strconv"
	"sync/atomic"
)

// cellKeyType is a private type for context keys to avoid collisions.
type cellKeyType string

const cellKey cellKeyType = "causez"

var nextCellID atomic.Uint64

// Cell holds the causal metadata of one execution unit.
//
// A Cell is owned by a single goroutine and is NOT safe for concurrent use.
// Values handed out by Get, or handed in by Set, are never mutated afterwards:
// the cell tracks whether it exclusively owns its current storage and copies
// before the first mutation when it does not.
type Cell struct {
	md     Metadata
	name   string
	id     uint64
	active bool
	owned  bool
}

// NewCell creates an empty cell. The name identifies the execution unit in
// emitted events; an empty name is replaced by "cell-<id>".
func NewCell(name string) *Cell {
	id := nextCellID.Add(1)
	if name == "" {
		name = "cell-" + strconv.FormatUint(id, 10)
	}
	return &Cell{name: name, id: id}
}

// NewContext creates a cell and attaches it to ctx.
func NewContext(ctx context.Context, name string) (context.Context, *Cell) {
	cell := NewCell(name)
	return WithCell(ctx, cell), cell
}

// WithCell returns a context carrying cell.
func WithCell(ctx context.Context, cell *Cell) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, cellKey, cell)
}

// CellFrom extracts the cell from ctx. Returns nil if none is attached.
func CellFrom(ctx context.Context) *Cell {
	if ctx == nil {
		return nil
	}
	if cell, ok := ctx.Value(cellKey).(*Cell); ok {
		return cell
	}
	return nil
}

// Name returns the execution unit name.
func (c *Cell) Name() string {
	return c.name
}

// ID returns the process-unique id of the execution unit.
func (c *Cell) ID() uint64 {
	return c.id
}

// Set replaces the cell contents with md.
func (c *Cell) Set(md Metadata) {
	c.md = md
	c.active = true
	c.owned = false
}

// SetBytes replaces the cell contents with the decoded metadata.
// Nil or undecodable bytes clear the cell.
func (c *Cell) SetBytes(data []byte) {
	if data == nil {
		c.Clear()
		return
	}
	md, err := ParseMetadata(data)
	if err != nil {
		c.Clear()
		return
	}
	c.md = md
	c.active = true
	c.owned = true
}

// Get returns the current metadata and whether any is installed.
// The returned value is never modified by later operations on the cell.
func (c *Cell) Get() (Metadata, bool) {
	if !c.active {
		return Metadata{}, false
	}
	c.owned = false
	return c.md, true
}

// peek returns the current metadata without giving up ownership.
// Callers must not retain the value.
func (c *Cell) peek() (Metadata, bool) {
	return c.md, c.active
}

// Bytes returns the encoded metadata, or nil if the cell is empty.
func (c *Cell) Bytes() []byte {
	if !c.active {
		return nil
	}
	return c.md.Bytes()
}

// Exists reports whether metadata is installed. The metadata may be blank.
func (c *Cell) Exists() bool {
	return c.active
}

// Clear removes any installed metadata.
func (c *Cell) Clear() {
	c.md = Metadata{}
	c.active = false
	c.owned = false
}

// HasTaskID reports whether the installed metadata carries a task id.
func (c *Cell) HasTaskID() bool {
	return c.active && c.md.hasTaskID
}

// TaskID returns the task id of the installed metadata.
func (c *Cell) TaskID() (int64, bool) {
	if !c.active {
		return 0, false
	}
	return c.md.TaskID()
}

// HasTenantClass reports whether the installed metadata carries a tenant class.
func (c *Cell) HasTenantClass() bool {
	return c.active && c.md.hasTenant
}

// TenantClass returns the tenant class of the installed metadata.
func (c *Cell) TenantClass() (int32, bool) {
	if !c.active {
		return 0, false
	}
	return c.md.TenantClass()
}

// StartTask installs task id on the cell unless a task id is already
// present. With causal set the parent list becomes [0], otherwise it is
// cleared. The tenant class and options already in the cell are kept.
func (c *Cell) StartTask(id int64, causal bool) {
	if c.HasTaskID() {
		return
	}
	if !c.active {
		c.md = Metadata{}
		c.active = true
		c.owned = true
	}
	c.own()
	c.md.taskID = id
	c.md.hasTaskID = true
	c.md.parents = c.md.parents[:0]
	if causal {
		c.md.parents = append(c.md.parents, 0)
	}
}

// SetTenantClass sets the tenant class of the installed metadata,
// overwriting any previous one. An empty cell receives blank metadata
// carrying only the tenant class.
func (c *Cell) SetTenantClass(class int32) {
	if !c.active {
		c.md = Metadata{}
		c.active = true
		c.owned = true
	}
	c.own()
	c.md.tenantClass = class
	c.md.hasTenant = true
}

// ShouldLogBeforeSerialization reports whether the metadata currently has
// more than one parent, so logging an event before serializing it would
// collapse the lineage into a single id.
func (c *Cell) ShouldLogBeforeSerialization() bool {
	return c.active && len(c.md.parents) > 1
}

// Join merges md into the cell.
//
//   - If the cell is empty, Join behaves like Set.
//   - If md has no parents, Join does nothing.
//   - If the cell has no parents, Join behaves like Set.
//   - Otherwise the parents of md that the cell lacks are appended in md's order.
//
// The task id and tenant class already in the cell are kept as they are.
func (c *Cell) Join(md Metadata) {
	if !c.active {
		c.Set(md)
		return
	}
	if len(md.parents) == 0 {
		return
	}
	if len(c.md.parents) == 0 {
		c.Set(md)
		return
	}

	var toAdd []int64
	for _, p := range md.parents {
		if !c.md.hasParent(p) && !containsID(toAdd, p) {
			toAdd = append(toAdd, p)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	c.own()
	c.md.parents = append(c.md.parents, toAdd...)
}

// JoinBytes merges the decoded metadata into the cell.
// Nil or undecodable bytes are ignored.
func (c *Cell) JoinBytes(data []byte) {
	if data == nil {
		return
	}
	md, err := ParseMetadata(data)
	if err != nil {
		return
	}
	if !c.active {
		c.md = md
		c.active = true
		c.owned = true
		return
	}
	c.Join(md)
}

// SetParentEventID replaces every parent id with id. When the cell owns its
// storage and reuseIfPossible is true the metadata is updated in place;
// otherwise a new value carrying only the task id, the tenant class and id
// is installed. Does nothing when the cell is empty.
func (c *Cell) SetParentEventID(id int64, reuseIfPossible bool) {
	if !c.active {
		return
	}
	if c.owned && reuseIfPossible {
		c.md.parents = append(c.md.parents[:0], id)
		return
	}
	c.md = Metadata{
		parents:     []int64{id},
		taskID:      c.md.taskID,
		hasTaskID:   c.md.hasTaskID,
		tenantClass: c.md.tenantClass,
		hasTenant:   c.md.hasTenant,
	}
	c.owned = true
}

// advance collapses the parent list to eventID, keeping every other field.
func (c *Cell) advance(eventID int64) {
	if !c.active {
		return
	}
	c.own()
	c.md.parents = append(c.md.parents[:0], eventID)
}

// setOption stores payload under typ in the installed metadata.
func (c *Cell) setOption(typ OptionType, payload []byte) {
	if !c.active {
		return
	}
	c.own()
	for i, o := range c.md.options {
		if o.typ == typ {
			c.md.options[i].payload = append([]byte(nil), payload...)
			return
		}
	}
	c.md.options = append(c.md.options, option{typ: typ, payload: append([]byte(nil), payload...)})
}

// own makes the cell the exclusive owner of its storage, copying if needed.
func (c *Cell) own() {
	if !c.owned {
		c.md = c.md.clone()
		c.owned = true
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
