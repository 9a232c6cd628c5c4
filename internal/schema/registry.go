// Package schema holds the Schema Registry: the process-wide, immutable map
// from model identity to ModelDescriptor.
//
// The registry has two phases. During startup descriptors are added with
// Register (or LoadYAML). Init then resolves relations, validates every
// descriptor and freezes the registry; from that point on it is read-only
// and lookups take no locks.
//
//	reg := schema.NewRegistry()
//	_ = reg.Register(&schema.ModelDescriptor{ID: "blog.Post", ...})
//	if err := reg.Init(); err != nil { ... }
//	post, err := reg.Lookup("blog.Post")
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-openapi/inflect"
	"github.com/koustreak/orma/internal/errs"
)

// Registry maps model ids to descriptors.
type Registry struct {
	mu      sync.Mutex // guards the maps until frozen
	once    sync.Once
	initErr error
	frozen  atomic.Bool

	byID    map[string]*ModelDescriptor
	byTable map[string]*ModelDescriptor
	order   []string // sorted ids, filled by Init
}

// NewRegistry returns an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*ModelDescriptor),
		byTable: make(map[string]*ModelDescriptor),
	}
}

// Register adds a descriptor. It fails with a DuplicateModel error when the
// model id or its table name is already registered, and with InvalidInput
// once the registry has been initialised.
func (r *Registry) Register(desc *ModelDescriptor) error {
	if desc == nil {
		return errs.New(errs.ErrKindInvalidInput, "nil model descriptor")
	}
	if r.frozen.Load() {
		return errs.Newf(errs.ErrKindInvalidInput, "registry is frozen; cannot register %q", desc.ID)
	}

	d := desc.clone()
	if err := normalize(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return errs.Newf(errs.ErrKindInvalidInput, "registry is frozen; cannot register %q", desc.ID)
	}
	if _, ok := r.byID[d.ID]; ok {
		return errs.Newf(errs.ErrKindDuplicateModel, "model %q already registered", d.ID)
	}
	if other, ok := r.byTable[d.Table]; ok {
		return errs.Newf(errs.ErrKindDuplicateModel, "table %q already registered by %q", d.Table, other.ID)
	}
	r.byID[d.ID] = d
	r.byTable[d.Table] = d
	return nil
}

// MustRegister is Register that panics; meant for package-level model setup.
func (r *Registry) MustRegister(descs ...*ModelDescriptor) *Registry {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Init resolves relations and freezes the registry. It runs once; later
// calls return the first result.
func (r *Registry) Init() error {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.resolve(); err != nil {
			r.initErr = err
			return
		}
		r.order = make([]string, 0, len(r.byID))
		for id := range r.byID {
			r.order = append(r.order, id)
		}
		sort.Strings(r.order)
		r.frozen.Store(true)
	})
	return r.initErr
}

// Frozen reports whether Init completed successfully.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (*ModelDescriptor, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	d, ok := r.byID[id]
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownModel, "unknown model %q", id)
	}
	return d, nil
}

// LookupTable returns the descriptor owning table.
func (r *Registry) LookupTable(table string) (*ModelDescriptor, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	d, ok := r.byTable[table]
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownModel, "no model owns table %q", table)
	}
	return d, nil
}

// Models returns all descriptors sorted by id. Only valid after Init.
func (r *Registry) Models() []*ModelDescriptor {
	if !r.frozen.Load() {
		return nil
	}
	out := make([]*ModelDescriptor, len(r.order))
	for i, id := range r.order {
		out[i] = r.byID[id]
	}
	return out
}

// normalize fills naming defaults and validates what can be checked without
// the other models.
func normalize(d *ModelDescriptor) error {
	if d.Name == "" && d.ID != "" {
		d.Name = d.ID[strings.LastIndex(d.ID, ".")+1:]
	}
	if d.Name == "" {
		return errs.New(errs.ErrKindInvalidInput, "model descriptor needs an id or name")
	}
	if d.ID == "" {
		if d.App == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q needs an app label", d.Name)
		}
		d.ID = d.App + "." + d.Name
	}
	if d.App == "" {
		if i := strings.LastIndex(d.ID, "."); i > 0 {
			d.App = d.ID[:i]
		} else {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q needs an app label", d.ID)
		}
	}
	if d.Table == "" {
		d.Table = inflect.Underscore(inflect.Pluralize(d.Name))
	}
	if len(d.Fields) == 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "model %q has no fields", d.ID)
	}

	seen := make(map[string]bool, len(d.Fields)+len(d.Relations))
	for _, f := range d.Fields {
		if f.Name == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q has a field without a name", d.ID)
		}
		if seen[f.Name] {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q declares field %q twice", d.ID, f.Name)
		}
		if _, ok := fieldTypeNames[f.Type]; !ok {
			return errs.Newf(errs.ErrKindInvalidInput, "field %s.%s has an invalid type", d.ID, f.Name)
		}
		seen[f.Name] = true
	}

	if d.PrimaryKey == "" {
		return errs.Newf(errs.ErrKindInvalidInput, "model %q has no primary key", d.ID)
	}
	pk, ok := d.Field(d.PrimaryKey)
	if !ok {
		return errs.Newf(errs.ErrKindInvalidInput, "primary key %q is not a field of %q", d.PrimaryKey, d.ID)
	}
	if pk.Nullable {
		return errs.Newf(errs.ErrKindInvalidInput, "primary key %s.%s cannot be nullable", d.ID, pk.Name)
	}

	relNames := make(map[string]bool, len(d.Relations))
	for i := range d.Relations {
		rel := &d.Relations[i]
		if rel.Name == "" || rel.Target == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q has a relation without name or target", d.ID)
		}
		if relNames[rel.Name] {
			return errs.Newf(errs.ErrKindInvalidInput, "model %q declares relation %q twice", d.ID, rel.Name)
		}
		relNames[rel.Name] = true

		switch rel.Kind {
		case RelationForeignKey:
			if rel.Column == "" {
				rel.Column = inflect.Underscore(rel.Name) + "_id"
			}
			if rel.OnDelete == "" {
				rel.OnDelete = OnDeleteNoAction
			}
			if !rel.OnDelete.valid() {
				return errs.Newf(errs.ErrKindInvalidInput, "relation %s.%s has invalid on_delete %q", d.ID, rel.Name, rel.OnDelete)
			}
			if rel.OnDelete == OnDeleteSetNull && !rel.Nullable {
				return errs.Newf(errs.ErrKindInvalidInput, "relation %s.%s uses SET NULL but is not nullable", d.ID, rel.Name)
			}
			if seen[rel.Column] {
				return errs.Newf(errs.ErrKindInvalidInput, "relation %s.%s column %q clashes with a field", d.ID, rel.Name, rel.Column)
			}
			seen[rel.Column] = true
		case RelationManyToMany:
			if rel.JoinTable == "" {
				rel.JoinTable = d.Table + "_" + inflect.Underscore(rel.Name)
			}
		default:
			return errs.Newf(errs.ErrKindInvalidInput, "relation %s.%s has unknown kind", d.ID, rel.Name)
		}
	}

	for i := range d.Indexes {
		ix := &d.Indexes[i]
		if len(ix.Fields) == 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "index %d of %q lists no fields", i, d.ID)
		}
		for _, f := range ix.Fields {
			if !seen[f] {
				return errs.Newf(errs.ErrKindInvalidInput, "index on %q references unknown column %q", d.ID, f)
			}
		}
		if ix.Name == "" {
			prefix := "ix"
			if ix.Unique {
				prefix = "uq"
			}
			ix.Name = fmt.Sprintf("%s_%s_%s", prefix, d.Table, strings.Join(ix.Fields, "_"))
		}
	}
	return nil
}

// resolve fills the relation fields that depend on other models. Caller
// holds r.mu.
func (r *Registry) resolve() error {
	for _, d := range r.byID {
		for i := range d.Relations {
			rel := &d.Relations[i]
			target, ok := r.byID[rel.Target]
			if !ok {
				return errs.Newf(errs.ErrKindUnknownModel, "relation %s.%s targets unknown model %q", d.ID, rel.Name, rel.Target)
			}
			pk, _ := target.Field(target.PrimaryKey)
			rel.ColumnType = pk.Type
			rel.TargetTable = target.Table
			rel.TargetPK = target.PrimaryKey

			if rel.Kind == RelationManyToMany {
				if rel.SourceColumn == "" {
					rel.SourceColumn = inflect.Underscore(inflect.Singularize(d.Table)) + "_id"
				}
				if rel.TargetColumn == "" {
					rel.TargetColumn = inflect.Underscore(inflect.Singularize(target.Table)) + "_id"
				}
				if rel.SourceColumn == rel.TargetColumn {
					rel.TargetColumn = "to_" + rel.TargetColumn
				}
				if other, ok := r.byTable[rel.JoinTable]; ok {
					return errs.Newf(errs.ErrKindDuplicateModel, "join table %q of %s.%s clashes with model %q", rel.JoinTable, d.ID, rel.Name, other.ID)
				}
			}
		}
	}
	return nil
}
