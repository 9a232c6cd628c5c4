package migrate

import (
	"context"
	"strings"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
)

// Repository reads and writes migration files in a filestore.
type Repository struct {
	store filestore.Store
}

// NewRepository returns a repository over store.
func NewRepository(store filestore.Store) *Repository {
	return &Repository{store: store}
}

// Load reads every migration file and returns them in plan order.
func (r *Repository) Load(ctx context.Context) ([]*Migration, error) {
	objs, err := r.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var migs []*Migration
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, ".yaml") {
			continue
		}
		data, err := filestore.ReadAll(ctx, r.store, o.Key)
		if err != nil {
			return nil, err
		}
		m, err := Decode(o.Key, data)
		if err != nil {
			return nil, err
		}
		migs = append(migs, m)
	}
	return Plan(migs)
}

// Write stores m. An existing migration with the same app and sequence is a
// MigrationConflict, whatever its name.
func (r *Repository) Write(ctx context.Context, m *Migration) error {
	if !namePattern.MatchString(m.Name) {
		return errs.Newf(errs.ErrKindInvalidInput,
			"migration name %q must be lower-case letters, digits and underscores", m.Name)
	}
	if m.Sequence < 1 {
		return errs.Newf(errs.ErrKindInvalidInput, "migration %s: sequence must be positive", m.ID())
	}
	objs, err := r.store.List(ctx, m.App+"/")
	if err != nil {
		return err
	}
	for _, o := range objs {
		app, seq, _, err := ParseKey(o.Key)
		if err != nil {
			continue
		}
		if app == m.App && seq == m.Sequence {
			return errs.Newf(errs.ErrKindMigrationConflict,
				"migration %s conflicts with existing file %s", m.ID(), o.Key)
		}
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return r.store.Put(ctx, m.Key(), data)
}

// State replays migs in order and returns the resulting schema.
func State(migs []*Migration) (*ddl.Schema, error) {
	s := ddl.NewSchema()
	for _, m := range migs {
		for _, op := range m.Operations {
			if err := s.Apply(op); err != nil {
				return nil, wrapOp(err, m, op)
			}
		}
	}
	return s, nil
}

// wrapOp names the migration and operation on a replay error.
func wrapOp(err error, m *Migration, op ddl.Operation) error {
	return errs.Wrap(errs.KindOf(err), "migration "+m.ID(), err).WithOp(op.Describe())
}
