package migrate

import (
	"testing"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
	"github.com/koustreak/orma/internal/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(extra ...schema.FieldDescriptor) *schema.ModelDescriptor {
	return &schema.ModelDescriptor{
		ID:         "metrics.Sample",
		PrimaryKey: "id",
		Fields: append([]schema.FieldDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "age", Type: schema.TypeInteger},
			{Name: "created_at", Type: schema.TypeTimestamp},
		}, extra...),
	}
}

func kinds(ops []ddl.Operation) []ddl.Kind {
	out := make([]ddl.Kind, len(ops))
	for i, op := range ops {
		out[i] = op.Kind()
	}
	return out
}

func applyAll(t *testing.T, s *ddl.Schema, ops []ddl.Operation) *ddl.Schema {
	t.Helper()
	next := s.Clone()
	require.NoError(t, next.ApplyAll(ops))
	return next
}

func TestFromRegistry(t *testing.T) {
	s := FromRegistry(schematest.Blog())

	assert.Equal(t, []string{"companies", "posts", "posts_tags", "tags", "users"}, s.TableNames())

	users, _ := s.Table("users")
	assert.Equal(t, "auth", users.App)
	assert.Equal(t, "id", users.PrimaryKey)
	email, _ := users.Column("email")
	assert.True(t, email.Unique)
	company, ok := users.Column("company_id")
	require.True(t, ok)
	assert.True(t, company.Nullable)
	assert.Equal(t, &ddl.ForeignKey{
		Name: "fk_users_company_id", Table: "companies", Column: "id", OnDelete: "SET NULL",
	}, company.References)

	posts, _ := s.Table("posts")
	assert.Equal(t, []ddl.Index{{Name: "ix_posts_status_created_at", Columns: []string{"status", "created_at"}}}, posts.Indexes)

	join, ok := s.Table("posts_tags")
	require.True(t, ok)
	assert.Equal(t, "blog", join.App)
	require.Len(t, join.Columns, 3)
	assert.Equal(t, "posts", join.Columns[1].References.Table)
	assert.Equal(t, "tags", join.Columns[2].References.Table)
	assert.Equal(t, "CASCADE", join.Columns[2].References.OnDelete)
	assert.Equal(t, []string{"post_id", "tag_id"}, join.Indexes[0].Columns)
	assert.True(t, join.Indexes[0].Unique)
}

func TestDiff_NewModelThenNewField(t *testing.T) {
	empty := ddl.NewSchema()
	target := FromRegistry(schematest.Registry(sample()))

	ops := Diff(empty, target)
	require.Len(t, ops, 1)
	ct, ok := ops[0].(*ddl.CreateTable)
	require.True(t, ok)
	var names []string
	for _, c := range ct.Table.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "age", "created_at"}, names)

	state := applyAll(t, empty, ops)
	target = FromRegistry(schematest.Registry(sample(
		schema.FieldDescriptor{Name: "email", Type: schema.TypeText, Nullable: true},
	)))

	ops = Diff(state, target)
	require.Len(t, ops, 1)
	add, ok := ops[0].(*ddl.AddColumn)
	require.True(t, ok)
	assert.Equal(t, "samples", add.Table)
	assert.Equal(t, ddl.Column{Name: "email", Type: schema.TypeText, Nullable: true}, add.Column)
}

func TestDiff_CreatesInReferenceOrder(t *testing.T) {
	target := FromRegistry(schematest.Blog())
	ops := Diff(ddl.NewSchema(), target)

	var order []string
	for _, op := range ops {
		require.Equal(t, ddl.KindCreateTable, op.Kind())
		order = append(order, op.TableName())
	}
	assert.Equal(t, []string{"companies", "tags", "users", "posts", "posts_tags"}, order)

	state := applyAll(t, ddl.NewSchema(), ops)
	assert.Empty(t, Diff(state, target))
	assert.Empty(t, Diff(target, target))
}

func TestDiff_ChangesAndRemovals(t *testing.T) {
	state := ddl.NewSchema()
	state.Tables["users"] = &ddl.Table{
		Name: "users", App: "auth", PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 100},
			{Name: "age", Type: schema.TypeInteger, Nullable: true},
			{Name: "created_at", Type: schema.TypeTimestamp},
		},
		Indexes: []ddl.Index{{Name: "ix_users_age", Columns: []string{"age"}}},
	}
	state.Tables["legacy"] = &ddl.Table{
		Name: "legacy", App: "auth", PrimaryKey: "id",
		Columns: []ddl.Column{{Name: "id", Type: schema.TypeInteger}},
	}

	target := ddl.NewSchema()
	target.Tables["users"] = &ddl.Table{
		Name: "users", App: "auth", PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 200},
			{Name: "created_at", Type: schema.TypeTimestamp},
			{Name: "email", Type: schema.TypeText, Nullable: true},
		},
		Indexes: []ddl.Index{{Name: "ix_users_email", Columns: []string{"email"}}},
	}
	target.Tables["posts"] = &ddl.Table{
		Name: "posts", App: "blog", PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "author_id", Type: schema.TypeInteger, References: &ddl.ForeignKey{Table: "users", Column: "id"}},
		},
	}

	ops := Diff(state, target)
	assert.Equal(t, []ddl.Kind{
		ddl.KindCreateTable,
		ddl.KindAlterColumnType,
		ddl.KindAddColumn,
		ddl.KindAddIndex,
		ddl.KindDropIndex,
		ddl.KindDropColumn,
		ddl.KindDropTable,
	}, kinds(ops))

	alter := ops[1].(*ddl.AlterColumnType)
	assert.Equal(t, 100, alter.From.Size)
	assert.Equal(t, 200, alter.To.Size)
	assert.Equal(t, "age", ops[5].(*ddl.DropColumn).Column.Name)
	assert.Equal(t, "legacy", ops[6].TableName())

	after := applyAll(t, state, ops)
	assert.Empty(t, Diff(after, target))

	// The reverse of the diff restores the original schema.
	back := applyAll(t, after, ddl.ReverseAll(ops))
	assert.Empty(t, Diff(back, state))
}

func TestDiff_ChangedIndexAndReference(t *testing.T) {
	table := func(unique bool, ref string) *ddl.Table {
		return &ddl.Table{
			Name: "posts", PrimaryKey: "id",
			Columns: []ddl.Column{
				{Name: "id", Type: schema.TypeInteger},
				{Name: "slug", Type: schema.TypeText},
				{Name: "owner_id", Type: schema.TypeInteger, References: &ddl.ForeignKey{Table: ref, Column: "id"}},
			},
			Indexes: []ddl.Index{
				{Name: "ix_posts_slug", Columns: []string{"slug"}, Unique: unique},
				{Name: "ix_posts_owner_id", Columns: []string{"owner_id"}},
			},
		}
	}
	base := func() *ddl.Schema {
		s := ddl.NewSchema()
		for _, n := range []string{"users", "teams"} {
			s.Tables[n] = &ddl.Table{Name: n, PrimaryKey: "id", Columns: []ddl.Column{{Name: "id", Type: schema.TypeInteger}}}
		}
		return s
	}
	state, target := base(), base()
	state.Tables["posts"] = table(false, "users")
	target.Tables["posts"] = table(true, "teams")

	ops := Diff(state, target)
	assert.Equal(t, []ddl.Kind{
		ddl.KindDropIndex,     // ix_posts_owner_id covers the re-pointed column
		ddl.KindDropColumn,    // owner_id -> users
		ddl.KindAddForeignKey, // owner_id -> teams
		ddl.KindDropIndex,     // ix_posts_slug becomes unique
		ddl.KindAddIndex,
		ddl.KindAddIndex, // ix_posts_owner_id restored
	}, kinds(ops))

	after := applyAll(t, state, ops)
	assert.Empty(t, Diff(after, target))
}

func TestDiff_ReferenceCycle(t *testing.T) {
	target := ddl.NewSchema()
	target.Tables["a"] = &ddl.Table{
		Name: "a", PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "b_id", Type: schema.TypeInteger, Nullable: true, References: &ddl.ForeignKey{Table: "b", Column: "id"}},
		},
		Indexes: []ddl.Index{{Name: "ix_a_b_id", Columns: []string{"b_id"}}},
	}
	target.Tables["b"] = &ddl.Table{
		Name: "b", PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "a_id", Type: schema.TypeInteger, References: &ddl.ForeignKey{Table: "a", Column: "id"}},
		},
	}

	ops := Diff(ddl.NewSchema(), target)
	assert.Equal(t, []ddl.Kind{
		ddl.KindCreateTable, ddl.KindCreateTable, ddl.KindAddForeignKey, ddl.KindAddIndex,
	}, kinds(ops))
	first := ops[0].(*ddl.CreateTable)
	assert.Equal(t, "a", first.Table.Name)
	assert.Len(t, first.Table.Columns, 1)
	assert.Empty(t, first.Table.Indexes)

	after := applyAll(t, ddl.NewSchema(), ops)
	assert.Empty(t, Diff(after, target))

	drops := Diff(after, ddl.NewSchema())
	assert.Equal(t, []ddl.Kind{ddl.KindDropTable, ddl.KindDropTable}, kinds(drops))
}
