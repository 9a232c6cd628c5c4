package query

import (
	"testing"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/schema"
	"github.com/koustreak/orma/internal/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_SimpleFilterOrderLimit(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "auth.User").
		Filter(Gte("age", 18)).
		OrderBy("-created_at").
		Limit(10).
		Build()
	require.NoError(t, err)

	assert.Equal(t, KindSelect, ast.Kind)
	assert.Equal(t, "users", ast.Table)
	assert.Empty(t, ast.Joins)

	cmp, ok := ast.Where.(*Comparison)
	require.True(t, ok)
	assert.Equal(t, ColumnRef{Alias: BaseAlias, Column: "age", Type: schema.TypeInteger}, cmp.Ref)

	require.Len(t, ast.OrderBy, 2)
	assert.Equal(t, "created_at", ast.OrderBy[0].Ref.Column)
	assert.True(t, ast.OrderBy[0].Desc)
	assert.Equal(t, "id", ast.OrderBy[1].Ref.Column, "primary key tie-break")
	assert.True(t, ast.OrderBy[1].Desc, "tie-break follows the last key's direction")

	require.NotNil(t, ast.Limit)
	assert.Equal(t, int64(10), *ast.Limit)
	assert.Nil(t, ast.Offset)
}

func TestBuild_TieBreak(t *testing.T) {
	reg := schematest.Blog()

	tests := []struct {
		name  string
		b     *Builder
		want  []string
		descs []bool
	}{
		{"no order, no pagination", New(reg, "auth.User"), nil, nil},
		{"no order, paginated", New(reg, "auth.User").Offset(5), []string{"id"}, []bool{false}},
		{"ascending key", New(reg, "auth.User").OrderBy("name"), []string{"name", "id"}, []bool{false, false}},
		{"pk present", New(reg, "auth.User").OrderBy("-id", "name"), []string{"id", "name"}, []bool{true, false}},
		{"pk alias present", New(reg, "auth.User").OrderBy("pk"), []string{"id"}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := tt.b.Build()
			require.NoError(t, err)
			var cols []string
			var descs []bool
			for _, k := range ast.OrderBy {
				cols = append(cols, k.Ref.Column)
				descs = append(descs, k.Desc)
			}
			assert.Equal(t, tt.want, cols)
			assert.Equal(t, tt.descs, descs)
		})
	}
}

func TestBuild_SeparateFiltersAreANDed(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "auth.User").
		Filter(Eq("name", "ada")).
		Filter(Or(Lt("age", 30), IsNull("age"))).
		Build()
	require.NoError(t, err)

	root, ok := ast.Where.(*Group)
	require.True(t, ok)
	assert.Equal(t, ConjAnd, root.Conj)
	require.Len(t, root.Children, 2)
	inner, ok := root.Children[1].(*Group)
	require.True(t, ok)
	assert.Equal(t, ConjOr, inner.Conj)
}

func TestBuild_ExcludeIsNegatedFilter(t *testing.T) {
	reg := schematest.Blog()

	a, err := New(reg, "blog.Post").Exclude(Eq("status", "draft")).Build()
	require.NoError(t, err)
	b, err := New(reg, "blog.Post").Filter(Not(Eq("status", "draft"))).Build()
	require.NoError(t, err)
	assert.Equal(t, b.Where, a.Where)
}

func TestBuild_BuilderIsImmutable(t *testing.T) {
	reg := schematest.Blog()
	base := New(reg, "auth.User").Filter(Eq("active", true))
	_ = base.Filter(Gt("age", 30)).OrderBy("name").Limit(1)

	ast, err := base.Build()
	require.NoError(t, err)
	_, isCmp := ast.Where.(*Comparison)
	assert.True(t, isCmp)
	assert.Empty(t, ast.OrderBy)
	assert.Nil(t, ast.Limit)
}

func TestBuild_RelationPathJoins(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "blog.Post").
		Filter(Eq("author.company.name", "Acme"), Eq("author.name", "ada")).
		Build()
	require.NoError(t, err)

	require.Len(t, ast.Joins, 2)
	assert.Equal(t, Join{Path: "author", Table: "users", Alias: "t1", Column: "id", FromAlias: "t0", FromColumn: "author_id"}, ast.Joins[0])
	assert.Equal(t, Join{Path: "author.company", Table: "companies", Alias: "t2", Column: "id", FromAlias: "t1", FromColumn: "company_id"}, ast.Joins[1])

	assert.Equal(t, ColumnRef{Alias: "t2", Column: "name", Type: schema.TypeText}, ast.Refs["author.company.name"])
	assert.Equal(t, ColumnRef{Alias: "t1", Column: "name", Type: schema.TypeText}, ast.Refs["author.name"])
}

func TestBuild_ManyToManyPath(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "blog.Post").Filter(Eq("tags.name", "go")).Build()
	require.NoError(t, err)

	require.Len(t, ast.Joins, 2)
	assert.Equal(t, Join{Path: "tags#through", Table: "posts_tags", Alias: "t1", Column: "post_id", FromAlias: "t0", FromColumn: "id"}, ast.Joins[0])
	assert.Equal(t, Join{Path: "tags", Table: "tags", Alias: "t2", Column: "id", FromAlias: "t1", FromColumn: "tag_id"}, ast.Joins[1])
}

func TestBuild_RelationNameMeansForeignKeyColumn(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "blog.Post").Filter(Eq("author", 3)).Build()
	require.NoError(t, err)
	assert.Empty(t, ast.Joins)
	assert.Equal(t, "author_id", ast.Where.(*Comparison).Ref.Column)
}

func TestBuild_SelectRelated(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "blog.Post").SelectRelated("author.company").Build()
	require.NoError(t, err)

	require.Len(t, ast.Joins, 2)
	var labels []string
	for _, c := range ast.Columns {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{
		"id", "title", "body", "status", "views", "rating", "created_at", "author_id",
		"author.id", "author.name", "author.email", "author.age", "author.active", "author.created_at", "author.company_id",
		"author.company.id", "author.company.name",
	}, labels)
	assert.Equal(t, []string{"author.company"}, ast.Related)
}

func TestBuild_SelectRelatedRejectsManyToMany(t *testing.T) {
	_, err := New(schematest.Blog(), "blog.Post").SelectRelated("tags").Build()
	assert.True(t, errs.IsQueryBuild(err))
}

func TestBuild_InFlattensSlices(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "auth.User").Filter(In("id", []int64{1, 2, 3})).Build()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ast.Where.(*Comparison).Value)

	ast, err = New(reg, "auth.User").Filter(In("id", 1, 2)).Build()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, ast.Where.(*Comparison).Value)
}

func TestBuild_Errors(t *testing.T) {
	reg := schematest.Blog()

	cyclic := Or(Eq("name", "a"))
	cyclic.Children = append(cyclic.Children, Not(cyclic))

	tests := []struct {
		name string
		b    *Builder
	}{
		{"unknown field", New(reg, "auth.User").Filter(Eq("nickname", "x"))},
		{"unknown relation", New(reg, "blog.Post").Filter(Eq("editor.name", "x"))},
		{"empty segment", New(reg, "blog.Post").Filter(Eq("author..name", "x"))},
		{"negative limit", New(reg, "auth.User").Limit(-1)},
		{"negative offset", New(reg, "auth.User").Offset(-5)},
		{"cycle", New(reg, "auth.User").Filter(cyclic)},
		{"nil predicate", New(reg, "auth.User").Filter(nil)},
		{"ordering unknown field", New(reg, "auth.User").OrderBy("-nickname")},
		{"lt nil", New(reg, "auth.User").Filter(Lt("age", nil))},
		{"m2m as field", New(reg, "blog.Post").Filter(Eq("tags", 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			require.Error(t, err)
			assert.True(t, errs.IsQueryBuild(err), "got %v", err)
		})
	}
}

func TestBuild_SharedSubtreeIsNotACycle(t *testing.T) {
	reg := schematest.Blog()
	shared := Eq("name", "ada")

	_, err := New(reg, "auth.User").Filter(Or(shared, And(shared, Gt("age", 1)))).Build()
	assert.NoError(t, err)
}

func TestBuild_UnknownModel(t *testing.T) {
	_, err := New(schematest.Blog(), "shop.Order").Build()
	assert.True(t, errs.IsUnknownModel(err))
}

func TestCount(t *testing.T) {
	ast, err := New(schematest.Blog(), "auth.User").Filter(Gt("age", 18)).OrderBy("name").Count()
	require.NoError(t, err)
	assert.Equal(t, KindCount, ast.Kind)
	assert.Empty(t, ast.OrderBy, "ordering is irrelevant to an unpaginated count")
	assert.Empty(t, ast.Columns)
}

func TestUpdate(t *testing.T) {
	ast, err := New(schematest.Blog(), "blog.Post").
		Filter(Eq("status", "draft")).
		Update(map[string]any{"views": 0, "status": "archived", "author": 7})
	require.NoError(t, err)

	assert.Equal(t, KindUpdate, ast.Kind)
	assert.Equal(t, []Assignment{
		{Column: "status", Value: "archived"},
		{Column: "views", Value: 0},
		{Column: "author_id", Value: 7},
	}, ast.Values)
}

func TestUpdate_Errors(t *testing.T) {
	reg := schematest.Blog()

	_, err := New(reg, "blog.Post").Update(nil)
	assert.True(t, errs.IsQueryBuild(err))

	_, err = New(reg, "blog.Post").Update(map[string]any{"author.name": "x"})
	assert.True(t, errs.IsQueryBuild(err))

	_, err = New(reg, "blog.Post").Update(map[string]any{"author": 1, "author_id": 2})
	assert.True(t, errs.IsQueryBuild(err))
}

func TestBuild_RelatedIgnoredOutsideSelect(t *testing.T) {
	reg := schematest.Blog()
	qs := func() *Builder { return New(reg, "blog.Post").SelectRelated("author").Filter(Eq("status", "draft")) }

	count, err := qs().Count()
	require.NoError(t, err)
	assert.Equal(t, KindCount, count.Kind)
	assert.Empty(t, count.Joins)
	assert.Empty(t, count.Columns)

	upd, err := qs().Update(map[string]any{"views": 1})
	require.NoError(t, err)
	assert.Empty(t, upd.Joins)
	assert.Equal(t, []Assignment{{Column: "views", Value: 1}}, upd.Values)

	del, err := qs().Delete()
	require.NoError(t, err)
	assert.Empty(t, del.Joins)
}

func TestBuild_RequiresInitializedRegistry(t *testing.T) {
	tests := []struct {
		name string
		reg  *schema.Registry
	}{
		{name: "nil", reg: nil},
		{name: "not initialized", reg: schema.NewRegistry().MustRegister(schematest.Tag())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.reg, "blog.Tag").Build()
			assert.True(t, errs.IsQueryBuild(err))

			_, err = New(tt.reg, "blog.Tag").Insert(map[string]any{"name": "go"})
			assert.True(t, errs.IsQueryBuild(err))
		})
	}
}

func TestDelete(t *testing.T) {
	ast, err := New(schematest.Blog(), "blog.Post").Filter(Eq("author.name", "ada")).Delete()
	require.NoError(t, err)
	assert.Equal(t, KindDelete, ast.Kind)
	assert.Len(t, ast.Joins, 1)
}

func TestInsert(t *testing.T) {
	reg := schematest.Blog()

	ast, err := New(reg, "blog.Tag").Insert(map[string]any{"name": "go"})
	require.NoError(t, err)
	assert.Equal(t, KindInsert, ast.Kind)
	assert.Equal(t, []Assignment{{Column: "name", Value: "go"}}, ast.Values)

	_, err = New(reg, "blog.Tag").Filter(Eq("id", 1)).Insert(map[string]any{"name": "go"})
	assert.True(t, errs.IsQueryBuild(err))

	_, err = New(reg, "blog.Tag").Insert(map[string]any{"slug": "go"})
	assert.True(t, errs.IsQueryBuild(err))
}

func TestString(t *testing.T) {
	p := And(Eq("a", 1), Or(Gt("b", 2), Not(IsNull("c"))))
	assert.Equal(t, "(a eq 1 AND (b gt 2 OR NOT c isnull <nil>))", String(p))
}
