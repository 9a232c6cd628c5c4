package dialect

import (
	"strings"
	"testing"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/query"
	"github.com/koustreak/orma/internal/schema"
	"github.com/koustreak/orma/internal/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, d Dialect, build func() (*query.Ast, error)) (string, []any) {
	t.Helper()
	ast, err := build()
	require.NoError(t, err)
	sql, args, err := d.CompileQuery(ast)
	require.NoError(t, err)
	return sql, args
}

// fromClause drops the select list, which is long and covered elsewhere.
func fromClause(sql string) string {
	_, rest, _ := strings.Cut(sql, " FROM ")
	return rest
}

const userColumns = `"id", "name", "email", "age", "active", "created_at", "company_id"`

func TestCompileQuery_FilterOrderLimit(t *testing.T) {
	reg := schematest.Blog()
	b := query.New(reg, "auth.User").Filter(query.Gte("age", 18)).OrderBy("-created_at").Limit(10)

	tests := []struct {
		d    Dialect
		want string
	}{
		{NewPostgres(), `SELECT ` + userColumns + ` FROM "users" WHERE "age" >= $1 ORDER BY "created_at" DESC, "id" DESC LIMIT $2`},
		{NewCockroachDB(), `SELECT ` + userColumns + ` FROM "users" WHERE "age" >= $1 ORDER BY "created_at" DESC, "id" DESC LIMIT $2`},
		{NewSQLite(), `SELECT ` + userColumns + ` FROM "users" WHERE "age" >= ? ORDER BY "created_at" DESC, "id" DESC LIMIT ?`},
		{NewMySQL(), "SELECT `id`, `name`, `email`, `age`, `active`, `created_at`, `company_id` FROM `users` WHERE `age` >= ? ORDER BY `created_at` DESC, `id` DESC LIMIT ?"},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			sql, args := compile(t, tt.d, b.Build)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, []any{18, int64(10)}, args)
		})
	}
}

func TestCompileQuery_Deterministic(t *testing.T) {
	reg := schematest.Blog()
	b := query.New(reg, "blog.Post").
		Filter(query.Or(query.Eq("author.name", "ada"), query.In("tags.name", "go", "sql"))).
		Exclude(query.Eq("status", "draft")).
		SelectRelated("author.company").
		OrderBy("-views", "title").
		Limit(20).Offset(40)

	for _, d := range []Dialect{NewPostgres(), NewCockroachDB(), NewMySQL(), NewSQLite()} {
		sql1, args1 := compile(t, d, b.Build)
		sql2, args2 := compile(t, d, b.Build)
		assert.Equal(t, sql1, sql2, d.Name())
		assert.Equal(t, args1, args2, d.Name())
		assert.Equal(t, []any{"ada", "go", "sql", "draft", int64(20), int64(40)}, args1, d.Name())
	}
}

func TestCompileQuery_Precedence(t *testing.T) {
	reg := schematest.Blog()
	sql, args := compile(t, NewPostgres(), query.New(reg, "auth.User").
		Filter(query.Eq("name", "ada")).
		Filter(query.Or(query.Lt("age", 30), query.IsNull("age"))).
		Exclude(query.Eq("active", true)).
		Build)

	assert.Equal(t, `"users" WHERE ("name" = $1 AND ("age" < $2 OR "age" IS NULL) AND NOT ("active" = $3))`, fromClause(sql))
	assert.Equal(t, []any{"ada", 30, true}, args)

	sql, _ = compile(t, NewPostgres(), query.New(reg, "auth.User").
		Exclude(query.Eq("name", "a"), query.Eq("age", 1)).
		Build)
	assert.Equal(t, `"users" WHERE NOT ("name" = $1 AND "age" = $2)`, fromClause(sql))
}

func TestCompileQuery_SpecialComparisons(t *testing.T) {
	reg := schematest.Blog()
	b := query.New(reg, "auth.User").Filter(
		query.Eq("age", nil),
		query.Ne("email", nil),
		query.In("id"),
		query.In("id", []int{4, 5}),
		query.ILike("name", "a%"),
	)

	sql, args := compile(t, NewPostgres(), b.Build)
	assert.Equal(t, `"users" WHERE ("age" IS NULL AND "email" IS NOT NULL AND 1 = 0 AND "id" IN ($1, $2) AND "name" ILIKE $3)`, fromClause(sql))
	assert.Equal(t, []any{4, 5, "a%"}, args)

	sql, _ = compile(t, NewMySQL(), b.Build)
	assert.Equal(t, "`users` WHERE (`age` IS NULL AND `email` IS NOT NULL AND 1 = 0 AND `id` IN (?, ?) AND LOWER(`name`) LIKE LOWER(?))", fromClause(sql))
}

func TestCompileQuery_EmptyGroups(t *testing.T) {
	reg := schematest.Blog()
	sql, args := compile(t, NewSQLite(), query.New(reg, "blog.Tag").Filter(query.Or(), query.And()).Build)
	assert.Equal(t, `"tags" WHERE (1 = 0 AND 1 = 1)`, fromClause(sql))
	assert.Empty(t, args)
}

func TestCompileQuery_Joins(t *testing.T) {
	reg := schematest.Blog()
	sql, args := compile(t, NewSQLite(), query.New(reg, "blog.Post").Filter(query.Eq("author.company.name", "Acme")).Build)

	assert.True(t, strings.HasPrefix(sql, `SELECT "t0"."id" AS "id", "t0"."title" AS "title", `), sql)
	assert.Equal(t, `"posts" AS "t0"`+
		` LEFT JOIN "users" AS "t1" ON "t1"."id" = "t0"."author_id"`+
		` LEFT JOIN "companies" AS "t2" ON "t2"."id" = "t1"."company_id"`+
		` WHERE "t2"."name" = ?`, fromClause(sql))
	assert.Equal(t, []any{"Acme"}, args)
}

func TestCompileQuery_SelectRelatedLabels(t *testing.T) {
	reg := schematest.Blog()
	sql, _ := compile(t, NewPostgres(), query.New(reg, "blog.Post").SelectRelated("author").Build)
	assert.Contains(t, sql, `"t1"."name" AS "author.name"`)
	assert.Contains(t, sql, `FROM "posts" AS "t0" LEFT JOIN "users" AS "t1" ON "t1"."id" = "t0"."author_id"`)
}

func TestCompileQuery_OffsetWithoutLimit(t *testing.T) {
	reg := schematest.Blog()
	b := query.New(reg, "blog.Tag").Offset(5)

	tests := []struct {
		d    Dialect
		want string
	}{
		{NewPostgres(), `"tags" ORDER BY "id" ASC OFFSET $1`},
		{NewSQLite(), `"tags" ORDER BY "id" ASC LIMIT -1 OFFSET ?`},
		{NewMySQL(), "`tags` ORDER BY `id` ASC LIMIT 18446744073709551615 OFFSET ?"},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			sql, args := compile(t, tt.d, b.Build)
			assert.Equal(t, tt.want, fromClause(sql))
			assert.Equal(t, []any{int64(5)}, args)
		})
	}
}

func TestCompileQuery_Count(t *testing.T) {
	reg := schematest.Blog()
	d := NewPostgres()

	sql, args := compile(t, d, query.New(reg, "auth.User").Filter(query.Gt("age", 18)).OrderBy("name").Count)
	assert.Equal(t, `SELECT COUNT(*) FROM "users" WHERE "age" > $1`, sql)
	assert.Equal(t, []any{18}, args)

	sql, args = compile(t, d, query.New(reg, "auth.User").Limit(5).Count)
	assert.Equal(t, `SELECT COUNT(*) FROM (SELECT "id" FROM "users" ORDER BY "id" ASC LIMIT $1) AS "sub"`, sql)
	assert.Equal(t, []any{int64(5)}, args)

	sql, _ = compile(t, d, query.New(reg, "blog.Post").Filter(query.Eq("author.name", "ada")).Count)
	assert.Equal(t, `SELECT COUNT(*) FROM "posts" AS "t0" LEFT JOIN "users" AS "t1" ON "t1"."id" = "t0"."author_id" WHERE "t1"."name" = $1`, sql)
}

func TestCompileQuery_Update(t *testing.T) {
	reg := schematest.Blog()

	sql, args := compile(t, NewPostgres(), func() (*query.Ast, error) {
		return query.New(reg, "blog.Post").Filter(query.Eq("status", "draft")).Update(map[string]any{"views": 0})
	})
	assert.Equal(t, `UPDATE "posts" SET "views" = $1 WHERE "status" = $2`, sql)
	assert.Equal(t, []any{0, "draft"}, args)

	joined := func() (*query.Ast, error) {
		return query.New(reg, "blog.Post").Filter(query.Eq("author.name", "ada")).Update(map[string]any{"views": 0})
	}

	sql, args = compile(t, NewPostgres(), joined)
	assert.Equal(t, `UPDATE "posts" SET "views" = $1 WHERE "id" IN (SELECT "t0"."id" FROM "posts" AS "t0" LEFT JOIN "users" AS "t1" ON "t1"."id" = "t0"."author_id" WHERE "t1"."name" = $2)`, sql)
	assert.Equal(t, []any{0, "ada"}, args)

	sql, _ = compile(t, NewMySQL(), joined)
	assert.Equal(t, "UPDATE `posts` SET `views` = ? WHERE `id` IN (SELECT `id` FROM (SELECT `t0`.`id` FROM `posts` AS `t0` LEFT JOIN `users` AS `t1` ON `t1`.`id` = `t0`.`author_id` WHERE `t1`.`name` = ?) AS `sub`)", sql)
}

func TestCompileQuery_Delete(t *testing.T) {
	reg := schematest.Blog()

	sql, args := compile(t, NewSQLite(), query.New(reg, "blog.Tag").OrderBy("name").Limit(2).Delete)
	assert.Equal(t, `DELETE FROM "tags" WHERE "id" IN (SELECT "id" FROM "tags" ORDER BY "name" ASC, "id" ASC LIMIT ?)`, sql)
	assert.Equal(t, []any{int64(2)}, args)

	sql, args = compile(t, NewSQLite(), query.New(reg, "blog.Tag").Delete)
	assert.Equal(t, `DELETE FROM "tags"`, sql)
	assert.Empty(t, args)
}

func TestCompileQuery_Insert(t *testing.T) {
	reg := schematest.Blog()
	insert := func() (*query.Ast, error) {
		return query.New(reg, "blog.Tag").Insert(map[string]any{"name": "go"})
	}

	sql, args := compile(t, NewPostgres(), insert)
	assert.Equal(t, `INSERT INTO "tags" ("name") VALUES ($1) RETURNING "id"`, sql)
	assert.Equal(t, []any{"go"}, args)
	assert.Empty(t, NewPostgres().InsertIDQuery())

	mysql := NewMySQL()
	sql, _ = compile(t, mysql, insert)
	assert.Equal(t, "INSERT INTO `tags` (`name`) VALUES (?)", sql)
	assert.Equal(t, "SELECT LAST_INSERT_ID()", mysql.InsertIDQuery())
}

func TestCompileQuery_Errors(t *testing.T) {
	d := NewPostgres()

	_, _, err := d.CompileQuery(nil)
	assert.True(t, errs.IsQueryBuild(err))

	reg := schematest.Blog()
	ast, err := query.New(reg, "auth.User").Build()
	require.NoError(t, err)
	ast.Where = query.Eq("age", 1) // not resolved by the builder
	_, _, err = d.CompileQuery(ast)
	assert.True(t, errs.IsQueryBuild(err))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a""b"`, NewPostgres().Quote(`a"b`))
	assert.Equal(t, `"a""b"`, NewSQLite().Quote(`a"b`))
	assert.Equal(t, "`a``b`", NewMySQL().Quote("a`b"))
}

func TestForName(t *testing.T) {
	for name, want := range map[string]string{
		"postgres":    "postgres",
		"PostgreSQL":  "postgres",
		"cockroachdb": "cockroachdb",
		"mysql":       "mysql",
		"sqlite3":     "sqlite",
	} {
		d, err := ForName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Name())
	}
	_, err := ForName("oracle")
	assert.True(t, errs.IsInvalidInput(err))
}

// --- DDL ---

func usersTable() ddl.Table {
	return ddl.Table{
		Name: "users",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 120},
			{Name: "email", Type: schema.TypeText, Size: 255, Unique: true},
			{Name: "age", Type: schema.TypeInteger, Nullable: true, Check: "age >= 0"},
			{Name: "active", Type: schema.TypeBoolean, Default: "1"},
			{Name: "created_at", Type: schema.TypeTimestamp, Default: "CURRENT_TIMESTAMP"},
			companyFK(),
		},
		PrimaryKey: "id",
		Indexes:    []ddl.Index{{Name: "ix_users_name", Columns: []string{"name"}}},
	}
}

func companyFK() ddl.Column {
	return ddl.Column{
		Name: "company_id", Type: schema.TypeInteger, Nullable: true,
		References: &ddl.ForeignKey{Name: "fk_users_company_id", Table: "companies", Column: "id", OnDelete: "SET NULL"},
	}
}

func TestCompileDDL_CreateTable(t *testing.T) {
	op := &ddl.CreateTable{Table: usersTable()}

	tests := []struct {
		d    Dialect
		want []string
	}{
		{NewPostgres(), []string{
			`CREATE TABLE "users" ("id" BIGINT GENERATED BY DEFAULT AS IDENTITY NOT NULL, "name" VARCHAR(120) NOT NULL, ` +
				`"email" VARCHAR(255) NOT NULL, "age" BIGINT CONSTRAINT "ck_users_age" CHECK (age >= 0), ` +
				`"active" BOOLEAN NOT NULL DEFAULT TRUE, "created_at" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP, ` +
				`"company_id" BIGINT, CONSTRAINT "pk_users" PRIMARY KEY ("id"), CONSTRAINT "uq_users_email" UNIQUE ("email"), ` +
				`CONSTRAINT "fk_users_company_id" FOREIGN KEY ("company_id") REFERENCES "companies" ("id") ON DELETE SET NULL)`,
			`CREATE INDEX "ix_users_name" ON "users" ("name")`,
		}},
		{NewSQLite(), []string{
			`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "name" TEXT NOT NULL, ` +
				`"email" TEXT NOT NULL, "age" INTEGER CONSTRAINT "ck_users_age" CHECK (age >= 0), ` +
				`"active" BOOLEAN NOT NULL DEFAULT 1, "created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, ` +
				`"company_id" INTEGER, CONSTRAINT "uq_users_email" UNIQUE ("email"), ` +
				`CONSTRAINT "fk_users_company_id" FOREIGN KEY ("company_id") REFERENCES "companies" ("id") ON DELETE SET NULL)`,
			`CREATE INDEX "ix_users_name" ON "users" ("name")`,
		}},
		{NewMySQL(), []string{
			"CREATE TABLE `users` (`id` BIGINT AUTO_INCREMENT NOT NULL, `name` VARCHAR(120) NOT NULL, " +
				"`email` VARCHAR(255) NOT NULL, `age` BIGINT CONSTRAINT `ck_users_age` CHECK (age >= 0), " +
				"`active` BOOLEAN NOT NULL DEFAULT TRUE, `created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6), " +
				"`company_id` BIGINT, CONSTRAINT `pk_users` PRIMARY KEY (`id`), CONSTRAINT `uq_users_email` UNIQUE (`email`), " +
				"CONSTRAINT `fk_users_company_id` FOREIGN KEY (`company_id`) REFERENCES `companies` (`id`) ON DELETE SET NULL)",
			"CREATE INDEX `ix_users_name` ON `users` (`name`)",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			stmts, err := tt.d.CompileDDL(op, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmts)
		})
	}

	stmts, err := NewCockroachDB().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Contains(t, stmts[0], `"id" INT8 NOT NULL DEFAULT unique_rowid()`)
	assert.Contains(t, stmts[0], `"active" BOOL NOT NULL DEFAULT TRUE`)
}

func TestCompileDDL_ColumnTypes(t *testing.T) {
	cols := []ddl.Column{
		{Type: schema.TypeText},
		{Type: schema.TypeBlob},
		{Type: schema.TypeDecimal, Precision: 10, Scale: 2},
		{Type: schema.TypeDecimal},
		{Type: schema.TypeTimestamp},
	}
	want := map[string][]string{
		"postgres":    {"TEXT", "BYTEA", "NUMERIC(10,2)", "NUMERIC", "TIMESTAMPTZ"},
		"cockroachdb": {"STRING", "BYTES", "DECIMAL(10,2)", "DECIMAL", "TIMESTAMPTZ"},
		"mysql":       {"LONGTEXT", "LONGBLOB", "DECIMAL(10,2)", "DECIMAL(65,30)", "DATETIME(6)"},
		"sqlite":      {"TEXT", "BLOB", "NUMERIC", "NUMERIC", "DATETIME"},
	}
	for _, d := range []Dialect{NewPostgres(), NewCockroachDB(), NewMySQL(), NewSQLite()} {
		var got []string
		for _, c := range cols {
			got = append(got, d.ColumnType(c))
		}
		assert.Equal(t, want[d.Name()], got, d.Name())
	}
	assert.Equal(t, "VARCHAR(255)", NewMySQL().ColumnType(ddl.Column{Type: schema.TypeText, Unique: true}))
}

func alterAge() *ddl.AlterColumnType {
	return &ddl.AlterColumnType{
		Table: "users",
		From:  ddl.Column{Name: "age", Type: schema.TypeInteger, Nullable: true, Check: "age >= 0"},
		To:    ddl.Column{Name: "age", Type: schema.TypeDecimal, Precision: 6, Scale: 2, Default: "0", Check: "age >= 0"},
	}
}

func TestCompileDDL_AlterColumnType(t *testing.T) {
	op := alterAge()

	stmts, err := NewPostgres().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN "age" TYPE NUMERIC(6,2) USING "age"::NUMERIC(6,2), ALTER COLUMN "age" SET NOT NULL, ALTER COLUMN "age" SET DEFAULT 0`,
	}, stmts)

	stmts, err = NewCockroachDB().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN "age" TYPE DECIMAL(6,2) USING "age"::DECIMAL(6,2)`,
		`ALTER TABLE "users" ALTER COLUMN "age" SET NOT NULL`,
		`ALTER TABLE "users" ALTER COLUMN "age" SET DEFAULT 0`,
	}, stmts)

	stmts, err = NewMySQL().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `users` MODIFY COLUMN `age` DECIMAL(6,2) NOT NULL DEFAULT 0"}, stmts)

	stmts, err = NewPostgres().CompileDDL(op.Reverse(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN "age" TYPE BIGINT USING "age"::BIGINT, ALTER COLUMN "age" DROP NOT NULL, ALTER COLUMN "age" DROP DEFAULT`,
	}, stmts)
}

func TestCompileDDL_AlterConstraints(t *testing.T) {
	op := &ddl.AlterColumnType{
		Table: "users",
		From:  ddl.Column{Name: "email", Type: schema.TypeText, Size: 255, Check: "email <> ''"},
		To:    ddl.Column{Name: "email", Type: schema.TypeText, Size: 255, Unique: true},
	}

	stmts, err := NewPostgres().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "users" DROP CONSTRAINT "ck_users_email", ADD CONSTRAINT "uq_users_email" UNIQUE ("email")`}, stmts)

	stmts, err = NewMySQL().CompileDDL(op, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE `users` DROP CHECK `ck_users_email`",
		"ALTER TABLE `users` ADD CONSTRAINT `uq_users_email` UNIQUE (`email`)",
	}, stmts)

	stmts, err = NewPostgres().CompileDDL(&ddl.AlterColumnType{Table: "users", From: op.From, To: op.From}, nil)
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func sqliteState(t *testing.T) *ddl.Schema {
	t.Helper()
	s := ddl.NewSchema()
	require.NoError(t, s.Apply(&ddl.CreateTable{Table: ddl.Table{
		Name: "users",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "age", Type: schema.TypeInteger, Nullable: true, Check: "age >= 0"},
		},
		PrimaryKey: "id",
		Indexes:    []ddl.Index{{Name: "ix_users_age", Columns: []string{"age"}}},
	}}))
	return s
}

func TestCompileDDL_SQLiteRebuild(t *testing.T) {
	state := sqliteState(t)
	before := state.Clone()

	stmts, err := NewSQLite().CompileDDL(alterAge(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE "_orma_new_users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "age" NUMERIC NOT NULL DEFAULT 0 CONSTRAINT "ck_users_age" CHECK (age >= 0))`,
		`INSERT INTO "_orma_new_users" ("id", "age") SELECT "id", "age" FROM "users"`,
		`DROP TABLE "users"`,
		`ALTER TABLE "_orma_new_users" RENAME TO "users"`,
		`CREATE INDEX "ix_users_age" ON "users" ("age")`,
	}, stmts)
	assert.Equal(t, before, state, "compiling must not change the state")

	_, err = NewSQLite().CompileDDL(alterAge(), nil)
	assert.True(t, errs.IsMigrationApply(err))
}

func TestCompileDDL_SQLiteColumns(t *testing.T) {
	d := NewSQLite()
	state := sqliteState(t)

	stmts, err := d.CompileDDL(&ddl.AddColumn{Table: "users", Column: ddl.Column{Name: "email", Type: schema.TypeText, Nullable: true}}, state)
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "users" ADD COLUMN "email" TEXT`}, stmts)

	stmts, err = d.CompileDDL(&ddl.AddForeignKey{Table: "users", Column: companyFK()}, state)
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "users" ADD COLUMN "company_id" INTEGER CONSTRAINT "fk_users_company_id" REFERENCES "companies" ("id") ON DELETE SET NULL`}, stmts)

	stmts, err = d.CompileDDL(&ddl.AddColumn{Table: "users", Column: ddl.Column{Name: "joined", Type: schema.TypeTimestamp, Default: "CURRENT_TIMESTAMP"}}, state)
	require.NoError(t, err)
	assert.Len(t, stmts, 5, "non-constant default needs a rebuild")
	assert.Contains(t, stmts[1], `("id", "age") SELECT "id", "age"`)

	dropAge := &ddl.DropColumn{Table: "users", Column: ddl.Column{Name: "age", Type: schema.TypeInteger, Nullable: true, Check: "age >= 0"}}
	_, err = d.CompileDDL(dropAge, state)
	assert.True(t, errs.IsMigrationApply(err), "indexed column")

	unindexed := state.Clone()
	require.NoError(t, unindexed.Apply(&ddl.DropIndex{Table: "users", Index: ddl.Index{Name: "ix_users_age", Columns: []string{"age"}}}))
	stmts, err = d.CompileDDL(dropAge, unindexed)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE "_orma_new_users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL)`,
		`INSERT INTO "_orma_new_users" ("id") SELECT "id" FROM "users"`,
		`DROP TABLE "users"`,
		`ALTER TABLE "_orma_new_users" RENAME TO "users"`,
	}, stmts)

	stmts, err = d.CompileDDL(&ddl.DropColumn{Table: "users", Column: ddl.Column{Name: "nickname", Type: schema.TypeText}}, state)
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "users" DROP COLUMN "nickname"`}, stmts)
}

func TestCompileDDL_MySQLForeignKeys(t *testing.T) {
	d := NewMySQL()

	stmts, err := d.CompileDDL(&ddl.AddForeignKey{Table: "users", Column: companyFK()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE `users` ADD COLUMN `company_id` BIGINT, ADD CONSTRAINT `fk_users_company_id` FOREIGN KEY (`company_id`) REFERENCES `companies` (`id`) ON DELETE SET NULL",
	}, stmts)

	stmts, err = d.CompileDDL(&ddl.DropColumn{Table: "users", Column: companyFK()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE `users` DROP FOREIGN KEY `fk_users_company_id`",
		"ALTER TABLE `users` DROP COLUMN `company_id`",
	}, stmts)
}

func TestCompileDDL_Indexes(t *testing.T) {
	add := &ddl.AddIndex{Table: "posts", Index: ddl.Index{Name: "uq_posts_slug", Columns: []string{"slug", "author_id"}, Unique: true}}
	drop := add.Reverse()

	tests := []struct {
		d          Dialect
		add, drop string
	}{
		{NewPostgres(), `CREATE UNIQUE INDEX "uq_posts_slug" ON "posts" ("slug", "author_id")`, `DROP INDEX "uq_posts_slug"`},
		{NewCockroachDB(), `CREATE UNIQUE INDEX "uq_posts_slug" ON "posts" ("slug", "author_id")`, `DROP INDEX "posts"@"uq_posts_slug" CASCADE`},
		{NewMySQL(), "CREATE UNIQUE INDEX `uq_posts_slug` ON `posts` (`slug`, `author_id`)", "DROP INDEX `uq_posts_slug` ON `posts`"},
		{NewSQLite(), `CREATE UNIQUE INDEX "uq_posts_slug" ON "posts" ("slug", "author_id")`, `DROP INDEX "uq_posts_slug"`},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			stmts, err := tt.d.CompileDDL(add, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.add}, stmts)
			stmts, err = tt.d.CompileDDL(drop, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.drop}, stmts)
		})
	}
}

func TestAdvisoryLock(t *testing.T) {
	lock, unlock, ok := NewPostgres().AdvisoryLock("orma_migrate")
	require.True(t, ok)
	assert.Equal(t, "SELECT pg_advisory_lock($1)", lock.SQL)
	assert.Equal(t, "SELECT pg_advisory_unlock($1)", unlock.SQL)
	assert.Equal(t, lock.Args, unlock.Args)
	assert.Equal(t, []any{lockID("orma_migrate")}, lock.Args)
	assert.NotEqual(t, lockID("orma_migrate"), lockID("other"))

	lock, _, ok = NewMySQL().AdvisoryLock("orma_migrate")
	require.True(t, ok)
	assert.Equal(t, "SELECT GET_LOCK(?, -1)", lock.SQL)

	_, _, ok = NewCockroachDB().AdvisoryLock("orma_migrate")
	assert.False(t, ok)
	_, _, ok = NewSQLite().AdvisoryLock("orma_migrate")
	assert.False(t, ok)
}

func TestMigrationSession(t *testing.T) {
	before, after := NewSQLite().MigrationSession()
	assert.Equal(t, []string{"PRAGMA foreign_keys = OFF"}, before)
	assert.Equal(t, []string{"PRAGMA foreign_keys = ON"}, after)

	before, after = NewPostgres().MigrationSession()
	assert.Empty(t, before)
	assert.Empty(t, after)
}
