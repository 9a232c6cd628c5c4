// Package schematest provides model fixtures shared by tests.
package schematest

import "github.com/koustreak/orma/internal/schema"

// Company is auth.Company.
func Company() *schema.ModelDescriptor {
	return &schema.ModelDescriptor{
		ID:         "auth.Company",
		PrimaryKey: "id",
		Fields: []schema.FieldDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 120},
		},
	}
}

// User is auth.User with a nullable foreign key to auth.Company.
func User() *schema.ModelDescriptor {
	return &schema.ModelDescriptor{
		ID:         "auth.User",
		PrimaryKey: "id",
		Fields: []schema.FieldDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 120},
			{Name: "email", Type: schema.TypeText, Size: 255, Unique: true},
			{Name: "age", Type: schema.TypeInteger, Nullable: true, Check: "age >= 0"},
			{Name: "active", Type: schema.TypeBoolean, Default: "1"},
			{Name: "created_at", Type: schema.TypeTimestamp, Default: "CURRENT_TIMESTAMP"},
		},
		Relations: []schema.Relation{
			{Name: "company", Target: "auth.Company", Nullable: true, OnDelete: schema.OnDeleteSetNull},
		},
	}
}

// Post is blog.Post: a foreign key to auth.User and a many-to-many to blog.Tag.
func Post() *schema.ModelDescriptor {
	return &schema.ModelDescriptor{
		ID:         "blog.Post",
		PrimaryKey: "id",
		Fields: []schema.FieldDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "title", Type: schema.TypeText, Size: 200},
			{Name: "body", Type: schema.TypeText, Nullable: true},
			{Name: "status", Type: schema.TypeText, Size: 16, Default: "'draft'"},
			{Name: "views", Type: schema.TypeInteger, Default: "0"},
			{Name: "rating", Type: schema.TypeDecimal, Precision: 4, Scale: 2, Nullable: true},
			{Name: "created_at", Type: schema.TypeTimestamp},
		},
		Relations: []schema.Relation{
			{Name: "author", Target: "auth.User", OnDelete: schema.OnDeleteCascade},
			{Name: "tags", Kind: schema.RelationManyToMany, Target: "blog.Tag"},
		},
		Indexes: []schema.IndexDescriptor{
			{Fields: []string{"status", "created_at"}},
		},
	}
}

// Tag is blog.Tag.
func Tag() *schema.ModelDescriptor {
	return &schema.ModelDescriptor{
		ID:         "blog.Tag",
		PrimaryKey: "id",
		Fields: []schema.FieldDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 50, Unique: true},
		},
	}
}

// Registry returns an initialised registry holding descs.
func Registry(descs ...*schema.ModelDescriptor) *schema.Registry {
	reg := schema.NewRegistry().MustRegister(descs...)
	if err := reg.Init(); err != nil {
		panic(err)
	}
	return reg
}

// Blog returns an initialised registry with Company, User, Post and Tag.
func Blog() *schema.Registry {
	return Registry(Company(), User(), Post(), Tag())
}
