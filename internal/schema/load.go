package schema

import (
	"io"

	"github.com/koustreak/orma/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Document is the YAML form of a set of model descriptors, as produced by a
// model-definition layer at build time:
//
//	models:
//	  - id: blog.Author
//	    primary_key: id
//	    fields:
//	      - {name: id, type: integer, auto_increment: true}
//	      - {name: name, type: text}
type Document struct {
	Models []*ModelDescriptor `yaml:"models"`
}

// LoadYAML decodes a Document from r and registers every model in it.
// It does not call Init, so several documents can be loaded first.
func (r *Registry) LoadYAML(src io.Reader) error {
	var doc Document
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to decode models document", err)
	}
	for _, m := range doc.Models {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}
