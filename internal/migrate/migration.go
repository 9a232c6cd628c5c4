package migrate

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/errs"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
	"go.yaml.in/yaml/v3"
)

// Migration is one versioned, reversible unit of schema change for an app.
// It is stored as {app}/{sequence:04d}_{name}.yaml.
type Migration struct {
	App      string `yaml:"app"`
	Name     string `yaml:"name"`
	Sequence int    `yaml:"sequence"`

	// Dependencies are ids of migrations of other apps that must be applied
	// first. The previous migration of the same app is always implied.
	Dependencies []string `yaml:"dependencies,omitempty"`

	Operations ddl.List `yaml:"operations"`
	Reverse    ddl.List `yaml:"reverse"`
}

var (
	namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	keyPattern  = regexp.MustCompile(`^(\d{4,})_([a-z0-9_]+)\.yaml$`)
)

// ID is "{app}/{sequence:04d}_{name}".
func (m *Migration) ID() string {
	return FormatID(m.App, m.Sequence, m.Name)
}

// Key is the object key of the migration file.
func (m *Migration) Key() string {
	return m.ID() + ".yaml"
}

// FormatID builds a migration id.
func FormatID(app string, seq int, name string) string {
	return fmt.Sprintf("%s/%04d_%s", app, seq, name)
}

// ParseKey splits an object key into app, sequence and name.
func ParseKey(key string) (app string, seq int, name string, err error) {
	dir, base := path.Split(key)
	app = strings.TrimSuffix(dir, "/")
	m := keyPattern.FindStringSubmatch(base)
	if app == "" || strings.Contains(app, "/") || m == nil {
		return "", 0, "", errs.Newf(errs.ErrKindInvalidInput,
			"migration key %q does not match {app}/{sequence}_{name}.yaml", key)
	}
	seq, _ = strconv.Atoi(m[1])
	return app, seq, m[2], nil
}

// Checksum is the hex BLAKE3 digest of the msgpack encoding of the forward
// operations. The ledger stores it to detect files edited after applying.
func (m *Migration) Checksum() (string, error) {
	data, err := msgpack.Marshal(m.Operations.Records())
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "failed to encode operations", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Encode renders the migration file.
func (m *Migration) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to encode migration "+m.ID(), err)
	}
	if err := enc.Close(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to encode migration "+m.ID(), err)
	}
	return buf.Bytes(), nil
}

// Decode parses a migration file stored under key and checks the file
// agrees with its key.
func Decode(key string, data []byte) (*Migration, error) {
	app, seq, name, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	var m Migration
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to decode migration "+key, err)
	}
	if m.App != app || m.Sequence != seq || m.Name != name {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"migration %s declares %s", key, m.ID())
	}
	if len(m.Reverse) == 0 && len(m.Operations) > 0 {
		m.Reverse = ddl.ReverseAll(m.Operations)
	}
	return &m, nil
}

// previous is the id prefix of the migration before m in its app.
func (m *Migration) previous() (app string, seq int) {
	return m.App, m.Sequence - 1
}

// Plan orders migrations so every migration comes after its predecessor in
// the same app and after its dependencies. Independent migrations are
// ordered by app, then sequence. It fails with MigrationConflict on
// duplicate sequences, gaps, unknown dependencies and cycles.
func Plan(migs []*Migration) ([]*Migration, error) {
	byID := make(map[string]*Migration, len(migs))
	bySeq := make(map[string]*Migration, len(migs))
	for _, m := range migs {
		k := fmt.Sprintf("%s/%d", m.App, m.Sequence)
		if other, ok := bySeq[k]; ok {
			return nil, errs.Newf(errs.ErrKindMigrationConflict,
				"migrations %s and %s share sequence %d", other.ID(), m.ID(), m.Sequence)
		}
		bySeq[k] = m
		byID[m.ID()] = m
	}

	deps := make(map[*Migration][]*Migration, len(migs))
	for _, m := range migs {
		if m.Sequence > 1 {
			app, seq := m.previous()
			prev, ok := bySeq[fmt.Sprintf("%s/%d", app, seq)]
			if !ok {
				return nil, errs.Newf(errs.ErrKindMigrationConflict,
					"migration %s has no predecessor %04d in app %s", m.ID(), seq, app)
			}
			deps[m] = append(deps[m], prev)
		}
		for _, id := range m.Dependencies {
			dep, ok := byID[id]
			if !ok {
				return nil, errs.Newf(errs.ErrKindMigrationConflict,
					"migration %s depends on unknown migration %s", m.ID(), id)
			}
			deps[m] = append(deps[m], dep)
		}
	}

	remaining := slices.Clone(migs)
	slices.SortFunc(remaining, func(a, b *Migration) int {
		if c := strings.Compare(a.App, b.App); c != 0 {
			return c
		}
		return a.Sequence - b.Sequence
	})
	done := make(map[*Migration]bool, len(migs))
	out := make([]*Migration, 0, len(migs))
	for len(remaining) > 0 {
		next := slices.IndexFunc(remaining, func(m *Migration) bool {
			for _, dep := range deps[m] {
				if !done[dep] {
					return false
				}
			}
			return true
		})
		if next < 0 {
			ids := make([]string, len(remaining))
			for i, m := range remaining {
				ids[i] = m.ID()
			}
			return nil, errs.Newf(errs.ErrKindMigrationConflict,
				"migration dependencies form a cycle among %s", strings.Join(ids, ", "))
		}
		m := remaining[next]
		out = append(out, m)
		done[m] = true
		remaining = slices.Delete(remaining, next, next+1)
	}
	return out, nil
}
