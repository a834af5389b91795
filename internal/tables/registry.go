package tables

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

//go:embed sql/*.sql
var templateFS embed.FS

var (
	// ErrNotFound is returned by Resolve for names the registry does not know.
	ErrNotFound = errors.New("table not found")
	// ErrTemplateNotFound is returned when a table has no load template.
	ErrTemplateNotFound = errors.New("load template not found")
)

// TableSpec is a statically known exportable table.
type TableSpec struct {
	// Name is the source API table identifier (e.g. "DepositTransactions").
	Name string
	// Template is the file name of the load template under sql/.
	Template string
}

// TargetTable is the warehouse table name (snake_case of Name).
func (t TableSpec) TargetTable() string {
	return SnakeCase(t.Name)
}

// BlobStem is the staging folder name for the table.
func (t TableSpec) BlobStem() string {
	return strings.ToLower(t.Name)
}

// LoadTemplate returns the raw load template for the table.
func (t TableSpec) LoadTemplate() (string, error) {
	return readTemplate(templateFS, t.Template)
}

func readTemplate(fsys fs.FS, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty template name", ErrTemplateNotFound)
	}
	b, err := fs.ReadFile(fsys, "sql/"+name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return "", err
	}
	return string(b), nil
}

// registry is the processing order of a full run.
var registry = []TableSpec{
	{Name: "Prospects", Template: "prospects.sql"},
	{Name: "Residents", Template: "residents.sql"},
	{Name: "Activities", Template: "activities.sql"},
	{Name: "DepositTransactions", Template: "deposit_transactions.sql"},
}

// List returns every registered table in registry order.
func List() []TableSpec {
	out := make([]TableSpec, len(registry))
	copy(out, registry)
	return out
}

// Names returns the registered table names in registry order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, t := range registry {
		names = append(names, t.Name)
	}
	return names
}

// Resolve looks up a table by its exact name.
func Resolve(name string) (TableSpec, error) {
	name = strings.TrimSpace(name)
	for _, t := range registry {
		if t.Name == name {
			return t, nil
		}
	}
	return TableSpec{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

var (
	snakeFirst  = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	snakeSecond = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// SnakeCase converts a PascalCase table name to snake_case.
func SnakeCase(name string) string {
	s := snakeFirst.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(snakeSecond.ReplaceAllString(s, "${1}_${2}"))
}
