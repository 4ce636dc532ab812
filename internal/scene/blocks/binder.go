// Package blocks binds typed parameter sets into TASCAR scene fragments.
//
// Every fragment kind has a template file and a fixed set of fields. A field
// is either a string literal, emitted with surrounding quotes, or a bare
// numeric literal that the template places inside an attribute of its own.
// Binding fails when a declared field has no value, when a value is supplied
// for an undeclared field, or when the template refers to a field the kind
// does not declare.
package blocks

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"text/template"
)

//go:embed templates/*.tsc
var embedded embed.FS

// Embedded returns the built-in block templates.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Kind names a fragment template.
type Kind string

const (
	KindTable        Kind = "table"
	KindRoom         Kind = "room"
	KindReverb       Kind = "reverb"
	KindSource       Kind = "source"
	KindReceiverHOA  Kind = "receiver_hoa"
	KindReceiverHRTF Kind = "receiver_hrtf"
	KindLoudspeaker  Kind = "loudspeaker"
	KindBatch        Kind = "batch"
	KindInspection   Kind = "inspection"
)

// FileNames maps each kind to its template file.
var FileNames = map[Kind]string{
	KindTable:        "Block_t.tsc",
	KindRoom:         "Block_w.tsc",
	KindReverb:       "Block_r.tsc",
	KindSource:       "Block_source.tsc",
	KindReceiverHOA:  "Block_hoa.tsc",
	KindReceiverHRTF: "Block_h.tsc",
	KindLoudspeaker:  "Block_l10_single.tsc",
	KindBatch:        "SPEAR_template.tsc",
	KindInspection:   "SPEAR_template_gui.tsc",
}

var (
	ErrMissingField = errors.New("missing value for field")
	ErrUnknownField = errors.New("value supplied for undeclared field")
	ErrBadValue     = errors.New("unsupported field value")
	ErrTemplate     = errors.New("template failed")
)

// FieldError reports a binding failure for one field of one kind.
type FieldError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("block %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("block %s field %q: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Field declares one placeholder of a template.
type Field struct {
	Name   string
	Quoted bool
}

// Fragment is a typed parameter set for one template kind.
type Fragment interface {
	Kind() Kind
	Fields() []Field
	Values() map[string]any
}

// Binder holds the parsed templates.
type Binder struct {
	templates map[Kind]*template.Template
}

// NewBinder parses every template kind from fsys.
func NewBinder(fsys fs.FS) (*Binder, error) {
	b := &Binder{templates: make(map[Kind]*template.Template, len(FileNames))}
	for kind, name := range FileNames {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read block %s: %w", name, err)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse block %s: %w", name, err)
		}
		b.templates[kind] = tmpl
	}
	return b, nil
}

// Bind fills f's template.
func (b *Binder) Bind(f Fragment) (string, error) {
	kind := f.Kind()
	tmpl, ok := b.templates[kind]
	if !ok {
		return "", &FieldError{Kind: kind, Err: fmt.Errorf("%w: no template for kind", ErrTemplate)}
	}

	fields := f.Fields()
	values := f.Values()
	declared := make(map[string]bool, len(fields))
	data := make(map[string]string, len(fields))

	for _, field := range fields {
		declared[field.Name] = true
		v, ok := values[field.Name]
		if !ok {
			return "", &FieldError{Kind: kind, Field: field.Name, Err: ErrMissingField}
		}
		s, err := stringify(v)
		if err != nil {
			return "", &FieldError{Kind: kind, Field: field.Name, Err: err}
		}
		if field.Quoted {
			s = Quote(s)
		}
		data[field.Name] = s
	}
	for name := range values {
		if !declared[name] {
			return "", &FieldError{Kind: kind, Field: name, Err: ErrUnknownField}
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", &FieldError{Kind: kind, Err: fmt.Errorf("%w: %v", ErrTemplate, err)}
	}
	return sb.String(), nil
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `"`, "&quot;")

// Quote renders s as a quoted attribute literal.
func Quote(s string) string {
	return `"` + attrEscaper.Replace(s) + `"`
}

// FormatFloat renders v with at most six decimals and no trailing zeros, so
// 6.11/2-1 prints as 2.055 rather than its binary expansion.
func FormatFloat(v float64) string {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		r = 0 // normalise -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return FormatFloat(x), nil
	case int:
		return strconv.Itoa(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrBadValue, v)
	}
}
