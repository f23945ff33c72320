package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format string

// Supported manifest formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

var (
	serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	envNamePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported manifest extension %q", filepath.Ext(path))
	}
}

// Loader parses and validates manifests.
type Loader struct {
	validate *validator.Validate
	schemas  *SchemaRegistry
	cue      *cueDecoder
}

// NewLoader creates a loader with the built-in schemas and validation rules.
func NewLoader() *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("service_name", func(fl validator.FieldLevel) bool {
		return serviceNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("env_name", func(fl validator.FieldLevel) bool {
		return envNamePattern.MatchString(fl.Field().String())
	})

	return &Loader{
		validate: v,
		schemas:  NewSchemaRegistry(),
		cue:      newCUEDecoder(),
	}
}

// Schemas returns the schema registry used for validation.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

var defaultLoader = sync.OnceValue(NewLoader)

// LoadServicesManifest reads and validates a services manifest with the default loader.
func LoadServicesManifest(path string) (*ServicesManifest, error) {
	return defaultLoader().LoadServicesManifest(path)
}

// LoadRequirementsManifest reads and validates a requirements manifest with the default loader.
func LoadRequirementsManifest(path string) (*RequirementsManifest, error) {
	return defaultLoader().LoadRequirementsManifest(path)
}

// LoadServicesManifest reads path and validates it.
func (l *Loader) LoadServicesManifest(path string) (*ServicesManifest, error) {
	data, format, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	return l.parseServices(data, format, path)
}

// ParseServicesManifest decodes and validates a services manifest.
func (l *Loader) ParseServicesManifest(data []byte, format Format) (*ServicesManifest, error) {
	return l.parseServices(data, format, "inline")
}

func (l *Loader) parseServices(data []byte, format Format, file string) (*ServicesManifest, error) {
	var m ServicesManifest
	if errs := l.decode(data, format, file, &m); len(errs) > 0 {
		return nil, newManifestError(file, errs)
	}
	if m.Services == nil {
		m.Services = []ServiceEntry{}
	}

	errs := l.structErrors(&m)
	if len(errs) == 0 {
		errs = l.schemas.Validate(SchemaServicesManifest, &m)
	}
	errs = append(errs, duplicateServices(m.Names(), "services")...)

	if err := newManifestError(file, errs); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadRequirementsManifest reads path and validates it.
func (l *Loader) LoadRequirementsManifest(path string) (*RequirementsManifest, error) {
	data, format, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	return l.parseRequirements(data, format, path)
}

// ParseRequirementsManifest decodes and validates a requirements manifest.
func (l *Loader) ParseRequirementsManifest(data []byte, format Format) (*RequirementsManifest, error) {
	return l.parseRequirements(data, format, "inline")
}

func (l *Loader) parseRequirements(data []byte, format Format, file string) (*RequirementsManifest, error) {
	var m RequirementsManifest
	if errs := l.decode(data, format, file, &m); len(errs) > 0 {
		return nil, newManifestError(file, errs)
	}
	if m.Services == nil {
		m.Services = []Requirement{}
	}

	errs := l.structErrors(&m)
	if len(errs) == 0 {
		errs = l.schemas.Validate(SchemaRequirementsManifest, &m)
	}
	names := make([]string, 0, len(m.Services))
	for _, r := range m.Services {
		names = append(names, r.Service)
	}
	errs = append(errs, duplicateServices(names, "services")...)

	if err := newManifestError(file, errs); err != nil {
		return nil, err
	}
	return &m, nil
}

func readManifest(path string) ([]byte, Format, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read manifest: %w", err)
	}
	return data, format, nil
}

func (l *Loader) decode(data []byte, format Format, file string, out any) []ValidationError {
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(out)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(out)
	case FormatCUE:
		return l.cue.decode(data, file, out)
	default:
		err = fmt.Errorf("unsupported manifest format %q", format)
	}
	if err != nil {
		return []ValidationError{{File: file, Message: err.Error(), Severity: SeverityError}}
	}
	return nil
}

func (l *Loader) structErrors(v any) []ValidationError {
	err := l.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error(), Severity: SeverityError}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:     trimRoot(fe.Namespace()),
			Message:  ruleMessage(fe),
			Severity: SeverityError,
		})
	}
	return out
}

// trimRoot drops the struct type name from a validator namespace.
func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "service_name":
		return fmt.Sprintf("%q is not a valid service name (lowercase letters, digits and underscores, starting with a letter)", fe.Value())
	case "env_name":
		return fmt.Sprintf("%q is not a valid environment variable name", fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func duplicateServices(names []string, field string) []ValidationError {
	first := make(map[string]int, len(names))
	var errs []ValidationError
	for i, name := range names {
		if name == "" {
			continue
		}
		if j, seen := first[name]; seen {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("%s[%d]", field, i),
				Message:  fmt.Sprintf("duplicate service %q (first declared at %s[%d])", name, field, j),
				Severity: SeverityError,
			})
			continue
		}
		first[name] = i
	}
	return errs
}
