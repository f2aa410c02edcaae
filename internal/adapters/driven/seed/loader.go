// Package seed reads mandate, expression and bank reference data from YAML.
//
// A seed file looks like:
//
//	mandates:
//	  - id: acme
//	    input_dir: acme/in
//	    archive_dir: acme/archive
//	    diagnostics_dir: acme/diagnostics
//	    poll_interval: 30s
//	    retention: 720h
//	    marker_policy: drop
//	    expressions:
//	      - vendor: telco
//	        pattern: 'Telco\s+AG'
//	        priority: 10
//	banks:
//	  - country: DE
//	    code: "37040044"
//	    name: Commerzbank
//	    bic: COBADEFFXXX
//
// Relative directories are resolved against the seed file's directory.
package seed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// Ensure Loader implements the interface.
var _ driven.SeedSource = (*Loader)(nil)

type fileDoc struct {
	Mandates []mandateDoc `yaml:"mandates"`
	Banks    []bankDoc    `yaml:"banks"`
}

type mandateDoc struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	InputDir       string          `yaml:"input_dir"`
	ArchiveDir     string          `yaml:"archive_dir"`
	DiagnosticsDir string          `yaml:"diagnostics_dir"`
	PollInterval   string          `yaml:"poll_interval"`
	Retention      string          `yaml:"retention"`
	MarkerPolicy   string          `yaml:"marker_policy"`
	MarkerPrefix   string          `yaml:"marker_prefix"`
	Enabled        *bool           `yaml:"enabled"`
	Expressions    []expressionDoc `yaml:"expressions"`
}

type expressionDoc struct {
	ID       string `yaml:"id"`
	Vendor   string `yaml:"vendor"`
	Pattern  string `yaml:"pattern"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
}

type bankDoc struct {
	Country string `yaml:"country"`
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	BIC     string `yaml:"bic"`
}

// Loader parses YAML seed files.
type Loader struct{}

// NewLoader creates a seed loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the seed file at path.
func (l *Loader) Load(path string) (*domain.SeedSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes seed data. Relative directories are joined to baseDir.
func Parse(data []byte, baseDir string) (*domain.SeedSet, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: seed file: %w", domain.ErrInvalidInput, err)
	}

	set := &domain.SeedSet{
		Expressions: make(map[string][]domain.KnownExpression),
	}
	seen := make(map[string]bool, len(doc.Mandates))
	var errs []error

	for _, md := range doc.Mandates {
		m, err := md.toDomain(baseDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("%w: mandate %s listed twice", domain.ErrInvalidInput, m.ID))
			continue
		}
		seen[m.ID] = true
		set.Mandates = append(set.Mandates, m)

		if md.Expressions != nil {
			exprs := make([]domain.KnownExpression, 0, len(md.Expressions))
			for i, ed := range md.Expressions {
				exprs = append(exprs, domain.KnownExpression{
					ID:        ed.ID,
					MandateID: m.ID,
					VendorID:  ed.Vendor,
					Pattern:   ed.Pattern,
					Kind:      domain.ExpressionKind(strings.ToLower(ed.Kind)),
					Priority:  ed.Priority,
					Ordinal:   i,
				})
			}
			set.Expressions[m.ID] = exprs
		}
	}

	for _, bd := range doc.Banks {
		country := strings.ToUpper(strings.TrimSpace(bd.Country))
		code := strings.TrimSpace(bd.Code)
		if country == "" || code == "" {
			errs = append(errs, fmt.Errorf("%w: bank %q needs country and code", domain.ErrInvalidInput, bd.Name))
			continue
		}
		set.Banks = append(set.Banks, domain.Bank{
			Country: country,
			Code:    code,
			Name:    bd.Name,
			BIC:     strings.ToUpper(strings.TrimSpace(bd.BIC)),
		})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

func (md mandateDoc) toDomain(baseDir string) (domain.Mandate, error) {
	poll, err := parseDuration(md.ID, "poll_interval", md.PollInterval)
	if err != nil {
		return domain.Mandate{}, err
	}
	retention, err := parseDuration(md.ID, "retention", md.Retention)
	if err != nil {
		return domain.Mandate{}, err
	}
	enabled := true
	if md.Enabled != nil {
		enabled = *md.Enabled
	}
	return domain.Mandate{
		ID:             strings.TrimSpace(md.ID),
		Name:           md.Name,
		InputDir:       resolve(baseDir, md.InputDir),
		ArchiveDir:     resolve(baseDir, md.ArchiveDir),
		DiagnosticsDir: resolve(baseDir, md.DiagnosticsDir),
		PollInterval:   poll,
		Retention:      domain.RetentionPolicy{MaxAge: retention},
		MarkerPolicy:   domain.MarkerPolicy(strings.ToLower(md.MarkerPolicy)),
		MarkerPrefix:   md.MarkerPrefix,
		Enabled:        enabled,
	}, nil
}

func parseDuration(mandateID, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: mandate %s: %s: %w", domain.ErrInvalidInput, mandateID, field, err)
	}
	return d, nil
}

func resolve(baseDir, dir string) string {
	if dir == "" || filepath.IsAbs(dir) || baseDir == "" {
		return dir
	}
	return filepath.Join(baseDir, dir)
}
