package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/casedesk/case-service/internal/domain"
)

// institutionsFile is the on-disk shape of INSTITUTIONS_FILE.
//
//	defaults:
//	  queue_mode: manual
//	  auto_merge: true
//	institutions:
//	  - id: 7
//	    queue_mode: auto
type institutionsFile struct {
	Defaults     institutionEntry   `yaml:"defaults"`
	Institutions []institutionEntry `yaml:"institutions"`
}

type institutionEntry struct {
	ID        int64  `yaml:"id"`
	QueueMode string `yaml:"queue_mode"`
	AutoMerge *bool  `yaml:"auto_merge"`
}

// Institutions resolves per-tenant settings, falling back to defaults for
// tenants the file does not name.
type Institutions struct {
	defaults domain.InstitutionSettings
	byID     map[int64]domain.InstitutionSettings
}

// NewInstitutions builds a directory from explicit values.
func NewInstitutions(defaults domain.InstitutionSettings, entries ...domain.InstitutionSettings) *Institutions {
	dir := &Institutions{defaults: defaults, byID: map[int64]domain.InstitutionSettings{}}
	for _, e := range entries {
		dir.byID[e.InstitutionID] = e
	}
	return dir
}

// LoadInstitutions reads the YAML settings file. An empty path yields a
// directory holding only the defaults derived from cfg.
func LoadInstitutions(path string, cfg QueueConfig) (*Institutions, error) {
	defaults := domain.InstitutionSettings{
		QueueMode:        domain.QueueMode(cfg.DefaultMode),
		AutoMergeEnabled: true,
	}
	if strings.TrimSpace(path) == "" {
		return NewInstitutions(defaults), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read institutions file: %w", err)
	}
	return ParseInstitutions(raw, defaults)
}

// ParseInstitutions decodes YAML settings on top of defaults.
func ParseInstitutions(raw []byte, defaults domain.InstitutionSettings) (*Institutions, error) {
	var file institutionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse institutions file: %w", err)
	}

	base, err := applyEntry(defaults, file.Defaults)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	dir := NewInstitutions(base)
	for _, entry := range file.Institutions {
		if entry.ID <= 0 {
			return nil, fmt.Errorf("institution entry missing positive id")
		}
		settings, err := applyEntry(base, entry)
		if err != nil {
			return nil, fmt.Errorf("institution %d: %w", entry.ID, err)
		}
		settings.InstitutionID = entry.ID
		dir.byID[entry.ID] = settings
	}
	return dir, nil
}

func applyEntry(base domain.InstitutionSettings, entry institutionEntry) (domain.InstitutionSettings, error) {
	out := base
	if mode := strings.ToLower(strings.TrimSpace(entry.QueueMode)); mode != "" {
		switch domain.QueueMode(mode) {
		case domain.QueueModeManual, domain.QueueModeAuto:
			out.QueueMode = domain.QueueMode(mode)
		default:
			return out, fmt.Errorf("unknown queue_mode %q", entry.QueueMode)
		}
	}
	if entry.AutoMerge != nil {
		out.AutoMergeEnabled = *entry.AutoMerge
	}
	return out, nil
}

// Settings returns the settings for an institution.
func (d *Institutions) Settings(institutionID int64) domain.InstitutionSettings {
	if s, ok := d.byID[institutionID]; ok {
		return s
	}
	s := d.defaults
	s.InstitutionID = institutionID
	return s
}

// Known lists the institutions named in the file, ascending.
func (d *Institutions) Known() []int64 {
	ids := make([]int64, 0, len(d.byID))
	for id := range d.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
