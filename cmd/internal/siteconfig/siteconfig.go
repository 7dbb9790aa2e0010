package siteconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
	backuperrors "github.com/wpdocker/wp-docker/cmd/internal/backup/errors"
	"go.uber.org/zap"
)

const sitesKey = "site"

type (
	// SiteConfig is the persisted configuration of one website
	SiteConfig struct {
		Domain string      `json:"domain"`
		Logs   *Logs       `json:"logs,omitempty"`
		Cache  string      `json:"cache,omitempty"`
		MySQL  *MySQL      `json:"mysql,omitempty"`
		PHP    *PHP        `json:"php,omitempty"`
		Backup *SiteBackup `json:"backup,omitempty"`
	}

	Logs struct {
		Access   string `json:"access,omitempty"`
		Error    string `json:"error,omitempty"`
		PHPError string `json:"php_error,omitempty"`
		PHPSlow  string `json:"php_slow,omitempty"`
	}

	MySQL struct {
		DBName string `json:"db_name"`
		DBUser string `json:"db_user"`
		DBPass string `json:"db_pass"`
	}

	PHP struct {
		Version            string   `json:"php_version"`
		Container          string   `json:"php_container,omitempty"`
		InstalledExtension []string `json:"php_installed_extensions,omitempty"`
	}

	// SiteBackup holds everything backup related of a website
	SiteBackup struct {
		LastBackup  *BackupInfo     `json:"last_backup,omitempty"`
		Schedule    *BackupSchedule `json:"schedule,omitempty"`
		CloudConfig *CloudConfig    `json:"cloud_config,omitempty"`
		JobID       string          `json:"job_id,omitempty"`
	}

	// BackupInfo points to the most recent successful backup of a website
	BackupInfo struct {
		Time     string `json:"time"`
		File     string `json:"file"`
		Database string `json:"database"`
	}

	// BackupSchedule describes when backups of a website are taken
	BackupSchedule struct {
		Enabled      bool   `json:"enabled"`
		ScheduleType string `json:"schedule_type"`
		Hour         int    `json:"hour"`
		Minute       int    `json:"minute"`
		// DayOfWeek uses cron numbering, 0 is sunday, only used for weekly schedules
		DayOfWeek *int `json:"day_of_week,omitempty"`
		// DayOfMonth is 1-31 or -1 for the last day of the month, only used for monthly schedules
		DayOfMonth     *int `json:"day_of_month,omitempty"`
		RetentionCount int  `json:"retention_count"`
		CloudSync      bool `json:"cloud_sync"`
	}

	// CloudConfig describes the remote scheduled backups are synced to
	CloudConfig struct {
		Provider   string `json:"provider"`
		RemoteName string `json:"remote_name"`
		RemotePath string `json:"remote_path"`
		Enabled    bool   `json:"enabled"`
	}
)

// Store is a json document backed key value store of site configurations keyed by domain
type Store struct {
	log  *zap.SugaredLogger
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// New returns a store reading and writing the json document at path
func New(log *zap.SugaredLogger, fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{
		log:  log,
		fs:   fs,
		path: path,
	}
}

// Get returns the configuration of a website
func (s *Store) Get(website string) (*SiteConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sites, err := s.load()
	if err != nil {
		return nil, err
	}

	site, ok := sites[website]
	if !ok || site == nil {
		return nil, backuperrors.SiteNotFoundError{Website: website}
	}

	return site, nil
}

// Set stores the configuration of a website
func (s *Store) Set(website string, config *SiteConfig) error {
	return s.Update(website, func(existing *SiteConfig) (*SiteConfig, error) {
		return config, nil
	})
}

// Update applies fn to the configuration of a website under the store lock and persists the result.
// existing is nil if the website is not configured yet.
func (s *Store) Update(website string, fn func(existing *SiteConfig) (*SiteConfig, error)) error {
	if website == "" {
		return errors.New("website must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, sites, err := s.load()
	if err != nil {
		return err
	}

	updated, err := fn(sites[website])
	if err != nil {
		return err
	}
	if updated == nil {
		return fmt.Errorf("refusing to store empty configuration for website %q", website)
	}
	if updated.Domain == "" {
		updated.Domain = website
	}
	sites[website] = updated

	return s.save(doc, sites)
}

// Delete removes the configuration of a website
func (s *Store) Delete(website string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, sites, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := sites[website]; !ok {
		return backuperrors.SiteNotFoundError{Website: website}
	}
	delete(sites, website)

	return s.save(doc, sites)
}

// List returns all configured domains in alphabetical order
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sites, err := s.load()
	if err != nil {
		return nil, err
	}

	var domains []string
	for domain := range sites {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	return domains, nil
}

func (s *Store) load() (map[string]json.RawMessage, map[string]*SiteConfig, error) {
	doc := map[string]json.RawMessage{}
	sites := map[string]*SiteConfig{}

	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return doc, sites, nil
		}
		return nil, nil, fmt.Errorf("unable to read site configuration %q: %w", s.path, err)
	}
	if len(raw) == 0 {
		return doc, sites, nil
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("unable to parse site configuration %q: %w", s.path, err)
	}

	if rawSites, ok := doc[sitesKey]; ok && string(rawSites) != "null" {
		if err := json.Unmarshal(rawSites, &sites); err != nil {
			return nil, nil, fmt.Errorf("unable to parse sites in %q: %w", s.path, err)
		}
	}

	return doc, sites, nil
}

func (s *Store) save(doc map[string]json.RawMessage, sites map[string]*SiteConfig) error {
	rawSites, err := json.Marshal(sites)
	if err != nil {
		return err
	}
	doc[sitesKey] = rawSites

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("unable to create directory of site configuration: %w", err)
	}

	// the document is shared with the other wp-docker tools, keep its permissions
	mode := iofs.FileMode(0600)
	if info, err := s.fs.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, mode); err != nil {
		return fmt.Errorf("unable to write site configuration: %w", err)
	}
	if err := s.fs.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("unable to set permissions of site configuration: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("unable to replace site configuration: %w", err)
	}

	s.log.Debugw("saved site configuration", "path", s.path, "sites", len(sites))

	return nil
}
