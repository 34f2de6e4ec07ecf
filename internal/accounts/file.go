package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	recordExt       = ".yml"
	aliasesFileName = "aliases.yml"
)

// FileStore keeps one YAML file per account plus a single alias file.
type FileStore struct {
	dir    string
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time

	aliasMu sync.Mutex
	aliases map[string]string
}

// legacyRecord is the layout written by earlier bot versions (camelCase keys,
// login time in epoch milliseconds).
type legacyRecord struct {
	Number    string `yaml:"number"`
	Login     string `yaml:"login"`
	UserID    string `yaml:"userId"`
	SessionID string `yaml:"sessionId"`
	Card      string `yaml:"card"`
	LoginTime int64  `yaml:"loginTime"`
}

// NewFileStore opens (creating if needed) a file store rooted at dir.
func NewFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("accounts directory is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{
		dir:     dir,
		logger:  log.With(slog.String("component", "accounts"), slog.String("backend", "file")),
		locks:   newKeyedMutex(),
		now:     time.Now,
		aliases: map[string]string{},
	}
	if err := s.loadAliases(); err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	return s, nil
}

func (s *FileStore) recordPath(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+recordExt)
}

func (s *FileStore) Get(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.readRecord(s.recordPath(id), id)
}

func (s *FileStore) Merge(ctx context.Context, id string, patch Patch) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.now().UTC()
	rec, err := s.readRecord(s.recordPath(id), id)
	exists := err == nil
	if errors.Is(err, ErrNotFound) {
		rec = Account{CanonicalID: id, CreatedAt: now}
	} else if err != nil {
		return Account{}, err
	}
	if !patch.Matches(rec) {
		if !exists {
			return Account{}, ErrNotFound
		}
		return rec, nil
	}
	rec = patch.Apply(rec)
	rec.CanonicalID = id
	rec.UpdatedAt = now
	if err := s.writeRecord(s.recordPath(id), rec); err != nil {
		return Account{}, err
	}
	return rec, nil
}

func (s *FileStore) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := os.Remove(s.recordPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	changed := false
	for variant, owner := range s.aliases {
		if owner == id {
			delete(s.aliases, variant)
			changed = true
		}
	}
	if changed {
		if err := s.saveAliasesLocked(); err != nil {
			return err
		}
	}
	s.logger.Info("account removed", slog.String("id", id))
	return nil
}

func (s *FileStore) RegisterAlias(ctx context.Context, id, variant string) error {
	id = strings.TrimSpace(id)
	variant = strings.TrimSpace(variant)
	if id == "" || variant == "" {
		return ErrInvalidID
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := os.Stat(s.recordPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}

	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	if s.aliases[variant] == id {
		return nil
	}
	previous, had := s.aliases[variant]
	s.aliases[variant] = id
	if err := s.saveAliasesLocked(); err != nil {
		if had {
			s.aliases[variant] = previous
		} else {
			delete(s.aliases, variant)
		}
		return err
	}
	return nil
}

func (s *FileStore) LookupAlias(ctx context.Context, variant string) (string, error) {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return "", ErrInvalidID
	}
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	id, ok := s.aliases[variant]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *FileStore) List(ctx context.Context) ([]Account, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == aliasesFileName || !strings.HasSuffix(name, recordExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.dir, name), key)
		if err != nil {
			s.logger.Warn("skip unreadable account", slog.String("file", name), slog.Any("error", err))
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

// MigrateLegacy moves a record stored under the raw transport address to its canonical key.
func (s *FileStore) MigrateLegacy(ctx context.Context, raw, id string) (Account, error) {
	raw = strings.TrimSpace(raw)
	id = strings.TrimSpace(id)
	if raw == "" || id == "" {
		return Account{}, ErrInvalidID
	}
	if raw == id {
		return Account{}, ErrNotFound
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if rec, err := s.readRecord(s.recordPath(id), id); err == nil {
		return rec, nil
	}
	legacyPath := s.recordPath(raw)
	rec, err := s.readRecord(legacyPath, id)
	if err != nil {
		return Account{}, err
	}
	rec.CanonicalID = id
	rec.UpdatedAt = s.now().UTC()
	if err := s.writeRecord(s.recordPath(id), rec); err != nil {
		return Account{}, err
	}
	if err := os.Remove(legacyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("legacy account cleanup failed", slog.String("raw", raw), slog.Any("error", err))
	}
	s.logger.Info("legacy account migrated", slog.String("raw", raw), slog.String("id", id))
	return rec, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readRecord(path, id string) (Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	var rec Account
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Account{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if rec.CanonicalID == "" {
		var legacy legacyRecord
		if err := yaml.Unmarshal(data, &legacy); err == nil {
			rec = fromLegacy(legacy)
		}
	}
	rec.CanonicalID = id
	return rec, nil
}

func fromLegacy(l legacyRecord) Account {
	rec := Account{
		Login:     l.Login,
		UserID:    l.UserID,
		SessionID: l.SessionID,
		Card:      l.Card,
	}
	if l.LoginTime > 0 {
		rec.LoginTime = time.UnixMilli(l.LoginTime).UTC()
	}
	return rec
}

func (s *FileStore) writeRecord(path string, rec Account) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (s *FileStore) loadAliases() error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, aliasesFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	aliases := map[string]string{}
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return err
	}
	s.aliases = aliases
	return nil
}

func (s *FileStore) saveAliasesLocked() error {
	data, err := yaml.Marshal(s.aliases)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, aliasesFileName), data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
