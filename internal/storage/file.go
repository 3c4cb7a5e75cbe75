package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

// fileStore keeps everything in two files next to Path:
//   - <prefix>.state.json  users + dedup, rewritten atomically on every change
//   - <prefix>.audit.jsonl append-only audit trail
type fileStore struct {
	log   logx.Logger
	seed  []string
	now   func() time.Time
	state string
	audit string

	rename func(oldpath, newpath string) error

	mu    sync.Mutex
	af    *os.File
	users map[string]map[string]domain.User // tenant -> id -> user
	dedup map[string]int64                  // unix milli
}

type fileState struct {
	Users []domain.User    `json:"users"`
	Dedup map[string]int64 `json:"dedup"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/paybot"
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:    log,
		seed:   cfg.Tenants,
		now:    time.Now,
		rename: os.Rename,
		state:  prefix + ".state.json",
		audit:  prefix + ".audit.jsonl",
		users:  map[string]map[string]domain.User{},
		dedup:  map[string]int64{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(s.audit, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.af = af
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.state)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	for _, u := range st.Users {
		s.putLocked(u)
	}
	for k, v := range st.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) putLocked(u domain.User) {
	m := s.users[u.TenantID]
	if m == nil {
		m = map[string]domain.User{}
		s.users[u.TenantID] = m
	}
	m[u.ID] = u
}

// flushLocked writes the state file via tmp + rename.
func (s *fileStore) flushLocked() error {
	st := fileState{Dedup: s.dedup}
	for _, m := range s.users {
		for _, u := range m {
			st.Users = append(st.Users, u)
		}
	}
	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].Key() < st.Users[j].Key() })

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.state + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.state)
}

func (s *fileStore) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make([]string, 0, len(s.users))
	for t := range s.users {
		found = append(found, t)
	}
	return mergeTenants(s.seed, found), nil
}

func (s *fileStore) LoadUsersForTenant(ctx context.Context, tenant string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.users[tenant]
	out := make([]domain.User, 0, len(m))
	for _, u := range m {
		// Round-trip through JSON so callers never alias stored slices.
		b, err := json.Marshal(u)
		if err != nil {
			return nil, err
		}
		var cp domain.User
		if err := json.Unmarshal(b, &cp); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) SaveUser(ctx context.Context, u *domain.User) error {
	if err := stamp(u, s.now()); err != nil {
		return err
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	var cp domain.User
	if err := json.Unmarshal(b, &cp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(cp)
	return s.flushLocked()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.af == nil {
		return ErrDisabled
	}
	_, err = s.af.Write(append(b, '\n'))
	return err
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	return s.flushLocked()
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Prune(ctx context.Context, now, auditBefore time.Time) (PruneReport, error) {
	var rep PruneReport
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.UnixMilli()
	for k, v := range s.dedup {
		if v < cutoff {
			delete(s.dedup, k)
			rep.Dedup++
		}
	}
	if rep.Dedup > 0 {
		if err := s.flushLocked(); err != nil {
			return rep, err
		}
	}
	if auditBefore.IsZero() {
		return rep, nil
	}
	n, err := s.rewriteAuditLocked(auditBefore)
	rep.Audit = n
	return rep, err
}

// rewriteAuditLocked drops audit lines older than before.
func (s *fileStore) rewriteAuditLocked(before time.Time) (int64, error) {
	f, err := os.Open(s.audit)
	if err != nil {
		return 0, err
	}
	var (
		keep    [][]byte
		dropped int64
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e AuditEntry
		line := append([]byte(nil), sc.Bytes()...)
		if err := json.Unmarshal(line, &e); err == nil && e.At.Before(before) && e.Kind != KindLedgerTransaction {
			dropped++
			continue
		}
		keep = append(keep, line)
	}
	_ = f.Close()
	if err := sc.Err(); err != nil || dropped == 0 {
		return 0, err
	}

	tmp := s.audit + ".tmp"
	var buf []byte
	for _, l := range keep {
		buf = append(append(buf, l...), '\n')
	}
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return 0, err
	}
	if s.af != nil {
		_ = s.af.Close()
		s.af = nil
	}
	renameErr := s.rename(tmp, s.audit)
	if renameErr != nil {
		_ = os.Remove(tmp)
	}
	// The log is reopened whether or not the rewrite landed.
	af, err := os.OpenFile(s.audit, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, errors.Join(renameErr, err)
	}
	s.af = af
	if renameErr != nil {
		return 0, fmt.Errorf("rewrite audit log: %w", renameErr)
	}
	return dropped, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.af == nil {
		return nil
	}
	err := s.af.Close()
	s.af = nil
	return err
}
