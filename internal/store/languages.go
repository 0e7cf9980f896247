package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// InstallLanguage records name as installed with optional scope overrides.
// Installing an installed language replaces its scopes and refreshes
// updated_at; installed_at is kept.
func (s *Store) InstallLanguage(name string, scopes []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO languages (name, installed_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, now, now,
	); err != nil {
		return fmt.Errorf("install language %s: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM language_scopes WHERE language = ?", name); err != nil {
		return fmt.Errorf("clear scopes of %s: %w", name, err)
	}
	for _, scope := range scopes {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO language_scopes (language, scope) VALUES (?, ?)",
			name, scope,
		); err != nil {
			return fmt.Errorf("insert scope %s of %s: %w", scope, name, err)
		}
	}
	return tx.Commit()
}

// RemoveLanguage deletes name from the ledger.
func (s *Store) RemoveLanguage(name string) error {
	res, err := s.db.Exec("DELETE FROM languages WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("remove language %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove language %s: %w", name, ErrNotInstalled)
	}
	return nil
}

// TouchLanguage refreshes updated_at for an installed language.
func (s *Store) TouchLanguage(name string) error {
	res, err := s.db.Exec("UPDATE languages SET updated_at = ? WHERE name = ?", s.now().UTC(), name)
	if err != nil {
		return fmt.Errorf("update language %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update language %s: %w", name, ErrNotInstalled)
	}
	return nil
}

// Language returns the ledger row for name.
func (s *Store) Language(name string) (*Language, error) {
	l := &Language{Name: name}
	err := s.db.QueryRow(
		"SELECT installed_at, updated_at FROM languages WHERE name = ?", name,
	).Scan(&l.InstalledAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("language %s: %w", name, ErrNotInstalled)
	}
	if err != nil {
		return nil, fmt.Errorf("language %s: %w", name, err)
	}
	scopes, err := s.scopesOf(name)
	if err != nil {
		return nil, err
	}
	l.Scopes = scopes
	return l, nil
}

// InstalledLanguages returns every installed language, sorted by name.
func (s *Store) InstalledLanguages() ([]*Language, error) {
	rows, err := s.db.Query("SELECT name, installed_at, updated_at FROM languages ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query languages: %w", err)
	}
	var out []*Language
	for rows.Next() {
		l := &Language{}
		if err := rows.Scan(&l.Name, &l.InstalledAt, &l.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan language: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate languages: %w", err)
	}
	rows.Close()

	for _, l := range out {
		scopes, err := s.scopesOf(l.Name)
		if err != nil {
			return nil, err
		}
		l.Scopes = scopes
	}
	return out, nil
}

// ScopeOverrides returns the scope overrides recorded for installed
// languages, keyed by language name.
func (s *Store) ScopeOverrides() (map[string][]string, error) {
	rows, err := s.db.Query("SELECT language, scope FROM language_scopes")
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var lang, scope string
		if err := rows.Scan(&lang, &scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		out[lang] = append(out[lang], scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	for _, scopes := range out {
		sort.Strings(scopes)
	}
	return out, nil
}

func (s *Store) scopesOf(name string) ([]string, error) {
	rows, err := s.db.Query("SELECT scope FROM language_scopes WHERE language = ? ORDER BY scope", name)
	if err != nil {
		return nil, fmt.Errorf("query scopes of %s: %w", name, err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}
