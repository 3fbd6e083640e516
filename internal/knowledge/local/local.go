// Package local is an in-repo reference implementation of
// knowledge.Store backed by SQLite, grounded on the teacher's
// internal/search/fts.go keyword-search pattern. It implements the
// exact scoring formulas the core's node executors depend on for
// heuristic ranking and failure matching, so it is suitable for tests
// and single-node deployments where no external knowledge service is
// configured.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/toseekandfind/multi-agent-sandbox/internal/knowledge"
)

// Store is a SQLite-backed knowledge.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge/local: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("knowledge/local: pragma: %w", err)
		}
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS golden_rules (
	id TEXT PRIMARY KEY, domain TEXT, text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS heuristics (
	id TEXT PRIMARY KEY, domain TEXT, text TEXT NOT NULL,
	base_score REAL NOT NULL DEFAULT 0.5, validated_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS failures (
	id TEXT PRIMARY KEY, domain TEXT, title TEXT NOT NULL, summary TEXT NOT NULL,
	tags TEXT, created_at DATETIME NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS failures_fts USING fts5(id UNINDEXED, title, summary);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("knowledge/local: init schema: %w", err)
	}
	return nil
}

var _ knowledge.Store = (*Store)(nil)

const (
	recencyHalfLife = 7 * 24 * time.Hour
	recencyFloor    = 0.25
	failureWindow   = 30 * 24 * time.Hour
	jaccardMinToken = 4
	jaccardThreshold = 0.30
	topK            = 5
)

// AddGoldenRule inserts an always-included rule.
func (s *Store) AddGoldenRule(id string, domain knowledge.Domain, text string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO golden_rules (id, domain, text) VALUES (?, ?, ?)`, id, string(domain), text)
	return err
}

// AddHeuristic inserts a scored heuristic.
func (s *Store) AddHeuristic(id string, domain knowledge.Domain, text string, baseScore float64, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO heuristics (id, domain, text, base_score, validated_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		id, string(domain), text, baseScore, createdAt)
	return err
}

// ValidateHeuristic increments a heuristic's validated_count, feeding
// the validation_boost term of the scoring formula.
func (s *Store) ValidateHeuristic(id string) error {
	_, err := s.db.Exec(`UPDATE heuristics SET validated_count = validated_count + 1 WHERE id = ?`, id)
	return err
}

type heuristicRow struct {
	id             string
	domain         string
	text           string
	baseScore      float64
	validatedCount int
	createdAt      time.Time
}

func (s *Store) Query(ctx context.Context, q knowledge.Query) (string, error) {
	var sections []string

	rules, err := s.goldenRules(ctx)
	if err != nil {
		return "", err
	}
	if len(rules) > 0 {
		sections = append(sections, "Golden rules:\n"+strings.Join(rules, "\n"))
	}

	heuristics, err := s.topHeuristics(ctx, q.Domain)
	if err != nil {
		return "", err
	}
	if len(heuristics) > 0 {
		sections = append(sections, "Relevant heuristics:\n"+strings.Join(heuristics, "\n"))
	}

	failures, err := s.similarFailures(ctx, q.TaskText)
	if err != nil {
		return "", err
	}
	if len(failures) > 0 {
		sections = append(sections, "Similar past failures:\n"+strings.Join(failures, "\n"))
	}

	text := strings.Join(sections, "\n\n")
	if q.MaxTokens > 0 && len(text) > q.MaxTokens*4 {
		text = text[:q.MaxTokens*4]
	}
	return text, nil
}

func (s *Store) goldenRules(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text FROM golden_rules`)
	if err != nil {
		return nil, fmt.Errorf("knowledge/local: golden rules: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, "- "+text)
	}
	return out, rows.Err()
}

// topHeuristics implements: relevance = base * recency_decay(7d
// half-life, floor 0.25) * domain_match_boost(1.5) *
// validation_boost(x1.4 if validated>=10, x1.2 if validated>=5), capped
// at 1.0.
func (s *Store) topHeuristics(ctx context.Context, domain knowledge.Domain) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, domain, text, base_score, validated_count, created_at FROM heuristics`)
	if err != nil {
		return nil, fmt.Errorf("knowledge/local: heuristics: %w", err)
	}
	defer rows.Close()

	var all []heuristicRow
	for rows.Next() {
		var h heuristicRow
		if err := rows.Scan(&h.id, &h.domain, &h.text, &h.baseScore, &h.validatedCount, &h.createdAt); err != nil {
			return nil, err
		}
		all = append(all, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		text  string
		score float64
	}
	var results []scored
	now := time.Now()
	for _, h := range all {
		score := h.baseScore * recencyDecay(now.Sub(h.createdAt)) * domainBoost(h.domain, string(domain)) * validationBoost(h.validatedCount)
		if score > 1.0 {
			score = 1.0
		}
		results = append(results, scored{text: h.text, score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, fmt.Sprintf("- (%.2f) %s", r.score, r.text))
	}
	return out, nil
}

func recencyDecay(age time.Duration) float64 {
	decay := math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
	if decay < recencyFloor {
		return recencyFloor
	}
	return decay
}

func domainBoost(heuristicDomain, queryDomain string) float64 {
	if queryDomain != "" && heuristicDomain == queryDomain {
		return 1.5
	}
	return 1.0
}

func validationBoost(validatedCount int) float64 {
	switch {
	case validatedCount >= 10:
		return 1.4
	case validatedCount >= 5:
		return 1.2
	default:
		return 1.0
	}
}

// similarFailures narrows candidates with an FTS5 MATCH query against
// the failures_fts index (the same full-text mechanism the teacher's
// internal/search/fts.go uses), then computes the exact Jaccard score
// over >=4-char keywords of title+summary for the candidate set,
// keeping only those within the last 30 days and above the 0.30
// threshold.
func (s *Store) similarFailures(ctx context.Context, taskText string) ([]string, error) {
	queryTokens := keywordSet(taskText)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	matchQuery := strings.Join(keys(queryTokens), " OR ")

	cutoff := time.Now().Add(-failureWindow)
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.title, f.summary FROM failures f
		JOIN failures_fts ON failures_fts.id = f.id
		WHERE failures_fts MATCH ? AND f.created_at >= ?`,
		matchQuery, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge/local: failures: %w", err)
	}
	defer rows.Close()
	type scored struct {
		text  string
		score float64
	}
	var results []scored
	for rows.Next() {
		var title, summary string
		if err := rows.Scan(&title, &summary); err != nil {
			return nil, err
		}
		tokens := keywordSet(title + " " + summary)
		j := jaccard(queryTokens, tokens)
		if j >= jaccardThreshold {
			results = append(results, scored{text: fmt.Sprintf("- (%.2f) %s: %s", j, title, summary), score: j})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.text)
	}
	return out, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func keywordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) >= jaccardMinToken {
			set[word] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// RecordOutcome inserts a failure record (for future similarity
// matching) whenever the outcome did not succeed. Successful outcomes
// are not recorded as failures; a separate heuristic-validation flow
// (ValidateHeuristic) tracks positive signal.
func (s *Store) RecordOutcome(ctx context.Context, outcome knowledge.Outcome) error {
	if outcome.Succeeded {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("knowledge/local: record outcome: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO failures (id, domain, title, summary, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.NodeExecutionID, string(outcome.Domain), outcome.Title, outcome.Summary,
		strings.Join(outcome.Tags, ","), outcome.OccurredAt,
	); err != nil {
		return fmt.Errorf("knowledge/local: record outcome: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO failures_fts (id, title, summary) VALUES (?, ?, ?)`,
		outcome.NodeExecutionID, outcome.Title, outcome.Summary,
	); err != nil {
		return fmt.Errorf("knowledge/local: index outcome: %w", err)
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
