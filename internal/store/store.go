package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/taxpilot/models"
)

// Store wraps the Postgres connection used by all taxpilot components.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of profile vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 768

// UnknownAttribute is the category value persisted for coarse profile fields
// the client did not supply. Keeping it explicit (instead of NULL/empty) keeps
// persona hashing total.
const UnknownAttribute = "unknown"

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return id, hash, err
}

// UpsertFinancialDNA stores or replaces a user's financial profile row.
// The embedding is written as a pgvector literal; a zero vector is valid.
func (s *Store) UpsertFinancialDNA(ctx context.Context, dna models.FinancialDNA) error {
	if strings.TrimSpace(dna.UserID) == "" {
		return fmt.Errorf("user_id required")
	}
	if len(dna.Embedding) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(dna.Embedding)
	if err != nil {
		return err
	}
	expenses, err := marshalJSONMap(dna.MonthlyExpenses)
	if err != nil {
		return fmt.Errorf("marshal monthly_expenses: %w", err)
	}
	assets, err := marshalJSONMap(dna.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	taxStatus, err := marshalJSONMap(dna.TaxStatus)
	if err != nil {
		return fmt.Errorf("marshal tax_status: %w", err)
	}
	goals := dna.Goals
	if goals == nil {
		goals = []string{}
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO user_financial_dna
  (user_id, notes_text, monthly_income, monthly_expenses, savings_rate, assets, tax_status, embedding, persona_hash, age_group, income_level, occupation, goals, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,$9,$10,$11,$12,$13,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  notes_text = EXCLUDED.notes_text,
  monthly_income = EXCLUDED.monthly_income,
  monthly_expenses = EXCLUDED.monthly_expenses,
  savings_rate = EXCLUDED.savings_rate,
  assets = EXCLUDED.assets,
  tax_status = EXCLUDED.tax_status,
  embedding = EXCLUDED.embedding,
  persona_hash = EXCLUDED.persona_hash,
  age_group = EXCLUDED.age_group,
  income_level = EXCLUDED.income_level,
  occupation = EXCLUDED.occupation,
  goals = EXCLUDED.goals,
  updated_at = NOW();
`, dna.UserID, dna.NotesText, dna.MonthlyIncome, expenses, dna.SavingsRate, assets, taxStatus,
		vectorLiteral, dna.PersonaHash, dna.AgeGroup, dna.IncomeLevel, dna.Occupation, pq.Array(goals))
	return err
}

// GetFinancialDNA fetches a user's profile. Absence is reported via the bool,
// not an error.
func (s *Store) GetFinancialDNA(ctx context.Context, userID string) (models.FinancialDNA, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return models.FinancialDNA{}, false, fmt.Errorf("user_id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT user_id, notes_text, monthly_income, monthly_expenses, savings_rate, assets, tax_status, embedding::text, persona_hash, age_group, income_level, occupation, goals, updated_at
FROM user_financial_dna
WHERE user_id=$1
`, userID)
	var (
		dna           models.FinancialDNA
		expensesBytes []byte
		assetsBytes   []byte
		taxBytes      []byte
		vectorText    sql.NullString
		goals         pq.StringArray
	)
	if err := row.Scan(&dna.UserID, &dna.NotesText, &dna.MonthlyIncome, &expensesBytes, &dna.SavingsRate,
		&assetsBytes, &taxBytes, &vectorText, &dna.PersonaHash, &dna.AgeGroup, &dna.IncomeLevel,
		&dna.Occupation, &goals, &dna.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FinancialDNA{}, false, nil
		}
		return models.FinancialDNA{}, false, err
	}
	if len(expensesBytes) > 0 {
		_ = json.Unmarshal(expensesBytes, &dna.MonthlyExpenses)
	}
	if len(assetsBytes) > 0 {
		_ = json.Unmarshal(assetsBytes, &dna.Assets)
	}
	if len(taxBytes) > 0 {
		_ = json.Unmarshal(taxBytes, &dna.TaxStatus)
	}
	if vectorText.Valid {
		vec, err := decodeVectorLiteral(vectorText.String)
		if err != nil {
			return models.FinancialDNA{}, false, err
		}
		dna.Embedding = vec
	}
	dna.Goals = []string(goals)
	return dna, true, nil
}

// DeleteFinancialDNA removes a user's profile row. Deleting an absent row is
// not an error.
func (s *Store) DeleteFinancialDNA(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user_id required")
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM user_financial_dna WHERE user_id=$1`, userID)
	return err
}

// FindSimilarUsers returns the closest other profiles by embedding cosine
// similarity, descending, at least threshold, at most limit. A user without a
// profile yields no rows, which callers must treat as "no evidence".
func (s *Store) FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]models.SimilarUser, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id required")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT d.user_id, d.persona_hash, 1 - (d.embedding <=> me.embedding) AS similarity, d.age_group, d.income_level, d.occupation, d.goals
FROM user_financial_dna d
JOIN user_financial_dna me ON me.user_id = $1
WHERE d.user_id <> $1
  AND d.embedding IS NOT NULL
  AND me.embedding IS NOT NULL
  AND 1 - (d.embedding <=> me.embedding) >= $2
ORDER BY d.embedding <=> me.embedding
LIMIT $3
`, userID, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []models.SimilarUser
	for rows.Next() {
		var (
			su    models.SimilarUser
			goals pq.StringArray
		)
		if err := rows.Scan(&su.UserID, &su.PersonaHash, &su.Similarity, &su.AgeGroup, &su.IncomeLevel, &su.Occupation, &goals); err != nil {
			return nil, err
		}
		su.Goals = []string(goals)
		results = append(results, su)
	}
	return results, rows.Err()
}

// GetSuccessPatterns returns aggregated patterns for a persona cohort, ranked
// by success_count descending with action name as the stable tie-break.
// Rows with total_count = 0 are excluded so success_rate is always defined.
func (s *Store) GetSuccessPatterns(ctx context.Context, personaHash string, topK int) ([]models.SuccessPattern, error) {
	if strings.TrimSpace(personaHash) == "" {
		return nil, fmt.Errorf("persona_hash required")
	}
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT persona_hash, action, success_count, total_count, avg_outcome, context
FROM aggregated_patterns
WHERE persona_hash = $1 AND total_count > 0
ORDER BY success_count DESC, action ASC
LIMIT $2
`, personaHash, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []models.SuccessPattern
	for rows.Next() {
		var (
			sp       models.SuccessPattern
			ctxBytes []byte
		)
		if err := rows.Scan(&sp.PersonaHash, &sp.Action, &sp.SuccessCount, &sp.TotalCount, &sp.AvgOutcome, &ctxBytes); err != nil {
			return nil, err
		}
		if len(ctxBytes) > 0 {
			_ = json.Unmarshal(ctxBytes, &sp.Context)
		}
		sp.SuccessRate = float64(sp.SuccessCount) / float64(sp.TotalCount)
		results = append(results, sp)
	}
	return results, rows.Err()
}

// ContributeOutcome folds one observed outcome into the cohort's pattern for
// the action. The increment and running mean are a single server-side upsert
// so concurrent contributions for the same key never lose updates.
func (s *Store) ContributeOutcome(ctx context.Context, personaHash, action string, outcome float64, success bool) error {
	if strings.TrimSpace(personaHash) == "" {
		return fmt.Errorf("persona_hash required")
	}
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("action required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO aggregated_patterns (persona_hash, action, success_count, total_count, avg_outcome, context, updated_at)
VALUES ($1,$2,CASE WHEN $3 THEN 1 ELSE 0 END,1,$4,'{}',NOW())
ON CONFLICT (persona_hash, action) DO UPDATE SET
  success_count = aggregated_patterns.success_count + CASE WHEN $3 THEN 1 ELSE 0 END,
  total_count = aggregated_patterns.total_count + 1,
  avg_outcome = aggregated_patterns.avg_outcome + ($4 - aggregated_patterns.avg_outcome) / (aggregated_patterns.total_count + 1),
  updated_at = NOW();
`, personaHash, action, success, outcome)
	return err
}

// InsertBehaviorEvent appends one interaction event. Events are never mutated
// after insert.
func (s *Store) InsertBehaviorEvent(ctx context.Context, ev models.BehaviorEvent) error {
	if strings.TrimSpace(ev.UserID) == "" {
		return fmt.Errorf("user_id required")
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return fmt.Errorf("event_type required")
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO user_behavior_events (id, user_id, event_type, topic, duration_seconds, scroll_depth, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`, id, ev.UserID, ev.EventType, ev.Topic, ev.DurationSeconds, ev.ScrollDepth)
	return err
}

// ListBehaviorEvents returns a user's events since the given instant, oldest
// first so summaries can break ties by first occurrence.
func (s *Store) ListBehaviorEvents(ctx context.Context, userID string, since time.Time) ([]models.BehaviorEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id required")
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, event_type, topic, duration_seconds, scroll_depth, created_at
FROM user_behavior_events
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at ASC
`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []models.BehaviorEvent
	for rows.Next() {
		var ev models.BehaviorEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &ev.Topic, &ev.DurationSeconds, &ev.ScrollDepth, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func marshalJSONMap[V any](m map[string]V) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
