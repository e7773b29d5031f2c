package models

import "time"

// FinancialDNA is a user's persisted financial profile. One row per user,
// upserted on every profile update.
type FinancialDNA struct {
	UserID          string                 `json:"user_id"`
	NotesText       string                 `json:"notes_text"`
	MonthlyIncome   float64                `json:"monthly_income"`
	MonthlyExpenses map[string]float64     `json:"monthly_expenses"`
	SavingsRate     float64                `json:"savings_rate"`
	Assets          map[string]float64     `json:"assets"`
	TaxStatus       map[string]interface{} `json:"tax_status"`
	Embedding       []float32              `json:"-"`
	PersonaHash     string                 `json:"persona_hash"`
	AgeGroup        string                 `json:"age_group"`
	IncomeLevel     string                 `json:"income_level"`
	Occupation      string                 `json:"occupation"`
	Goals           []string               `json:"goals"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// SimilarUser is a nearest-neighbor hit over profile embeddings. Computed per
// query, never persisted.
type SimilarUser struct {
	UserID      string   `json:"user_id"`
	PersonaHash string   `json:"persona_hash"`
	Similarity  float64  `json:"similarity"`
	AgeGroup    string   `json:"age_group"`
	IncomeLevel string   `json:"income_level"`
	Occupation  string   `json:"occupation"`
	Goals       []string `json:"goals"`
}

// SuccessPattern aggregates outcomes for one action within a persona cohort.
// SuccessRate is derived on read from success_count/total_count.
type SuccessPattern struct {
	PersonaHash  string                 `json:"persona_hash"`
	Action       string                 `json:"action"`
	SuccessCount int64                  `json:"success_count"`
	TotalCount   int64                  `json:"total_count"`
	SuccessRate  float64                `json:"success_rate"`
	AvgOutcome   float64                `json:"avg_outcome"`
	Context      map[string]interface{} `json:"context"`
}

// BehaviorEvent is one append-only interaction record.
type BehaviorEvent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	EventType       string    `json:"event_type"`
	Topic           string    `json:"topic"`
	DurationSeconds float64   `json:"duration_seconds"`
	ScrollDepth     float64   `json:"scroll_depth"`
	CreatedAt       time.Time `json:"created_at"`
}

// TopicCount pairs a topic with its frequency within a summary window.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// BehaviorSummary aggregates a user's events over a trailing window.
type BehaviorSummary struct {
	TopTopics   []TopicCount     `json:"top_topics"`
	EventCounts map[string]int64 `json:"event_counts"`
}

// AdviceResult is the outcome of one advice request. The counts reflect the
// evidence actually folded into the prompt.
type AdviceResult struct {
	Advice               string `json:"advice"`
	SimilarUsersCount    int    `json:"similar_users_count"`
	SuccessPatternsCount int    `json:"success_patterns_count"`
}
