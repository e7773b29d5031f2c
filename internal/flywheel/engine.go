package flywheel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/mohammad-safakhou/taxpilot/config"
	"github.com/mohammad-safakhou/taxpilot/models"
	"github.com/mohammad-safakhou/taxpilot/provider"
)

// Store is the persistence surface the engine depends on. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	UpsertFinancialDNA(ctx context.Context, dna models.FinancialDNA) error
	GetFinancialDNA(ctx context.Context, userID string) (models.FinancialDNA, bool, error)
	DeleteFinancialDNA(ctx context.Context, userID string) error
	FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]models.SimilarUser, error)
	GetSuccessPatterns(ctx context.Context, personaHash string, topK int) ([]models.SuccessPattern, error)
	ContributeOutcome(ctx context.Context, personaHash, action string, outcome float64, success bool) error
	InsertBehaviorEvent(ctx context.Context, ev models.BehaviorEvent) error
	ListBehaviorEvents(ctx context.Context, userID string, since time.Time) ([]models.BehaviorEvent, error)
}

// Engine implements the data flywheel: persona cohorting, similarity search,
// outcome aggregation and advice composition. It holds no state of its own;
// everything durable lives in the store.
type Engine struct {
	store  Store
	llm    provider.Provider
	cfg    config.FlywheelConfig
	logger *log.Logger
}

// NewEngine wires the engine with its collaborators. All dependencies are
// injected; there are no package-level singletons.
func NewEngine(st Store, llm provider.Provider, cfg config.FlywheelConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[FLYWHEEL] ", log.LstdFlags)
	}
	return &Engine{store: st, llm: llm, cfg: cfg, logger: logger}
}

// UpdateRequest carries a profile update. Coarse fields left empty are
// persisted as the explicit "unknown" category so persona hashing stays total.
type UpdateRequest struct {
	UserID          string
	NotesText       string
	MonthlyIncome   float64
	MonthlyExpenses map[string]float64
	SavingsRate     float64
	Assets          map[string]float64
	TaxStatus       map[string]interface{}
	AgeGroup        string
	IncomeLevel     string
	Occupation      string
	Goals           []string
}

// UpdateFinancialDNA validates, embeds and upserts a user's profile. The
// embedding is recomputed on every update since the notes may have changed.
func (e *Engine) UpdateFinancialDNA(ctx context.Context, req UpdateRequest) (models.FinancialDNA, error) {
	if req.UserID == "" {
		return models.FinancialDNA{}, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if req.MonthlyIncome < 0 {
		return models.FinancialDNA{}, &ValidationError{Field: "monthly_income", Reason: "must be >= 0"}
	}

	notes := req.NotesText
	if e.cfg.MaxNotesChars > 0 {
		if r := []rune(notes); len(r) > e.cfg.MaxNotesChars {
			notes = string(r[:e.cfg.MaxNotesChars])
		}
	}

	embedding, err := e.embedNotes(ctx, notes)
	if err != nil {
		return models.FinancialDNA{}, fmt.Errorf("embed notes: %w", err)
	}

	dna := models.FinancialDNA{
		UserID:          req.UserID,
		NotesText:       notes,
		MonthlyIncome:   req.MonthlyIncome,
		MonthlyExpenses: req.MonthlyExpenses,
		SavingsRate:     req.SavingsRate,
		Assets:          req.Assets,
		TaxStatus:       req.TaxStatus,
		Embedding:       embedding,
		PersonaHash:     PersonaHash(req.AgeGroup, req.IncomeLevel, req.Occupation, req.Goals),
		AgeGroup:        normalizeAttribute(req.AgeGroup),
		IncomeLevel:     normalizeAttribute(req.IncomeLevel),
		Occupation:      normalizeAttribute(req.Occupation),
		Goals:           req.Goals,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := e.store.UpsertFinancialDNA(ctx, dna); err != nil {
		return models.FinancialDNA{}, &TransientStoreError{Op: "upsert financial dna", Err: err}
	}
	return dna, nil
}

// embedNotes delegates to the embedding capability. Empty notes never reach
// the provider; they map to a zero vector of the configured dimensionality.
func (e *Engine) embedNotes(ctx context.Context, notes string) ([]float32, error) {
	dims := e.cfg.EmbeddingDimensions
	if dims <= 0 {
		dims = 768
	}
	if notes == "" {
		return make([]float32, dims), nil
	}
	vecs, err := e.llm.CreateEmbedding(ctx, []string{notes})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return make([]float32, dims), nil
	}
	return vecs[0], nil
}

// GetFinancialDNA loads a profile; absence is a normal state reported via the
// bool, not an error.
func (e *Engine) GetFinancialDNA(ctx context.Context, userID string) (models.FinancialDNA, bool, error) {
	dna, found, err := e.store.GetFinancialDNA(ctx, userID)
	if err != nil {
		return models.FinancialDNA{}, false, &TransientStoreError{Op: "get financial dna", Err: err}
	}
	return dna, found, nil
}

// DeleteFinancialDNA removes the profile. Aggregated cohort patterns are kept;
// they are anonymous counters keyed by persona, not by user.
func (e *Engine) DeleteFinancialDNA(ctx context.Context, userID string) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := e.store.DeleteFinancialDNA(ctx, userID); err != nil {
		return &TransientStoreError{Op: "delete financial dna", Err: err}
	}
	return nil
}

// FindSimilarUsers returns profiles close to the user's embedding, descending
// by similarity. Zero results is valid evidence of an empty cohort.
func (e *Engine) FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]models.SimilarUser, error) {
	if threshold <= 0 {
		threshold = e.cfg.SimilarityThreshold
	}
	if limit <= 0 {
		limit = e.cfg.SimilarUsersLimit
	}
	similar, err := e.store.FindSimilarUsers(ctx, userID, threshold, limit)
	if err != nil {
		return nil, &TransientStoreError{Op: "find similar users", Err: err}
	}
	return similar, nil
}

// GetSuccessPatterns returns the cohort's ranked patterns with success_rate
// computed on read.
func (e *Engine) GetSuccessPatterns(ctx context.Context, personaHash string, topK int) ([]models.SuccessPattern, error) {
	if topK <= 0 {
		topK = e.cfg.PatternsTopK
	}
	patterns, err := e.store.GetSuccessPatterns(ctx, personaHash, topK)
	if err != nil {
		return nil, &TransientStoreError{Op: "get success patterns", Err: err}
	}
	return patterns, nil
}

// Contribute folds one observed outcome into the user's cohort. A user
// without a profile cannot contribute: aggregating under an empty persona key
// would pollute cohorts, so that case fails with ErrNoPersona.
func (e *Engine) Contribute(ctx context.Context, userID, action string, outcome float64, success bool) (string, error) {
	if action == "" {
		return "", &ValidationError{Field: "action", Reason: "required"}
	}
	dna, found, err := e.store.GetFinancialDNA(ctx, userID)
	if err != nil {
		return "", &TransientStoreError{Op: "get financial dna", Err: err}
	}
	if !found || dna.PersonaHash == "" {
		return "", ErrNoPersona
	}
	if err := e.store.ContributeOutcome(ctx, dna.PersonaHash, action, outcome, success); err != nil {
		return "", &TransientStoreError{Op: "contribute outcome", Err: err}
	}
	return dna.PersonaHash, nil
}

// GenerateAdvice answers a question with cohort evidence blended in. Each
// evidence lookup degrades independently: a missing profile or an empty
// cohort narrows the prompt, it never fails the request. Only the generation
// call itself can fail, and that failure keeps the evidence counts.
func (e *Engine) GenerateAdvice(ctx context.Context, userID, question string) (models.AdviceResult, error) {
	if question == "" {
		return models.AdviceResult{}, &ValidationError{Field: "question", Reason: "required"}
	}

	var userDNA *models.FinancialDNA
	dna, found, err := e.store.GetFinancialDNA(ctx, userID)
	if err != nil {
		e.logger.Printf("advice: profile lookup failed for %s, degrading: %v", userID, err)
	} else if found {
		userDNA = &dna
	}

	var similar []models.SimilarUser
	var patterns []models.SuccessPattern
	if userDNA != nil {
		similar, err = e.store.FindSimilarUsers(ctx, userID, e.cfg.SimilarityThreshold, e.cfg.SimilarUsersLimit)
		if err != nil {
			e.logger.Printf("advice: similar-user lookup failed for %s, degrading: %v", userID, err)
			similar = nil
		}
		patterns, err = e.store.GetSuccessPatterns(ctx, userDNA.PersonaHash, e.cfg.PatternsTopK)
		if err != nil {
			e.logger.Printf("advice: success-pattern lookup failed for %s, degrading: %v", userID, err)
			patterns = nil
		}
	}

	prompt := BuildIntegratedPrompt(userDNA, question, similar, patterns)

	genCtx := ctx
	if e.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
	}
	advice, err := e.llm.GenerateAdvice(genCtx, prompt)
	if err != nil {
		return models.AdviceResult{}, &GenerationError{
			Err:                  err,
			SimilarUsersCount:    len(similar),
			SuccessPatternsCount: len(patterns),
		}
	}

	return models.AdviceResult{
		Advice:               advice,
		SimilarUsersCount:    len(similar),
		SuccessPatternsCount: len(patterns),
	}, nil
}

// LogBehaviorEvent appends one interaction event.
func (e *Engine) LogBehaviorEvent(ctx context.Context, userID, eventType, topic string, durationSeconds, scrollDepth float64) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if eventType == "" {
		return &ValidationError{Field: "event_type", Reason: "required"}
	}
	ev := models.BehaviorEvent{
		UserID:          userID,
		EventType:       eventType,
		Topic:           topic,
		DurationSeconds: durationSeconds,
		ScrollDepth:     scrollDepth,
	}
	if err := e.store.InsertBehaviorEvent(ctx, ev); err != nil {
		return &TransientStoreError{Op: "insert behavior event", Err: err}
	}
	return nil
}

// BehaviorSummary aggregates a user's events over the trailing window. Topics
// rank by frequency descending; equal counts keep first-occurrence order.
func (e *Engine) BehaviorSummary(ctx context.Context, userID string, windowDays int) (models.BehaviorSummary, error) {
	if windowDays <= 0 {
		windowDays = e.cfg.BehaviorWindowDays
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	events, err := e.store.ListBehaviorEvents(ctx, userID, since)
	if err != nil {
		return models.BehaviorSummary{}, &TransientStoreError{Op: "list behavior events", Err: err}
	}

	eventCounts := make(map[string]int64)
	topicCounts := make(map[string]int)
	var topicOrder []string
	for _, ev := range events {
		eventCounts[ev.EventType]++
		if ev.Topic == "" {
			continue
		}
		if _, seen := topicCounts[ev.Topic]; !seen {
			topicOrder = append(topicOrder, ev.Topic)
		}
		topicCounts[ev.Topic]++
	}

	top := make([]models.TopicCount, 0, len(topicOrder))
	for _, topic := range topicOrder {
		top = append(top, models.TopicCount{Topic: topic, Count: topicCounts[topic]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })

	limit := e.cfg.BehaviorTopTopics
	if limit <= 0 {
		limit = 10
	}
	if len(top) > limit {
		top = top[:limit]
	}

	return models.BehaviorSummary{TopTopics: top, EventCounts: eventCounts}, nil
}
