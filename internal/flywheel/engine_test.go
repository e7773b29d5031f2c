package flywheel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/taxpilot/config"
	"github.com/mohammad-safakhou/taxpilot/models"
)

type fakeStore struct {
	dna          map[string]models.FinancialDNA
	similar      []models.SimilarUser
	patterns     []models.SuccessPattern
	events       []models.BehaviorEvent
	upserts      int
	contributeN  int
	lastHash     string
	lastAction   string
	getErr       error
	upsertErr    error
	similarErr   error
	patternsErr  error
	listErr      error
	insertErr    error
	contributeEr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{dna: make(map[string]models.FinancialDNA)}
}

func (f *fakeStore) UpsertFinancialDNA(_ context.Context, dna models.FinancialDNA) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.dna[dna.UserID] = dna
	return nil
}

func (f *fakeStore) GetFinancialDNA(_ context.Context, userID string) (models.FinancialDNA, bool, error) {
	if f.getErr != nil {
		return models.FinancialDNA{}, false, f.getErr
	}
	dna, ok := f.dna[userID]
	return dna, ok, nil
}

func (f *fakeStore) DeleteFinancialDNA(_ context.Context, userID string) error {
	delete(f.dna, userID)
	return nil
}

func (f *fakeStore) FindSimilarUsers(_ context.Context, _ string, _ float64, _ int) ([]models.SimilarUser, error) {
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return f.similar, nil
}

func (f *fakeStore) GetSuccessPatterns(_ context.Context, _ string, _ int) ([]models.SuccessPattern, error) {
	if f.patternsErr != nil {
		return nil, f.patternsErr
	}
	return f.patterns, nil
}

func (f *fakeStore) ContributeOutcome(_ context.Context, personaHash, action string, _ float64, _ bool) error {
	if f.contributeEr != nil {
		return f.contributeEr
	}
	f.contributeN++
	f.lastHash = personaHash
	f.lastAction = action
	return nil
}

func (f *fakeStore) InsertBehaviorEvent(_ context.Context, ev models.BehaviorEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) ListBehaviorEvents(_ context.Context, _ string, _ time.Time) ([]models.BehaviorEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

type fakeProvider struct {
	embedCalls int
	embedErr   error
	genErr     error
	genOut     string
	lastPrompt string
}

func (f *fakeProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeProvider) GenerateAdvice(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.genOut != "" {
		return f.genOut, nil
	}
	return "consider furusato nozei", nil
}

func testFlywheelConfig() config.FlywheelConfig {
	return config.FlywheelConfig{
		EmbeddingDimensions: 3,
		SimilarityThreshold: 0.7,
		SimilarUsersLimit:   10,
		PatternsTopK:        10,
		BehaviorWindowDays:  30,
		BehaviorTopTopics:   10,
		MaxNotesChars:       100,
		GenerationTimeout:   time.Second,
	}
}

func newTestEngine(st *fakeStore, llm *fakeProvider) *Engine {
	return NewEngine(st, llm, testFlywheelConfig(), nil)
}

func TestUpdateFinancialDNARejectsNegativeIncome(t *testing.T) {
	st := newFakeStore()
	llm := &fakeProvider{}
	e := newTestEngine(st, llm)

	_, err := e.UpdateFinancialDNA(context.Background(), UpdateRequest{UserID: "u1", MonthlyIncome: -1})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "monthly_income" {
		t.Fatalf("unexpected field: %s", verr.Field)
	}
	if st.upserts != 0 {
		t.Fatal("store must not be touched on validation failure")
	}
	if llm.embedCalls != 0 {
		t.Fatal("embedding must not be requested on validation failure")
	}
}

func TestUpdateFinancialDNAStoresNormalizedProfile(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, &fakeProvider{})

	dna, err := e.UpdateFinancialDNA(context.Background(), UpdateRequest{
		UserID:    "u1",
		NotesText: "freelance designer",
		Goals:     []string{"invest", "save_tax"},
	})
	if err != nil {
		t.Fatalf("UpdateFinancialDNA: %v", err)
	}
	if dna.AgeGroup != "unknown" || dna.IncomeLevel != "unknown" || dna.Occupation != "unknown" {
		t.Fatalf("empty attributes not normalized: %+v", dna)
	}
	if dna.PersonaHash == "" {
		t.Fatal("persona hash missing")
	}
	if len(dna.Embedding) != 3 {
		t.Fatalf("embedding length = %d, want 3", len(dna.Embedding))
	}
	if st.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", st.upserts)
	}
}

func TestUpdateFinancialDNAIdempotentHash(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, &fakeProvider{})

	req := UpdateRequest{UserID: "u1", NotesText: "n", AgeGroup: "30s", IncomeLevel: "middle", Occupation: "freelance", Goals: []string{"save_tax"}}
	first, err := e.UpdateFinancialDNA(context.Background(), req)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	second, err := e.UpdateFinancialDNA(context.Background(), req)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if first.PersonaHash != second.PersonaHash {
		t.Fatalf("hash changed across identical updates: %s vs %s", first.PersonaHash, second.PersonaHash)
	}
}

func TestUpdateFinancialDNAEmptyNotesSkipsProvider(t *testing.T) {
	st := newFakeStore()
	llm := &fakeProvider{}
	e := newTestEngine(st, llm)

	dna, err := e.UpdateFinancialDNA(context.Background(), UpdateRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("UpdateFinancialDNA: %v", err)
	}
	if llm.embedCalls != 0 {
		t.Fatal("empty notes must not hit the embedding provider")
	}
	for _, v := range dna.Embedding {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v", dna.Embedding)
		}
	}
}

func TestUpdateFinancialDNATruncatesNotes(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, &fakeProvider{})

	long := strings.Repeat("a", 500)
	dna, err := e.UpdateFinancialDNA(context.Background(), UpdateRequest{UserID: "u1", NotesText: long})
	if err != nil {
		t.Fatalf("UpdateFinancialDNA: %v", err)
	}
	if len(dna.NotesText) != 100 {
		t.Fatalf("notes length = %d, want 100", len(dna.NotesText))
	}
}

func TestDeleteFinancialDNA(t *testing.T) {
	st := newFakeStore()
	st.dna["u1"] = models.FinancialDNA{UserID: "u1", PersonaHash: "hash-1"}
	e := newTestEngine(st, &fakeProvider{})

	if err := e.DeleteFinancialDNA(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteFinancialDNA: %v", err)
	}
	if _, ok := st.dna["u1"]; ok {
		t.Fatal("profile still present after delete")
	}
	// deleting again is a no-op, not an error
	if err := e.DeleteFinancialDNA(context.Background(), "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	var verr *ValidationError
	if err := e.DeleteFinancialDNA(context.Background(), ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty user_id, got %v", err)
	}
}

func TestContributeWithoutProfile(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, &fakeProvider{})

	_, err := e.Contribute(context.Background(), "stranger", "furusato_nozei", 45000, true)
	if !errors.Is(err, ErrNoPersona) {
		t.Fatalf("expected ErrNoPersona, got %v", err)
	}
	if st.contributeN != 0 {
		t.Fatal("contribution must not reach the store without a persona")
	}
}

func TestContributeUsesStoredPersona(t *testing.T) {
	st := newFakeStore()
	st.dna["u1"] = models.FinancialDNA{UserID: "u1", PersonaHash: "hash-1"}
	e := newTestEngine(st, &fakeProvider{})

	hash, err := e.Contribute(context.Background(), "u1", "ideco", 68000, false)
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	if hash != "hash-1" || st.lastHash != "hash-1" || st.lastAction != "ideco" {
		t.Fatalf("contribution routed wrong: hash=%s store=%+v", hash, st)
	}
}

func TestContributeRequiresAction(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeProvider{})
	_, err := e.Contribute(context.Background(), "u1", "", 0, true)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestGenerateAdviceWithFullEvidence(t *testing.T) {
	st := newFakeStore()
	st.dna["u1"] = models.FinancialDNA{UserID: "u1", PersonaHash: "hash-1", AgeGroup: "30s", IncomeLevel: "middle", Occupation: "freelance"}
	st.similar = []models.SimilarUser{{UserID: "u2", Similarity: 0.85}, {UserID: "u3", Similarity: 0.78}}
	st.patterns = []models.SuccessPattern{{Action: "furusato_nozei", SuccessCount: 50, TotalCount: 60, SuccessRate: 50.0 / 60.0}}
	llm := &fakeProvider{}
	e := newTestEngine(st, llm)

	res, err := e.GenerateAdvice(context.Background(), "u1", "How can I reduce my taxes?")
	if err != nil {
		t.Fatalf("GenerateAdvice: %v", err)
	}
	if res.SimilarUsersCount != 2 || res.SuccessPatternsCount != 1 {
		t.Fatalf("evidence counts wrong: %+v", res)
	}
	if !strings.Contains(llm.lastPrompt, "furusato_nozei") {
		t.Fatalf("cohort evidence missing from prompt:\n%s", llm.lastPrompt)
	}
}

func TestGenerateAdviceWithoutProfileDegrades(t *testing.T) {
	st := newFakeStore()
	llm := &fakeProvider{}
	e := newTestEngine(st, llm)

	res, err := e.GenerateAdvice(context.Background(), "stranger", "What is ideco?")
	if err != nil {
		t.Fatalf("GenerateAdvice: %v", err)
	}
	if res.SimilarUsersCount != 0 || res.SuccessPatternsCount != 0 {
		t.Fatalf("expected zero evidence counts, got %+v", res)
	}
	if !strings.Contains(llm.lastPrompt, "without a stored financial profile") {
		t.Fatalf("expected degraded prompt:\n%s", llm.lastPrompt)
	}
}

func TestGenerateAdviceDegradesOnEvidenceErrors(t *testing.T) {
	st := newFakeStore()
	st.dna["u1"] = models.FinancialDNA{UserID: "u1", PersonaHash: "hash-1"}
	st.similarErr = fmt.Errorf("pg down")
	st.patternsErr = fmt.Errorf("pg down")
	e := newTestEngine(st, &fakeProvider{})

	res, err := e.GenerateAdvice(context.Background(), "u1", "q")
	if err != nil {
		t.Fatalf("evidence errors must degrade, not fail: %v", err)
	}
	if res.SimilarUsersCount != 0 || res.SuccessPatternsCount != 0 {
		t.Fatalf("degraded counts wrong: %+v", res)
	}
}

func TestGenerateAdviceFailureKeepsCounts(t *testing.T) {
	st := newFakeStore()
	st.dna["u1"] = models.FinancialDNA{UserID: "u1", PersonaHash: "hash-1"}
	st.similar = []models.SimilarUser{{UserID: "u2"}, {UserID: "u3"}}
	st.patterns = []models.SuccessPattern{{Action: "a"}, {Action: "b"}, {Action: "c"}}
	llm := &fakeProvider{genErr: fmt.Errorf("upstream timeout")}
	e := newTestEngine(st, llm)

	_, err := e.GenerateAdvice(context.Background(), "u1", "q")
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if gerr.SimilarUsersCount != 2 || gerr.SuccessPatternsCount != 3 {
		t.Fatalf("generation error lost evidence counts: %+v", gerr)
	}
}

func TestGenerateAdviceRequiresQuestion(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeProvider{})
	_, err := e.GenerateAdvice(context.Background(), "u1", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLogBehaviorEventValidation(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, &fakeProvider{})

	if err := e.LogBehaviorEvent(context.Background(), "", "article_view", "t", 0, 0); err == nil {
		t.Fatal("expected error for missing user_id")
	}
	if err := e.LogBehaviorEvent(context.Background(), "u1", "", "t", 0, 0); err == nil {
		t.Fatal("expected error for missing event_type")
	}
	if len(st.events) != 0 {
		t.Fatal("invalid events must not be stored")
	}
	if err := e.LogBehaviorEvent(context.Background(), "u1", "article_view", "ideco", 12, 0.4); err != nil {
		t.Fatalf("LogBehaviorEvent: %v", err)
	}
	if len(st.events) != 1 {
		t.Fatalf("events = %d, want 1", len(st.events))
	}
}

func TestBehaviorSummaryRanking(t *testing.T) {
	st := newFakeStore()
	st.events = []models.BehaviorEvent{
		{UserID: "u1", EventType: "article_view", Topic: "ideco"},
		{UserID: "u1", EventType: "article_view", Topic: "furusato_nozei"},
		{UserID: "u1", EventType: "question", Topic: "furusato_nozei"},
		{UserID: "u1", EventType: "article_view", Topic: "nisa"},
		{UserID: "u1", EventType: "article_view", Topic: ""},
	}
	e := newTestEngine(st, &fakeProvider{})

	summary, err := e.BehaviorSummary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("BehaviorSummary: %v", err)
	}
	if len(summary.TopTopics) != 3 {
		t.Fatalf("top topics = %+v, want 3 entries", summary.TopTopics)
	}
	if summary.TopTopics[0].Topic != "furusato_nozei" || summary.TopTopics[0].Count != 2 {
		t.Fatalf("top topic wrong: %+v", summary.TopTopics)
	}
	// ideco and nisa tie at 1; first occurrence wins
	if summary.TopTopics[1].Topic != "ideco" || summary.TopTopics[2].Topic != "nisa" {
		t.Fatalf("tie-break order wrong: %+v", summary.TopTopics)
	}
	if summary.EventCounts["article_view"] != 4 || summary.EventCounts["question"] != 1 {
		t.Fatalf("event counts wrong: %+v", summary.EventCounts)
	}
}

func TestBehaviorSummaryTopicLimit(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 15; i++ {
		st.events = append(st.events, models.BehaviorEvent{UserID: "u1", EventType: "article_view", Topic: fmt.Sprintf("topic-%02d", i)})
	}
	e := newTestEngine(st, &fakeProvider{})

	summary, err := e.BehaviorSummary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("BehaviorSummary: %v", err)
	}
	if len(summary.TopTopics) != 10 {
		t.Fatalf("top topics = %d, want 10", len(summary.TopTopics))
	}
}
