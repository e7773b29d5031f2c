package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// UpdateDNARequest is the profile-update payload. Coarse fields may be
// omitted; they land in the "unknown" category.
type UpdateDNARequest struct {
	NotesText       string                 `json:"notes_text"`
	MonthlyIncome   float64                `json:"monthly_income"`
	MonthlyExpenses map[string]float64     `json:"monthly_expenses"`
	SavingsRate     float64                `json:"savings_rate"`
	Assets          map[string]float64     `json:"assets"`
	TaxStatus       map[string]interface{} `json:"tax_status"`
	AgeGroup        string                 `json:"age_group"`
	IncomeLevel     string                 `json:"income_level"`
	Occupation      string                 `json:"occupation"`
	Goals           []string               `json:"goals"`
}

// AdviceRequest asks for generated advice for the authenticated user.
type AdviceRequest struct {
	Question string `json:"question"`
}

// AdviceErrorResponse reports a failed advice request together with how much
// cohort evidence had been gathered before the failure.
type AdviceErrorResponse struct {
	Error                string `json:"error"`
	SimilarUsersCount    int    `json:"similar_users_count"`
	SuccessPatternsCount int    `json:"success_patterns_count"`
}

// ContributeRequest reports an action outcome for aggregation.
type ContributeRequest struct {
	Action  string  `json:"action"`
	Outcome float64 `json:"outcome"`
	Success bool    `json:"success"`
}

// ContributeResponse acknowledges a contribution.
type ContributeResponse struct {
	PersonaHash string `json:"persona_hash"`
	Contributed bool   `json:"contributed"`
}

// LogBehaviorRequest appends one interaction event.
type LogBehaviorRequest struct {
	EventType       string  `json:"event_type"`
	Topic           string  `json:"topic"`
	DurationSeconds float64 `json:"duration_seconds"`
	ScrollDepth     float64 `json:"scroll_depth"`
}

// LoggedResponse acknowledges a behavior event.
type LoggedResponse struct {
	Logged bool `json:"logged"`
}
