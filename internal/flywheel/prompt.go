package flywheel

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/taxpilot/models"
)

// BuildIntegratedPrompt composes the generation prompt from the user's
// profile and the cohort evidence. It is a pure function: identical inputs
// always produce byte-identical text, so it can be asserted on directly in
// tests without touching the generation capability.
func BuildIntegratedPrompt(dna *models.FinancialDNA, question string, similarUsers []models.SimilarUser, patterns []models.SuccessPattern) string {
	var b strings.Builder

	if dna == nil {
		b.WriteString("A user without a stored financial profile asked the following question.\n")
		b.WriteString("Answer using generally applicable tax guidance only.\n\n")
		fmt.Fprintf(&b, "QUESTION: %s\n", question)
		return b.String()
	}

	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Age group: %s\n", dna.AgeGroup)
	fmt.Fprintf(&b, "- Income level: %s\n", dna.IncomeLevel)
	fmt.Fprintf(&b, "- Occupation: %s\n", dna.Occupation)
	fmt.Fprintf(&b, "- Goals: %s\n", strings.Join(dna.Goals, ", "))
	fmt.Fprintf(&b, "- Savings rate: %.0f%%\n", dna.SavingsRate*100)

	fmt.Fprintf(&b, "\nSIMILAR USERS: %d users with a matching financial profile\n", len(similarUsers))
	for i, su := range similarUsers {
		fmt.Fprintf(&b, "%d. %s / %s / %s (similarity %.2f), goals: %s\n",
			i+1, su.AgeGroup, su.IncomeLevel, su.Occupation, su.Similarity, strings.Join(su.Goals, ", "))
	}

	fmt.Fprintf(&b, "\nWHAT WORKED FOR THIS COHORT: %d aggregated success patterns\n", len(patterns))
	for i, p := range patterns {
		fmt.Fprintf(&b, "%d. %s — success rate %.0f%% (%d of %d), average benefit %.0f JPY\n",
			i+1, p.Action, p.SuccessRate*100, p.SuccessCount, p.TotalCount, p.AvgOutcome)
	}

	fmt.Fprintf(&b, "\nQUESTION: %s\n", question)
	b.WriteString("\nGround the advice in the cohort evidence above where it applies, and make clear which suggestions come from similar users' outcomes.\n")
	return b.String()
}
