package session

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/zulandar/quill/internal/models"
)

//go:embed demo/onboarding.json
var onboardingJSON []byte

// OnboardingWords returns the bundled demo transcript used by the
// onboarding session.
func OnboardingWords() ([]models.Word, error) {
	var words []models.Word
	if err := json.Unmarshal(onboardingJSON, &words); err != nil {
		return nil, fmt.Errorf("session: decode onboarding transcript: %w", err)
	}
	for i := range words {
		words[i].Seq = i + 1
	}
	return words, nil
}
