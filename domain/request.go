package domain

// GenerationRequest is the user-level input carried inside the
// Orchestrator's top-level tool call.
type GenerationRequest struct {
	Theme             string   `json:"theme"`
	AgeGroup          string   `json:"age_group"`
	Language          string   `json:"language"`
	NodeCount         int      `json:"node_count"`
	Tenant            string   `json:"tenant"`
	VocabularyLevel   string   `json:"vocabulary_level"`
	EducationalGoals  []string `json:"educational_goals"`
	RequiredElements  []string `json:"required_elements"`

	// Prompts is populated during phase 0.5 (PromptGeneration) and read by
	// every subsequent phase.
	Prompts *PromptPackages `json:"prompts,omitempty"`
}

// PromptPackage is one service's slice of the aggregated prompt bundle.
type PromptPackage struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// PromptPackages aggregates the four Prompt Helper calls fanned out during
// PromptGeneration.
type PromptPackages struct {
	Structure  *PromptPackage `json:"structure,omitempty"`
	Generation *PromptPackage `json:"generation,omitempty"`
	Validation *PromptPackage `json:"validation,omitempty"`
	Constraint *PromptPackage `json:"constraint,omitempty"`

	// ModelRouting is the get_model_for_language response, cached alongside
	// the prompt bundle since both come from Prompt Helper.
	ModelRouting *ModelRoute `json:"model_routing,omitempty"`
}

// ModelRoute is get_model_for_language's result: a routing hint stored on
// the prompt bundle; no service uses it to select an AI client.
type ModelRoute struct {
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
}

// Complete reports whether all four prompt slices are present. Used by the
// PromptGeneration phase's partial-failure fallback logic.
func (p *PromptPackages) Complete() bool {
	return p != nil && p.Structure != nil && p.Generation != nil && p.Validation != nil && p.Constraint != nil
}
