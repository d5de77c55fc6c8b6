package orchestrator

// Subjects names the four tool-invocation subjects the Orchestrator calls.
// Discovery subjects are derived by discovery.DefaultTargets from the same
// prefix; keeping both derivations anchored to one prefix avoids the two
// diverging in a deployment's configuration.
type Subjects struct {
	PromptHelper       string
	StoryGenerator     string
	QualityControl     string
	ConstraintEnforcer string
}

// NewSubjects derives the four invocation subjects from prefix, matching
// discovery.DefaultTargets' subject naming (prefix.<service>[.discovery]).
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = "storyforge"
	}
	return Subjects{
		PromptHelper:       prefix + ".prompt-helper",
		StoryGenerator:     prefix + ".story-generator",
		QualityControl:     prefix + ".quality-control",
		ConstraintEnforcer: prefix + ".constraint-enforcer",
	}
}
