// pkg/registry/schema.go
package registry

// StepRegistry is the on-disk description of the questionnaire's step table.
type StepRegistry struct {
	Version     string           `json:"version"`
	LastUpdated string           `json:"lastUpdated"`
	Steps       []StepDefinition `json:"steps"`
}

type StepDefinition struct {
	Ordinal    int      `json:"ordinal"`
	Kind       string   `json:"kind"` // plain | goal_iterated
	Renderer   string   `json:"renderer"`
	Title      string   `json:"title"`
	Keys       []string `json:"keys,omitempty"`
	Checkpoint bool     `json:"checkpoint,omitempty"`
}
