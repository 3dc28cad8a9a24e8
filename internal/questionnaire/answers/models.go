package answers

// InterestLevel is how strongly the client wants to pursue a goal.
type InterestLevel string

const (
	InterestAlreadyPlanned     InterestLevel = "already_planned"
	InterestStronglyInterested InterestLevel = "strongly_interested"
	InterestWouldConsider      InterestLevel = "would_consider"
	InterestLessLikely         InterestLevel = "less_likely"
	InterestWouldNotConsider   InterestLevel = "would_not_consider"
)

// DefaultInterest is the level every catalog goal starts with.
const DefaultInterest = InterestWouldNotConsider

// InterestLevels lists the levels from strongest to weakest.
var InterestLevels = []InterestLevel{
	InterestAlreadyPlanned,
	InterestStronglyInterested,
	InterestWouldConsider,
	InterestLessLikely,
	InterestWouldNotConsider,
}

// Valid reports whether l is one of the known levels.
func (l InterestLevel) Valid() bool {
	for _, known := range InterestLevels {
		if l == known {
			return true
		}
	}
	return false
}

// Rank orders levels; 0 is the strongest.
func (l InterestLevel) Rank() int {
	for i, known := range InterestLevels {
		if l == known {
			return i
		}
	}
	return len(InterestLevels)
}

type Goal struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interest InterestLevel `json:"interest"`
	Custom   bool          `json:"custom"`
}

// GoalDetail holds the follow-up answers asked only for qualified goals.
type GoalDetail struct {
	Timeline       string `json:"timeline,omitempty"`
	RiskAppetite   string `json:"riskAppetite,omitempty"`
	RiskTolerance  string `json:"riskTolerance,omitempty"`
	MarketResponse string `json:"marketResponse,omitempty"`
}

// Goal detail field names as used by UpdateGoalDetail and the API.
const (
	FieldTimeline       = "timeline"
	FieldRiskAppetite   = "riskAppetite"
	FieldRiskTolerance  = "riskTolerance"
	FieldMarketResponse = "marketResponse"
)

// GoalDetailFields lists every detail field in display order.
var GoalDetailFields = []string{FieldTimeline, FieldRiskAppetite, FieldRiskTolerance, FieldMarketResponse}

// FilledFields counts non-empty fields.
func (d GoalDetail) FilledFields() int {
	n := 0
	for _, v := range []string{d.Timeline, d.RiskAppetite, d.RiskTolerance, d.MarketResponse} {
		if v != "" {
			n++
		}
	}
	return n
}

// Reserved top-level keys that only dedicated operations may change.
const (
	KeyGoals       = "goals"
	KeyGoalDetails = "goalDetails"
)

// KeyGoalPriorities is the per-goal record map written by the prioritization step.
const KeyGoalPriorities = "goalPriorities"

// CatalogEntry describes a goal offered to every client.
type CatalogEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultCatalog is the goal list presented on the goal selection step.
var DefaultCatalog = []CatalogEntry{
	{ID: "retirement", Name: "Retirement"},
	{ID: "home_purchase", Name: "Buying a home"},
	{ID: "children_education", Name: "Children's education"},
	{ID: "emergency_fund", Name: "Emergency fund"},
	{ID: "debt_freedom", Name: "Becoming debt free"},
	{ID: "wealth_growth", Name: "Growing wealth"},
	{ID: "major_travel", Name: "Major travel"},
	{ID: "business_venture", Name: "Starting a business"},
	{ID: "legacy_planning", Name: "Leaving a legacy"},
}
