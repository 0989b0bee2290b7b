package domain

// Signal is an estimator recommendation.
type Signal string

const (
	SignalEven Signal = "EVEN"
	SignalOdd  Signal = "ODD"
	SignalWait Signal = "WAIT"
)

// Estimate is the output of a signal estimator. Confidence is in [0,100].
type Estimate struct {
	Signal      Signal `json:"signal"`
	Confidence  int    `json:"confidence"`
	Reason      string `json:"reason"`
	EvenPercent int    `json:"even_percent"`
}
