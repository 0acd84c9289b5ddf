package domain

import "time"

// RiskLevel is a coarse per-broker classification derived from the rolling
// success rate. Higher risk means fewer automated sends and longer
// verification waits.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func (r RiskLevel) String() string { return string(r) }

// BrokerIntelligence is a read-only projection over historical removal
// outcomes. It is recomputed on demand and never edited or persisted as
// ground truth.
type BrokerIntelligence struct {
	BrokerKey   string
	Attempts    int
	Successes   int
	Failures    int
	SuccessRate float64
	Risk        RiskLevel
	WindowFrom  time.Time
}

// PredictionSeverity grades a detected anomaly.
type PredictionSeverity string

const (
	SeverityInfo     PredictionSeverity = "INFO"
	SeverityWarning  PredictionSeverity = "WARNING"
	SeverityCritical PredictionSeverity = "CRITICAL"
)

// Prediction flags a statistically unusual outcome pattern for one broker
// segment, e.g. a sudden failure spike against its historical baseline.
type Prediction struct {
	BrokerKey    string
	Severity     PredictionSeverity
	Message      string
	RecentRate   float64
	BaselineRate float64
	ZScore       float64
	DetectedAt   time.Time
}
