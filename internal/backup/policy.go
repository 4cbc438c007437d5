package backup

import "github.com/cuemby/bastion/internal/model"

// PolicyOutcome is the executor-facing decision produced by applying a
// job's consistency_policy to a finished ConsistencyReport.
type PolicyOutcome struct {
	EmitEvent    bool
	Fail         bool
	SkipUpload   bool
}

// ApplyConsistencyPolicy implements spec §4.4's enforcement table. It never
// looks at hashes: archived bytes are always self-consistent by
// construction (single-read hashing), only the question of whether the
// *run* should be flagged or failed is decided here.
func ApplyConsistencyPolicy(policy model.ConsistencyPolicy, report *ConsistencyReport, failThreshold int, uploadOnFail bool) PolicyOutcome {
	switch policy {
	case model.ConsistencyIgnore:
		return PolicyOutcome{}
	case model.ConsistencyFail:
		if report.Total > failThreshold {
			return PolicyOutcome{EmitEvent: true, Fail: true, SkipUpload: !uploadOnFail}
		}
		return PolicyOutcome{EmitEvent: report.Total > 0}
	case model.ConsistencyWarn:
		fallthrough
	default:
		return PolicyOutcome{EmitEvent: report.Total > 0}
	}
}
