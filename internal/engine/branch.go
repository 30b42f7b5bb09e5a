package engine

import (
	"fmt"
	"hash/fnv"
	"io"
	"strconv"

	"github.com/outflowhq/outflow/internal/domain"
)

// stableUnit hashes the given parts into [0, 1). The same inputs always
// produce the same value, which is what keeps branch decisions and pool
// picks stable across retries and crashes.
func stableUnit(parts ...string) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
		_, _ = io.WriteString(h, "|")
	}
	// 53 bits of the sum keep the float conversion exact.
	return float64(h.Sum64()>>11) / float64(uint64(1)<<53)
}

// ResolveBranch picks the path whose cumulative normalized-weight interval
// contains the hash of (contact, workflow, step). Weights need not sum to
// 100; they are divided by their total before use.
func ResolveBranch(contactID string, workflowID int64, stepClientID string, cfg *domain.BranchConfig) (string, error) {
	if len(cfg.Paths) == 0 {
		return "", fmt.Errorf("branch step %s has no paths", stepClientID)
	}
	var total float64
	for _, p := range cfg.Paths {
		total += p.Weight
	}
	if total <= 0 {
		return "", fmt.Errorf("branch step %s has no positive weight", stepClientID)
	}

	u := stableUnit(contactID, strconv.FormatInt(workflowID, 10), stepClientID)
	var cumulative float64
	for _, p := range cfg.Paths {
		cumulative += p.Weight / total
		if u < cumulative {
			return p.NextStepID, nil
		}
	}
	// Floating point can leave u a hair past the last interval edge.
	return cfg.Paths[len(cfg.Paths)-1].NextStepID, nil
}

// PickScenario resolves the scenario id for a send_email/scenario step.
// random_pool uses the same deterministic hash as branch resolution so the
// same enrollment retrying the same step always sends the same scenario.
func PickScenario(contactID string, workflowID int64, stepClientID string, cfg *domain.ScenarioConfig) (string, error) {
	switch cfg.AssignmentType {
	case domain.AssignmentSingle:
		return cfg.ScenarioID, nil
	case domain.AssignmentRandomPool:
		if len(cfg.ScenarioIDs) == 0 {
			return "", fmt.Errorf("scenario step %s has an empty pool", stepClientID)
		}
		u := stableUnit(contactID, strconv.FormatInt(workflowID, 10), stepClientID)
		idx := int(u * float64(len(cfg.ScenarioIDs)))
		if idx >= len(cfg.ScenarioIDs) {
			idx = len(cfg.ScenarioIDs) - 1
		}
		return cfg.ScenarioIDs[idx], nil
	}
	return "", fmt.Errorf("scenario step %s has unknown assignmentType %q", stepClientID, cfg.AssignmentType)
}
