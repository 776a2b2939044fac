package config

import "github.com/shopspring/decimal"

// Clone deep-copies a Root so perturbation/walk-forward analysis
// (internal/analytics) can mutate a single numeric field on a copy
// without disturbing the config a live run still holds a pointer to.
func (r *Root) Clone() *Root {
	clone := *r

	clone.Scoring.Weights = make(map[string]decimal.Decimal, len(r.Scoring.Weights))
	for k, v := range r.Scoring.Weights {
		clone.Scoring.Weights[k] = v
	}

	if r.MultiPlaybook != nil {
		mp := *r.MultiPlaybook
		mp.Playbooks = append([]PlaybookConfig(nil), r.MultiPlaybook.Playbooks...)
		mp.ArbitratorWeights = make(map[string]decimal.Decimal, len(r.MultiPlaybook.ArbitratorWeights))
		for k, v := range r.MultiPlaybook.ArbitratorWeights {
			mp.ArbitratorWeights[k] = v
		}
		clone.MultiPlaybook = &mp
	}

	return &clone
}
