package domain

import (
	"hash/fnv"
	"sort"
)

// AssignVariant picks a variant for a new lead. The choice is a function of
// the lead id so a replayed first contact lands in the same bucket.
func AssignVariant(leadID string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(leadID))
	return variants[int(h.Sum32()%uint32(len(variants)))]
}

// ExperimentCounter tracks exposures and conversions for one variant.
type ExperimentCounter struct {
	Exposures   int `json:"exposures"`
	Conversions int `json:"conversions"`
}

// Rate is conversions over exposures, 0 when nothing was exposed.
func (c ExperimentCounter) Rate() float64 {
	if c.Exposures == 0 {
		return 0
	}
	return float64(c.Conversions) / float64(c.Exposures)
}

// ComputeExperiments derives counters from lead state. A lead is an exposure
// once assigned and a conversion once it converted or submitted an application.
func ComputeExperiments(leads map[string]*Lead) map[string]ExperimentCounter {
	out := make(map[string]ExperimentCounter)
	for _, l := range leads {
		if l == nil || l.ABVariant == "" {
			continue
		}
		c := out[l.ABVariant]
		c.Exposures++
		if l.IsConverted() || l.Application != nil {
			c.Conversions++
		}
		out[l.ABVariant] = c
	}
	return out
}

// VariantNames returns counter keys in stable order.
func VariantNames(counters map[string]ExperimentCounter) []string {
	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
