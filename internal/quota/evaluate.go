package quota

import "fmt"

// Assessment is the quota verdict for one measurement.
type Assessment struct {
	Used     int64
	Limit    int64
	Ratio    float64
	Warn     bool // Ratio >= threshold
	Exceeded bool // Used > Limit
}

// EffectiveLimit returns the limit quota checks use: storageLimit when
// positive, otherwise the policy maximum.
func EffectiveLimit(storageLimit, policyMax int64) int64 {
	if storageLimit > 0 {
		return storageLimit
	}
	return policyMax
}

// Evaluate compares used against limit. A non-positive limit is an error:
// it is never read as "unlimited".
func Evaluate(used, limit int64, threshold float64) (Assessment, error) {
	if limit <= 0 {
		return Assessment{}, fmt.Errorf("no usable storage limit (got %d)", limit)
	}
	ratio := float64(used) / float64(limit)
	return Assessment{
		Used:     used,
		Limit:    limit,
		Ratio:    ratio,
		Warn:     ratio >= threshold,
		Exceeded: used > limit,
	}, nil
}
