package action

// Option keys for ratio protection. OptRatio is the measured value of the
// target; the bounds come from the job options.
const (
	OptRatio    = "ratio"
	OptRatioMin = "ratio_min"
	OptRatioMax = "ratio_max"
)

// RatioBounds protects accounts whose ratio (e.g. followers / following) lies
// inside [Min, Max]. A zero bound imposes no constraint on its side; with both
// zero the filter is off and nothing is protected.
type RatioBounds struct {
	Min float64
	Max float64
}

func (b RatioBounds) Enabled() bool { return b.Min > 0 || b.Max > 0 }

// Protects reports whether r falls inside the bounds.
func (b RatioBounds) Protects(r float64) bool {
	if !b.Enabled() {
		return false
	}
	return (b.Min == 0 || r >= b.Min) && (b.Max == 0 || r <= b.Max)
}

// RatioFromOptions reads ratio_min and ratio_max. Missing or malformed bounds
// stay zero.
func RatioFromOptions(o Options) RatioBounds {
	var b RatioBounds
	if v, ok := o.Float(OptRatioMin); ok && v > 0 {
		b.Min = v
	}
	if v, ok := o.Float(OptRatioMax); ok && v > 0 {
		b.Max = v
	}
	return b
}
