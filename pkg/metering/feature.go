// Package metering holds the plan table, quota arithmetic and day bucketing
// shared by the API server and the client package.
package metering

import "fmt"

// Feature is a metered operation.
type Feature string

const (
	FeatureChat     Feature = "chat"
	FeatureIdentify Feature = "identify"
)

// Features lists every metered feature in a stable order.
var Features = []Feature{FeatureChat, FeatureIdentify}

// ParseFeature parses a feature name.
func ParseFeature(s string) (Feature, error) {
	switch Feature(s) {
	case FeatureChat, FeatureIdentify:
		return Feature(s), nil
	default:
		return "", fmt.Errorf("unknown feature: %q", s)
	}
}

func (f Feature) String() string {
	return string(f)
}
