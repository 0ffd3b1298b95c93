package config

import (
	"encoding/json"
	"fmt"
	"os"

	"sadhana-metering/pkg/metering"
)

// LoadPlanTable returns the built-in plan limits, overridden per plan by the
// JSON file at path when path is non-empty. The file maps plan names to
// feature limits:
//
//	{"free": {"chat": 5, "identify": 0}, "pro": {"chat": "unlimited", "identify": 100}}
//
// Plans or features absent from the file keep their defaults.
func LoadPlanTable(path string) (metering.PlanTable, error) {
	table := metering.DefaultPlanTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]metering.Limit
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	for planName, limits := range raw {
		plan, err := metering.ParsePlan(planName)
		if err != nil {
			return nil, err
		}
		for featureName, limit := range limits {
			feature, err := metering.ParseFeature(featureName)
			if err != nil {
				return nil, fmt.Errorf("plan %q: %w", planName, err)
			}
			table[plan][feature] = limit
		}
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
