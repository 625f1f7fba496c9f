package domain

import (
	"fmt"
	"sort"
)

// Feature set names accepted by runs.
const (
	FeatureSetEssential8 = "essential_8"
	FeatureSetDefault16  = "default_16"
	FeatureSetAdvanced   = "advanced"
)

var essential8 = []string{
	"rsi_14",
	"macd_hist",
	"bb_percent_b",
	"sma_20_ratio",
	"ema_50_ratio",
	"atr_14_pct",
	"volume_ratio_20",
	"return_5d",
}

var default16 = append(append([]string(nil), essential8...),
	"stoch_k_14",
	"stoch_d_3",
	"adx_14",
	"obv_slope_10",
	"roc_10",
	"williams_r_14",
	"cci_20",
	"mfi_14",
)

var advanced = append(append([]string(nil), default16...),
	"vix_close",
	"vix_change_5d",
	"sector_relative_strength",
	"market_breadth",
	"realized_vol_20",
	"gap_pct",
	"day_of_week",
	"earnings_window",
)

// featureSets is the registry of named, ordered feature lists.
var featureSets = map[string][]string{
	FeatureSetEssential8: essential8,
	FeatureSetDefault16:  default16,
	FeatureSetAdvanced:   advanced,
}

// LookupFeatureSet returns a copy of the ordered feature identifiers for name.
func LookupFeatureSet(name string) ([]string, error) {
	fs, ok := featureSets[name]
	if !ok {
		return nil, fmt.Errorf("unknown feature set %q", name)
	}
	return append([]string(nil), fs...), nil
}

// FeatureSetNames returns the registered feature set names in sorted order.
func FeatureSetNames() []string {
	names := make([]string, 0, len(featureSets))
	for n := range featureSets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
