package config

import (
	"os"
	"strconv"
	"strings"
)

// Feature flag names. The tracker is a batch pipeline, so flags gate whole
// pipeline stages rather than per-user behavior.
const (
	FeatureEventArchive  = "archive.event_log" // persist fetched log messages to Postgres
	FeatureArchiveResume = "archive.resume"    // stop fetching at the newest archived message

	FeatureReportCache = "cache.report" // cache the rendered report in Redis

	FeatureRoleSyncDryRun = "roles.dry_run" // log intended role mutations without applying

	FeatureStalenessWarnings = "report.staleness_warnings" // warn on stale input files

	FeatureManualTriggers = "http.manual_triggers" // admin-guarded POST trigger endpoints

	FeaturePromotionEvaluation = "promotion.evaluation" // evaluate and report promotion candidates
)

// Dry run is the only flag that defaults off: applying role mutations on a
// live server should be an explicit choice in the other direction.
var defaultFlags = map[string]bool{
	FeatureEventArchive:        true,
	FeatureArchiveResume:       true,
	FeatureReportCache:         true,
	FeatureRoleSyncDryRun:      false,
	FeatureStalenessWarnings:   true,
	FeatureManualTriggers:      true,
	FeaturePromotionEvaluation: true,
}

// FeatureFlags holds the resolved flag set. Flags are fixed for the life of
// the process; flipping one means restarting with a different environment.
type FeatureFlags struct {
	flags map[string]bool
}

// LoadFeatureFlags resolves every known flag: built-in default, then an
// optional environment override of the form FEATURE_<NAME>=true|false,
// where <NAME> is the flag name upper-cased with dots as underscores
// (roles.dry_run reads FEATURE_ROLES_DRY_RUN).
func LoadFeatureFlags() *FeatureFlags {
	flags := make(map[string]bool, len(defaultFlags))
	for name, enabled := range defaultFlags {
		if raw := os.Getenv(envKeyFor(name)); raw != "" {
			if override, err := strconv.ParseBool(raw); err == nil {
				enabled = override
			}
		}
		flags[name] = enabled
	}
	return &FeatureFlags{flags: flags}
}

func envKeyFor(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled reports whether the named feature is on. Unknown names are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	return ff.flags[name]
}
