package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/pkg/timeutil"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "growth-hub", cfg.App.Name)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "grade", cfg.Analytics.CohortScope)
	assert.Equal(t, 60.0, cfg.Analytics.PassMark)
	assert.Equal(t, 1000, cfg.Analytics.BatchSize)
	assert.Equal(t, []string{"global"}, cfg.Scheduler.RiskTargets)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.RecomputeLockTTL)
	assert.Equal(t, "redis", cfg.Scheduler.EventBus)
	assert.True(t, cfg.Features.IsEnabled(FeatureRefreshRisk, nil))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("HTTP_API_KEY_HASHES", " $2a$hash1 , $2a$hash2 ,")
	t.Setenv("ANALYTICS_COHORT_SCOPE", "CLASS")
	t.Setenv("SCHEDULER_RECOMPUTE_GRADES", "7,8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, CacheMemory, cfg.Cache.Backend, "redis disabled falls back to memory")
	assert.Equal(t, "memory", cfg.Scheduler.EventBus, "redis disabled keeps events in process")
	assert.Equal(t, []string{"$2a$hash1", "$2a$hash2"}, cfg.HTTP.APIKeyHashes)
	assert.Equal(t, "class", cfg.Analytics.CohortScope)
	assert.Equal(t, []string{"7", "8"}, cfg.Scheduler.RecomputeGrades)
}

func TestLoad_UnknownTimezoneFallsBack(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_TIMEZONE", "Mars/Olympus_Mons")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, timeutil.DefaultLocation, cfg.App.Location)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_VERSION=9.9.9\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("APP_VERSION") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", cfg.App.Version)
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", "production")
	t.Setenv("ANALYTICS_PASS_MARK", "120")
	t.Setenv("CACHE_BACKEND", "memcached")
	t.Setenv("ANALYTICS_COHORT_SCOPE", "school")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "ANALYTICS_PASS_MARK must be 0-100")
	assert.Contains(t, err.Error(), "CACHE_BACKEND must be redis, memory or none")
	assert.Contains(t, err.Error(), "ANALYTICS_COHORT_SCOPE must be grade or class")
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_JOBS_RECOMPUTE_GROWTH_GRADES", "7, 8")
	t.Setenv("FEATURE_API_GROWTH_RUNS", "false")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureGrowthRunsAPI, nil))
	assert.True(t, ff.IsEnabled(FeaturePureAnalysisAPI, nil))
	assert.False(t, ff.IsEnabled("unknown.feature", nil))

	assert.Equal(t, []string{"7", "8"}, ff.FilterGrades(FeatureRecomputeGrowth, []string{"7", "8", "9"}))

	ff.SetGradeOverride("9", FeatureRecomputeGrowth, true)
	assert.Equal(t, []string{"7", "9"}, ff.FilterGrades(FeatureRecomputeGrowth, []string{"7", "9"}))

	require.NoError(t, ff.DisableFeature(FeatureRefreshRisk))
	assert.False(t, ff.IsEnabled(FeatureRefreshRisk, nil))
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureRefreshRisk, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.EnableFeature("missing"), ErrFeatureNotFound)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureRecomputeGrowth, 50))

	grades := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}
	first := ff.FilterGrades(FeatureRecomputeGrowth, grades)
	assert.Equal(t, first, ff.FilterGrades(FeatureRecomputeGrowth, grades))
	assert.True(t, ff.IsEnabled(FeatureRecomputeGrowth, nil))
}
