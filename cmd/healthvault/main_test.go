package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"healthvault/internal/platform/config"
	dErrors "healthvault/pkg/domain-errors"
)

type CLISuite struct {
	suite.Suite
	cfg config.Config
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.cfg = config.Config{
		Backend:  config.BackendFile,
		DataDir:  s.T().TempDir(),
		LogLevel: "error",
		Profile: config.ProfileConfig{
			CacheTTL:        30 * time.Second,
			CacheMaxEntries: 8,
			LockTimeout:     5 * time.Second,
		},
		Consent: config.ConsentConfig{PolicyVersion: "2025-01"},
	}
}

func (s *CLISuite) exec(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := dispatch(context.Background(), s.cfg, args, &stdout, &stderr)
	return stdout.String(), err
}

func (s *CLISuite) mustExec(args ...string) string {
	out, err := s.exec(args...)
	s.Require().NoError(err)
	return out
}

// =============================================================================
// Consent and AI summary
// =============================================================================

func (s *CLISuite) TestConsentFlow() {
	s.Run("granting required consents and AI analysis", func() {
		out := s.mustExec("consent", "-user", "u1",
			"-grant", "privacy_policy, health_data_storage,personalized_recommendations,ai_analysis")

		var status statusOutput
		s.Require().NoError(json.Unmarshal([]byte(out), &status))
		s.False(status.NeedsUpdate)
		s.True(status.AIAnalysisEnabled)
		s.Equal(1, status.ProfileVersion)
	})

	s.Run("state survives a new process", func() {
		out := s.mustExec("ai-summary", "-user", "u1")
		s.JSONEq(`{"conditions":[],"allergens":[],"goals":[]}`, out)
	})

	s.Run("revoking AI analysis closes the boundary", func() {
		s.mustExec("consent", "-user", "u1", "-revoke", "ai_analysis")

		_, err := s.exec("ai-summary", "-user", "u1")
		s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
	})

	s.Run("consent given under an older policy asks again", func() {
		s.mustExec("consent", "-user", "u3",
			"-grant", "privacy_policy,health_data_storage,personalized_recommendations")
		out := s.mustExec("consent", "-user", "u3", "-grant", "usage_analytics", "-policy", "1999-01")

		var status statusOutput
		s.Require().NoError(json.Unmarshal([]byte(out), &status))
		s.True(status.NeedsUpdate)
		for _, c := range status.Consents {
			if c.Type == "usage_analytics" {
				s.Equal("1999-01", c.PolicyVersion)
			}
		}
	})

	s.Run("unknown consent type is rejected", func() {
		_, err := s.exec("consent", "-user", "u1", "-grant", "telepathy")
		s.Error(err)
	})
}

// =============================================================================
// Export and erase
// =============================================================================

func (s *CLISuite) TestExportAndErase() {
	s.mustExec("consent", "-user", "u2", "-grant", "ai_analysis")

	s.Run("export writes the bundle", func() {
		out := s.mustExec("export", "-user", "u2")

		var bundle map[string]json.RawMessage
		s.Require().NoError(json.Unmarshal([]byte(out), &bundle))
		s.Contains(bundle, "profile")
		s.Contains(bundle, "consent_history")
	})

	s.Run("erase requires confirmation", func() {
		_, err := s.exec("erase", "-user", "u2")
		s.Error(err)
	})

	s.Run("erase removes everything", func() {
		s.JSONEq(`{"erased":true}`, s.mustExec("erase", "-user", "u2", "-yes"))

		_, err := s.exec("export", "-user", "u2")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("retention is a no-op once erased", func() {
		s.JSONEq(`{"purged":false}`, s.mustExec("retention", "-user", "u2"))
	})
}

func (s *CLISuite) TestKeyFileCreatedPrivately() {
	s.mustExec("status", "-user", "u3")

	info, err := os.Stat(filepath.Join(s.cfg.DataDir, "master.key"))
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o600), info.Mode().Perm())
}

func TestDispatch_Usage(t *testing.T) {
	cfg := config.Config{Backend: config.BackendMemory, DataDir: t.TempDir()}
	var out bytes.Buffer

	err := dispatch(context.Background(), cfg, nil, &out, &out)
	assert.ErrorIs(t, err, errUsage)

	err = dispatch(context.Background(), cfg, []string{"frobnicate"}, &out, &out)
	assert.ErrorIs(t, err, errUsage)

	err = dispatch(context.Background(), cfg, []string{"export"}, &out, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-user is required")
	_, statErr := os.Stat(filepath.Join(cfg.DataDir, "master.key"))
	assert.True(t, os.IsNotExist(statErr), "flag errors must not open storage")
}
