package rticompat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUserAgentExtractsProductAndVersion(t *testing.T) {
	product, version, err := ParseUserAgent("codex-cli/1.4.2 (linux; x86_64)")
	require.NoError(t, err)
	require.Equal(t, "codex-cli", product)
	require.Equal(t, Version{1, 4, 2}, version)
}

func TestParseUserAgentRejectsMissingSeparator(t *testing.T) {
	_, _, err := ParseUserAgent("codex-cli-1.4.2")
	require.Error(t, err)
}

func TestGuardAllowsVersionAtOrAboveMinimum(t *testing.T) {
	g := Guard{MinVersion: Version{1, 2, 0}, Required: true}
	_, _, err := g.Check("codex-cli/1.2.0")
	require.NoError(t, err)
}

func TestGuardRejectsVersionBelowMinimum(t *testing.T) {
	g := Guard{MinVersion: Version{1, 2, 0}, Required: true}
	_, _, err := g.Check("codex-cli/1.1.9")
	require.Error(t, err)
}

func TestGuardIgnoresParseFailureWhenNotRequired(t *testing.T) {
	g := Guard{Required: false}
	_, _, err := g.Check("garbage")
	require.NoError(t, err)
}

func TestTeardownJoinErrorCombinesBoth(t *testing.T) {
	err := TeardownJoinError(errors.New("guard failed"), errors.New("shutdown failed"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "guard failed")
	require.Contains(t, err.Error(), "shutdown failed")
}

func TestTeardownJoinErrorReturnsSoleError(t *testing.T) {
	guardErr := errors.New("guard failed")
	require.Equal(t, guardErr, TeardownJoinError(guardErr, nil))
}
