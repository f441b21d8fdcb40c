package forms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffport/api/internal/store"
)

func TestMatchSignersByRole(t *testing.T) {
	expected := []store.TemplateSigner{
		{Role: "Employee"},
		{Role: "Manager"},
	}
	actual := []store.SubmissionSigner{
		{Email: "boss@example.com", Role: "manager"},
		{Email: "new.hire@example.com", Role: "EMPLOYEE"},
	}

	matches := MatchSigners(expected, actual)
	require.Len(t, matches, 2)

	require.True(t, matches[0].Matched)
	assert.Equal(t, "new.hire@example.com", matches[0].Submission.Email)
	require.True(t, matches[1].Matched)
	assert.Equal(t, "boss@example.com", matches[1].Submission.Email)
}

func TestMatchSignersPositionalFallback(t *testing.T) {
	expected := []store.TemplateSigner{
		{Role: "First Party"},
		{Role: "Second Party"},
	}
	actual := []store.SubmissionSigner{
		{Email: "a@example.com", Role: ""},
		{Email: "b@example.com", Role: ""},
	}

	matches := MatchSigners(expected, actual)
	require.Len(t, matches, 2)
	require.True(t, matches[0].Matched)
	assert.Equal(t, "a@example.com", matches[0].Submission.Email)
	require.True(t, matches[1].Matched)
	assert.Equal(t, "b@example.com", matches[1].Submission.Email)
}

func TestMatchSignersRoleClaimBlocksPositionalReuse(t *testing.T) {
	expected := []store.TemplateSigner{
		{Role: "Witness"},
		{Role: "Employee"},
	}
	// The only submission signer is role-claimed by the second template
	// signer; the first must come back unmatched, not silently reuse it.
	actual := []store.SubmissionSigner{
		{Email: "new.hire@example.com", Role: "Employee"},
	}

	matches := MatchSigners(expected, actual)
	require.Len(t, matches, 2)
	assert.False(t, matches[0].Matched)
	assert.Nil(t, matches[0].Submission)
	require.True(t, matches[1].Matched)
	assert.Equal(t, "new.hire@example.com", matches[1].Submission.Email)
}

func TestMatchSignersMoreExpectedThanActual(t *testing.T) {
	expected := []store.TemplateSigner{
		{Role: "Employee"},
		{Role: "Manager"},
		{Role: "HR"},
	}
	actual := []store.SubmissionSigner{
		{Email: "new.hire@example.com", Role: "Employee"},
	}

	matches := MatchSigners(expected, actual)
	require.Len(t, matches, 3)
	assert.True(t, matches[0].Matched)
	assert.False(t, matches[1].Matched)
	assert.False(t, matches[2].Matched)
}

func TestMatchSignersEmpty(t *testing.T) {
	assert.Empty(t, MatchSigners(nil, nil))

	matches := MatchSigners([]store.TemplateSigner{{Role: "Employee"}}, nil)
	require.Len(t, matches, 1)
	assert.False(t, matches[0].Matched)
}
