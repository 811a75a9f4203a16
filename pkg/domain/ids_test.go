package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "travlr/pkg/domain-errors"
)

func validAID() string {
	return "E" + strings.Repeat("A", 44)
}

func TestParseAID(t *testing.T) {
	t.Run("accepts well-formed identifiers", func(t *testing.T) {
		for _, prefix := range []string{"E", "D", "B"} {
			aid, err := ParseAID(prefix + strings.Repeat("a", 44))
			require.NoError(t, err)
			assert.Equal(t, prefix, string(aid)[:1])
		}
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseAID("Eshort")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})

	t.Run("rejects unknown derivation code", func(t *testing.T) {
		_, err := ParseAID("X" + strings.Repeat("A", 44))
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})

	t.Run("rejects non-base64url body", func(t *testing.T) {
		_, err := ParseAID("E" + strings.Repeat("A", 43) + "!")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
	})

	t.Run("empty input never validates", func(t *testing.T) {
		_, err := ParseAID("")
		require.Error(t, err)
	})
}

func TestAIDShort(t *testing.T) {
	aid, err := ParseAID(validAID())
	require.NoError(t, err)
	assert.Equal(t, "EAAAAAAA...", aid.Short())
}

func TestParseRequestID(t *testing.T) {
	id := NewRequestID()
	parsed, err := ParseRequestID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRequestID("not-a-uuid")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestParseRequesterClass(t *testing.T) {
	for _, valid := range []string{"admin", "automated"} {
		c, err := ParseRequesterClass(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(c))
	}

	_, err := ParseRequesterClass("ai")
	require.Error(t, err)
}

func TestCategoryOf(t *testing.T) {
	c, ok := CategoryOf(FieldFlightPreferences)
	require.True(t, ok)
	assert.Equal(t, CategoryFlight, c)

	_, ok = CategoryOf(DataField("salary_history"))
	assert.False(t, ok)
}

func TestConsentSettingsAllows(t *testing.T) {
	s := ConsentSettings{ShareFlightPrefs: true}
	assert.True(t, s.Allows(CategoryFlight))
	assert.False(t, s.Allows(CategoryHotel))
	assert.False(t, s.Allows(FieldCategory("unknown")))
}
