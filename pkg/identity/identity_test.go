package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid digits only", "52998224725", true},
		{"valid punctuated", "529.982.247-25", true},
		{"second valid identity", "11144477735", true},
		{"bad first check digit", "52998224715", false},
		{"bad second check digit", "52998224726", false},
		{"repeated digits", "11111111111", false},
		{"repeated zeros", "000.000.000-00", false},
		{"spaced digits", " 529 982 247 25 ", true},
		{"too short", "5299822472", false},
		{"too long", "529982247250", false},
		{"empty", "", false},
		{"letters only", "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "52998224725", Normalize("529.982.247-25"))
	assert.Equal(t, "52998224725", Normalize(" 529 982 247 25 "))
	assert.Equal(t, "", Normalize("---"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "529.982.247-25", Format("52998224725"))
	assert.Equal(t, "529.982.247-25", Format("529.982.247-25"))
	assert.Equal(t, "123", Format("1-2-3"))
}

func TestNormalizeFormatRoundTrip(t *testing.T) {
	ids := []string{"52998224725", "529.982.247-25", "11144477735", "111.444.777-35"}
	for _, id := range ids {
		n := Normalize(id)
		require.True(t, IsValid(n), id)
		assert.Equal(t, n, Normalize(Format(n)), id)
	}
}

func TestCPFValidator(t *testing.T) {
	var v Validator = NewCPFValidator()
	assert.True(t, v.IsValid("529.982.247-25"))
	assert.Equal(t, "52998224725", v.Normalize("529.982.247-25"))
}
