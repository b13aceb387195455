package personality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/persona-companion/internal/domain"
)

func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()

	all := All()
	require.Len(t, all, len(domain.PersonalityTypes))
	for i, cfg := range all {
		assert.Equal(t, domain.PersonalityTypes[i], cfg.Type)
		assert.NotEmpty(t, cfg.Name)
		assert.NotEmpty(t, cfg.Description)
		assert.NotEmpty(t, cfg.Tone)
		assert.Len(t, cfg.Examples, 3)
	}

	cfg, ok := Lookup(domain.PersonalityWittyFriend)
	require.True(t, ok)
	assert.Equal(t, "Witty Friend", cfg.Name)

	neutral, ok := Lookup(domain.PersonalityNeutral)
	require.True(t, ok)
	assert.Equal(t, domain.Frame{}, neutral.Frame)

	_, ok = Lookup("pirate")
	assert.False(t, ok)
}

func TestAllReturnsCopy(t *testing.T) {
	t.Parallel()

	first := All()
	first[0].Name = "changed"
	assert.Equal(t, "Calm Mentor", All()[0].Name)
}

func TestParseCatalogRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "not yaml", yaml: "[unclosed", want: "decode personality catalog"},
		{name: "unknown type", yaml: "- type: pirate\n  name: Pirate\n", want: "unknown personality type"},
		{name: "duplicate", yaml: "- type: neutral\n  name: A\n- type: neutral\n  name: B\n", want: "duplicate"},
		{name: "unnamed", yaml: "- type: neutral\n", want: "has no name"},
		{name: "incomplete", yaml: "- type: neutral\n  name: Neutral\n", want: "missing from catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
