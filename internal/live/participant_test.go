package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantHelpers(t *testing.T) {
	s := &Service{participants: make(map[string]participant)}

	changed := s.update("ghost", func(p *participant) { p.pin = "482913" })
	assert.False(t, changed)
	assert.Empty(t, s.participants, "mutating an unknown connection must not grow the map")

	s.bind("c1", func(p *participant) { p.userID = 1 })
	require.Len(t, s.participants, 1)

	changed = s.update("c1", func(p *participant) { p.pin = "482913" })
	assert.True(t, changed)
	assert.Equal(t, "482913", s.participants["c1"].pin)
	assert.Equal(t, int64(1), s.participants["c1"].userID)
}
