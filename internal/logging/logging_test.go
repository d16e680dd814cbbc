package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("api", "prod", "debug").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("api", "dev", "loud").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("api", "dev", "").GetLevel())
}
