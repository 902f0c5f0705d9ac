package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckHealthyOnRealCSPRNG(t *testing.T) {
	Reset()
	s := Check()
	assert.True(t, s.Healthy)
	assert.NoError(t, s.Err)
	assert.Equal(t, "", MarkerSuffix())
}

func TestCheckCachesFirstResult(t *testing.T) {
	Reset()
	a := Check()
	b := Check()
	assert.Equal(t, a, b)
}
