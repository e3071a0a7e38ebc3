package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsupportedAlwaysErrors(t *testing.T) {
	var tr NativeTrampoline = Unsupported{}
	_, err := tr.Build(0, []Type{Int64, Int64}, Int64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented on this platform")
}
