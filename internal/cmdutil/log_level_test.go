package cmdutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	var ll LogLevel
	require.Equal(t, "info", ll.String())

	require.NoError(t, ll.Set("DEBUG"))
	require.Equal(t, "debug", ll.String())
	require.NotNil(t, ll.FilterOption())

	require.Error(t, ll.Set("verbose"))
	require.Equal(t, "debug", ll.String())
}
