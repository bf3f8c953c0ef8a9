package workerpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckURLSafety_RejectsUnsupportedScheme(t *testing.T) {
	err := checkURLSafety("ftp://example.com/data.csv", false)
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.ErrorType)
}

func TestCheckURLSafety_AllowsFileSchemeWithoutResolution(t *testing.T) {
	err := checkURLSafety("file:///tmp/data.csv", false)
	assert.Nil(t, err)
}

func TestCheckURLSafety_RejectsLoopback(t *testing.T) {
	err := checkURLSafety("http://127.0.0.1/data.csv", false)
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.ErrorType)
	assert.Contains(t, err.Message, "private/internal")
}

func TestCheckURLSafety_RejectsPrivateRFC1918(t *testing.T) {
	err := checkURLSafety("http://10.0.0.5/data.csv", false)
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.ErrorType)
}

func TestCheckURLSafety_AllowsPrivateWhenOptedIn(t *testing.T) {
	err := checkURLSafety("http://127.0.0.1/data.csv", true)
	assert.Nil(t, err)
}

func TestCheckURLSafety_RejectsMalformedURL(t *testing.T) {
	err := checkURLSafety("http://[::1", false)
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.ErrorType)
}
