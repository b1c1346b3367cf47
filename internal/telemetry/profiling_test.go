package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartProfilingDisabledIsNoop(t *testing.T) {
	shutdown, err := StartProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown())
}

func TestStartProfilingRejectsUnknownProfileType(t *testing.T) {
	_, err := StartProfiling(ProfilingConfig{
		Enabled:      true,
		ServiceName:  "btstackctl",
		Endpoint:     "http://localhost:4040",
		ProfileTypes: []string{"not_a_real_profile_type"},
	})
	require.Error(t, err)
}
