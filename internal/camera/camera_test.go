package camera

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionJSONCarriesActions(t *testing.T) {
	t.Parallel()

	failed := Session{
		State:      StateFailed,
		ErrorKind:  KindPermissionDenied,
		Message:    Remediation(KindPermissionDenied),
		Tier:       -1,
		Permission: PermissionDenied,
	}
	data, err := json.Marshal(failed)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "failed", got["state"])
	assert.Equal(t, "permission_denied", got["errorKind"])
	assert.Equal(t, []any{"retry", "request_permission"}, got["actions"])

	data, err = json.Marshal(Session{State: StateIdle, Tier: -1, Permission: PermissionUnknown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"idle","tier":-1,"permission":"unknown"}`, string(data))
}

func TestSessionJSONInsideEnvelope(t *testing.T) {
	t.Parallel()

	snap := struct {
		Camera *Session `json:"camera"`
	}{&Session{State: StateFailed, ErrorKind: KindDeviceBusy, Tier: -1, Permission: PermissionGranted}}

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"actions":["retry"]`)
}
