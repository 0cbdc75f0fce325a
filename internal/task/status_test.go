package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(sec int64) time.Time { return time.Unix(sec, 123000).UTC() }

func ptr[T any](v T) *T { return &v }

func TestStatusJSONRoundTrip(t *testing.T) {
	cases := []Status{
		Stashed{},
		Stashed{EnqueueAt: ptr(ts(50))},
		Queued{EnqueuedAt: ts(100)},
		Locked{Previous: Queued{EnqueuedAt: ts(100)}},
		Locked{Previous: Paused{EnqueuedAt: ts(100)}},
		Paused{EnqueuedAt: ts(100)},
		Paused{EnqueuedAt: ts(100), Start: ptr(ts(110))},
		Running{EnqueuedAt: ts(100), Start: ts(110)},
		Done{End: ts(120), Result: Errored("no such directory")},
		Done{EnqueuedAt: ptr(ts(100)), Start: ptr(ts(110)), End: ts(120), Result: Failed(3)},
	}
	for _, st := range cases {
		t.Run(string(st.Kind()), func(t *testing.T) {
			data, err := MarshalStatus(st)
			require.NoError(t, err)
			back, err := UnmarshalStatus(data)
			require.NoError(t, err)
			assert.Equal(t, st, back)
		})
	}
}

func TestUnmarshalStatusRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown kind":        `{"kind":"Exploded"}`,
		"queued without time": `{"kind":"Queued"}`,
		"locked without prev": `{"kind":"Locked"}`,
		"locked over running": `{"kind":"Locked","previous":{"kind":"Running","enqueued_at":"2024-01-01T00:00:00Z","start":"2024-01-01T00:00:01Z"}}`,
		"locked over locked":  `{"kind":"Locked","previous":{"kind":"Locked","previous":{"kind":"Stashed"}}}`,
		"done without result": `{"kind":"Done","end":"2024-01-01T00:00:00Z"}`,
		"not an object":       `"Queued"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalStatus([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLockableAndHasProcess(t *testing.T) {
	assert.True(t, Lockable(Queued{}))
	assert.True(t, Lockable(Stashed{}))
	assert.True(t, Lockable(Paused{}))
	assert.False(t, Lockable(Paused{Start: ptr(ts(1))}))
	assert.False(t, Lockable(Locked{Previous: Queued{}}))
	assert.False(t, Lockable(Running{}))
	assert.False(t, Lockable(Done{}))

	assert.True(t, HasProcess(Running{}))
	assert.True(t, HasProcess(Paused{Start: ptr(ts(1))}))
	assert.False(t, HasProcess(Paused{}))
	assert.False(t, HasProcess(Queued{}))
}

func TestEnqueuedAtLooksThroughLock(t *testing.T) {
	at := EnqueuedAt(Locked{Previous: Queued{EnqueuedAt: ts(7)}})
	require.NotNil(t, at)
	assert.Equal(t, ts(7), *at)
	assert.Nil(t, EnqueuedAt(Stashed{}))
}

func TestTaskJSONRoundTrip(t *testing.T) {
	label := "nightly"
	orig := &Task{
		ID:           4,
		Command:      "make test",
		Path:         "/src",
		Label:        &label,
		Priority:     -2,
		Group:        "build",
		Dependencies: []int{1, 2},
		Status:       Locked{Previous: Stashed{EnqueueAt: ptr(ts(99))}},
		CreatedAt:    ts(3),
	}
	data, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":{"kind":"Locked"`)

	var back Task
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, orig, &back)
}
