package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetConnectionState_ExactlyOneActive(t *testing.T) {
	SetConnectionState("reconnecting")

	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionState.WithLabelValues("reconnecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("connected")))

	SetConnectionState("connected")
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectionState.WithLabelValues("reconnecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectionState.WithLabelValues("connected")))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(EventsReceived.WithLabelValues("UserJoined"))
	EventsReceived.WithLabelValues("UserJoined").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(EventsReceived.WithLabelValues("UserJoined")))
}
