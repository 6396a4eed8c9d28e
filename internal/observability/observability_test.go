// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger(&buf, "skylink-test", "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Str("stream", "gps").Msg("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "skylink-test")
}

func TestInitLogger_BadLevel(t *testing.T) {
	logger := initLogger(io.Discard, "x", "loud")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(datagramsDropped.WithLabelValues("gps", DropEnqueue))
	RecordDatagramDropped("gps", DropEnqueue)
	assert.Equal(t, before+1, testutil.ToFloat64(datagramsDropped.WithLabelValues("gps", DropEnqueue)))

	RecordLinkBytes("tx", 19)
	assert.GreaterOrEqual(t, testutil.ToFloat64(linkBytes.WithLabelValues("tx")), 19.0)

	SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth))
}

func TestHandler(t *testing.T) {
	RecordUplinkCommand("order", "accepted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "skylink_uplink_commands_total")
}
