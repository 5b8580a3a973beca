/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flycoord/internal/config"
)

func TestRecordSend(t *testing.T) {
	m := &Metrics{}
	m.RecordSend(3, 200*time.Microsecond)
	m.RecordSend(1, 400*time.Microsecond)

	if got := m.MarkersSent.Load(); got != 4 {
		t.Errorf("expected 4 markers sent, got %d", got)
	}
	if avg := m.AverageSendLatency(); avg != 300 {
		t.Errorf("expected average latency 300us, got %.2f", avg)
	}
}

func TestAverageSendLatencyEmpty(t *testing.T) {
	m := &Metrics{}
	if avg := m.AverageSendLatency(); avg != 0 {
		t.Errorf("expected 0 for no sends, got %.2f", avg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	Get().MarkersQueued.Add(5)
	Get().UnknownQueueDepth.Store(2)

	s := NewServer(&config.MetricsConfig{Enabled: true, Addr: ":0"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	s.handleMetrics(rec, req)

	body := rec.Body.String()
	for _, family := range []string{
		"flycoord_markers_queued_total",
		"flycoord_markers_acked_total",
		"flycoord_attempts_timed_out_total",
		"flycoord_unknown_queue_depth",
		"flycoord_broker_queue_count",
	} {
		if !strings.Contains(body, family) {
			t.Errorf("metric family %s missing from output", family)
		}
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
}
