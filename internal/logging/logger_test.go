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

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func resetGlobals() {
	SetGlobalLevel(INFO)
	SetGlobalOutput(os.Stdout)
	SetJSONMode(false)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"DEBUG":   DEBUG,
		"info":    INFO,
		"warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	defer resetGlobals()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(WARN)
	SetJSONMode(false)

	logger := NewLogger("test")
	logger.Debug("not shown")
	logger.Info("not shown either")
	logger.Warn("shown")
	logger.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("filtered levels leaked: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "also shown") {
		t.Errorf("expected warn and error lines: %s", out)
	}
}

func TestJSONOutput(t *testing.T) {
	defer resetGlobals()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(DEBUG)
	SetJSONMode(true)

	logger := NewLogger("marker")
	logger.Info("Markers enqueued", "txn_id", "txn-1", "destinations", 2)

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Component != "marker" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Message != "Markers enqueued" {
		t.Errorf("unexpected message: %s", entry.Message)
	}
	if entry.Fields["txn_id"] != "txn-1" {
		t.Errorf("unexpected fields: %+v", entry.Fields)
	}
}

func TestTextOutputFields(t *testing.T) {
	defer resetGlobals()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(DEBUG)
	SetJSONMode(false)

	logger := NewLogger("transport")
	logger.Debug("Dialed peer", "node", "broker-1")

	out := buf.String()
	if !strings.Contains(out, "[transport]") {
		t.Errorf("missing component tag: %s", out)
	}
	if !strings.Contains(out, "node=broker-1") {
		t.Errorf("missing field: %s", out)
	}
}
