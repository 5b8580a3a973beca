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

package txn

import (
	"fmt"
	"time"

	"github.com/hamba/avro/v2"
)

// completedRecordSchema is the Avro schema for the record appended to the
// transaction log when a transaction's markers have all been acked. The
// schema is versioned by name; readers resolve older records through Avro
// schema resolution.
const completedRecordSchemaJSON = `{
	"type": "record",
	"name": "TransactionCompletedRecord",
	"namespace": "flycoord.txn",
	"fields": [
		{"name": "transactional_id", "type": "string"},
		{"name": "producer_id", "type": "long"},
		{"name": "producer_epoch", "type": "int"},
		{"name": "state", "type": "string"},
		{"name": "partitions", "type": {"type": "array", "items": {
			"type": "record",
			"name": "TransactionPartition",
			"fields": [
				{"name": "topic", "type": "string"},
				{"name": "partition", "type": "int"}
			]
		}}},
		{"name": "completed_at", "type": "long"}
	]
}`

var completedRecordSchema = avro.MustParse(completedRecordSchemaJSON)

// CompletedPartition is one enrolled partition in a completed record.
type CompletedPartition struct {
	Topic     string `avro:"topic"`
	Partition int32  `avro:"partition"`
}

// CompletedRecord is the transaction log record written after a
// transaction's markers have all been acked.
type CompletedRecord struct {
	TransactionalID string               `avro:"transactional_id"`
	ProducerID      int64                `avro:"producer_id"`
	ProducerEpoch   int32                `avro:"producer_epoch"`
	State           string               `avro:"state"`
	Partitions      []CompletedPartition `avro:"partitions"`
	CompletedAt     int64                `avro:"completed_at"` // unix milliseconds
}

// EncodeCompletedRecord serializes the completed-state snapshot for the
// transaction log append path.
func EncodeCompletedRecord(md *Metadata, completedAt time.Time) ([]byte, error) {
	rec := CompletedRecord{
		TransactionalID: md.TransactionalID,
		ProducerID:      md.ProducerID,
		ProducerEpoch:   int32(md.ProducerEpoch),
		State:           string(md.State),
		Partitions:      make([]CompletedPartition, 0, len(md.Partitions)),
		CompletedAt:     completedAt.UnixMilli(),
	}
	for _, tp := range md.Partitions {
		rec.Partitions = append(rec.Partitions, CompletedPartition{
			Topic:     tp.Topic,
			Partition: tp.Partition,
		})
	}

	data, err := avro.Marshal(completedRecordSchema, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completed record for %s: %w", md.TransactionalID, err)
	}
	return data, nil
}

// DecodeCompletedRecord deserializes a transaction log completed record.
func DecodeCompletedRecord(data []byte) (*CompletedRecord, error) {
	var rec CompletedRecord
	if err := avro.Unmarshal(completedRecordSchema, data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode completed record: %w", err)
	}
	return &rec, nil
}
