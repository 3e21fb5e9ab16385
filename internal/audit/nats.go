package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Publisher sends encoded audit entries to the message bus.
type Publisher interface {
	PublishAudit(data []byte) error
}

// BusRecorder publishes entries as JSON for out-of-process consumers such as
// the auditor service.
type BusRecorder struct {
	pub Publisher
}

// NewBusRecorder creates a BusRecorder over pub.
func NewBusRecorder(pub Publisher) *BusRecorder {
	return &BusRecorder{pub: pub}
}

// Record implements Recorder.
func (r *BusRecorder) Record(_ context.Context, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		zap.S().Errorw("[audit] marshal entry", "kind", e.Kind, "error", err)
		return
	}
	if err := r.pub.PublishAudit(data); err != nil {
		zap.S().Warnw("[audit] publish entry", "kind", e.Kind, "error", err)
	}
}

// Decode parses an entry published by BusRecorder.
func Decode(data []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(data, &e)
	return e, err
}
