// Package interop converts between bus.Event and the CloudEvents wire
// envelope (github.com/cloudevents/sdk-go/v2). The core broker never
// imports a transport; this package is the seam a networked adapter
// would sit behind to put an Event on the wire.
package interop

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/patchbay/bus"
)

// ToCloudEvent renders ev as a CloudEvents v1.0 structured event: Type
// becomes the CloudEvent type, Meta.Source the source, Meta.Version an
// extension attribute, and Detail the JSON-encoded data payload.
func ToCloudEvent(ev bus.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetType(ev.Type)
	ce.SetSource(ev.Meta.Source)
	ce.SetTime(time.UnixMilli(ev.Meta.Timestamp))
	ce.SetExtension("busversion", ev.Meta.Version)

	if ev.Detail != nil {
		if err := ce.SetData(cloudevents.ApplicationJSON, ev.Detail); err != nil {
			return cloudevents.Event{}, fmt.Errorf("interop: encode detail: %w", err)
		}
	}
	return ce, nil
}

// FromCloudEvent recovers a bus.Event from a CloudEvent previously built
// by ToCloudEvent (or any CloudEvent carrying the same attributes). The
// recovered Detail is the raw decoded JSON value (map[string]any for
// object payloads), not necessarily identical in Go type to what was
// originally passed to Emit.
func FromCloudEvent(ce cloudevents.Event) (bus.Event, error) {
	version := "0.0.0"
	if v, err := ce.Context.GetExtension("busversion"); err == nil {
		if s, ok := v.(string); ok {
			version = s
		}
	}

	var detail any
	if len(ce.Data()) > 0 {
		if err := ce.DataAs(&detail); err != nil {
			return bus.Event{}, fmt.Errorf("interop: decode detail: %w", err)
		}
	}

	source := ce.Source()
	if source == "" {
		source = "unknown"
	}

	return bus.Event{
		Type:   ce.Type(),
		Detail: detail,
		Meta: bus.Meta{
			Timestamp: ce.Time().UnixMilli(),
			Source:    source,
			Version:   version,
		},
	}, nil
}
