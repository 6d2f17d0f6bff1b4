package w1kit

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hubertat/w1kit/drivers"
)

// Message is an opaque record passed in with a read and cloned into every
// output record.
type Message map[string]interface{}

func (m Message) clone() Message {
	c := make(Message, len(m)+5)
	for k, v := range m {
		c[k] = v
	}
	return c
}

// ReadRequest carries the parameters of a single read. Topic holds one or
// more device ids separated by spaces, empty means all devices.
type ReadRequest struct {
	Topic string
	Array bool
	Input Message
}

func (req ReadRequest) ids() []string {
	return strings.Fields(req.Topic)
}

// FindDevice returns the device matching id or nil. The id is matched case
// insensitively against both the raw listing order and the normalized order,
// with or without a family prefix.
func FindDevice(devices []drivers.Device, id string) *drivers.Device {
	family, suffix := drivers.SplitRawId(strings.ToUpper(strings.TrimSpace(id)))
	if len(suffix) == 0 {
		return nil
	}
	reversed := drivers.ReverseBytePairs(suffix)

	for ix := range devices {
		dev := &devices[ix]
		if len(family) > 0 && !strings.EqualFold(family, dev.Family) {
			continue
		}
		_, rawSuffix := drivers.SplitRawId(strings.ToUpper(dev.File))
		for _, candidate := range []string{suffix, reversed} {
			if candidate == rawSuffix || candidate == dev.Id {
				return dev
			}
		}
	}

	return nil
}

func deviceMessage(input Message, dev *drivers.Device) Message {
	msg := input.clone()
	if dev == nil {
		msg["family"] = 0
		msg["payload"] = ""
		return msg
	}

	msg["file"] = dev.File
	msg["dir"] = dev.Dir
	msg["topic"] = dev.Id
	msg["family"] = dev.Family
	msg["payload"] = dev.Temperature
	return msg
}

func listMessage(input Message, payload interface{}) Message {
	msg := input.clone()
	msg["topic"] = ""
	msg["payload"] = payload
	return msg
}

// Shape turns a device snapshot into output records for req.
func Shape(req ReadRequest, devices []drivers.Device) []Message {
	ids := req.ids()

	if len(ids) == 0 {
		if req.Array {
			snapshot := make([]drivers.Device, len(devices))
			copy(snapshot, devices)
			return []Message{listMessage(req.Input, snapshot)}
		}

		msgs := make([]Message, 0, len(devices))
		for ix := range devices {
			msgs = append(msgs, deviceMessage(req.Input, &devices[ix]))
		}
		return msgs
	}

	if len(ids) == 1 && !req.Array {
		return []Message{deviceMessage(req.Input, FindDevice(devices, ids[0]))}
	}

	found := make([]*drivers.Device, 0, len(ids))
	for _, id := range ids {
		found = append(found, FindDevice(devices, id))
	}
	return []Message{listMessage(req.Input, found)}
}

// Read takes a fresh snapshot from source and shapes it for req.
func Read(ctx context.Context, source drivers.DeviceSource, req ReadRequest) ([]Message, error) {
	devices, err := source.Devices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read devices")
	}

	return Shape(req, devices), nil
}

// DevicesFromMessages collects the devices carried by output records, skipping
// unresolved entries.
func DevicesFromMessages(msgs []Message) []drivers.Device {
	devices := []drivers.Device{}
	for _, msg := range msgs {
		switch payload := msg["payload"].(type) {
		case []drivers.Device:
			devices = append(devices, payload...)
		case []*drivers.Device:
			for _, dev := range payload {
				if dev != nil {
					devices = append(devices, *dev)
				}
			}
		case float64:
			file, _ := msg["file"].(string)
			dir, _ := msg["dir"].(string)
			id, _ := msg["topic"].(string)
			family, _ := msg["family"].(string)
			devices = append(devices, drivers.Device{
				Family:      family,
				Id:          id,
				Dir:         dir,
				File:        file,
				Temperature: payload,
			})
		}
	}
	return devices
}
