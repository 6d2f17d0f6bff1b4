package drivers

import "context"

// Device is a single slave reading taken from a bus master.
type Device struct {
	Family      string  `json:"family"`
	Id          string  `json:"id"`
	Dir         string  `json:"dir"`
	File        string  `json:"file"`
	Temperature float64 `json:"temp"`
}

// DeviceSource delivers a fresh snapshot of all readable devices.
type DeviceSource interface {
	Devices(ctx context.Context) ([]Device, error)
}

type SensorDriver interface {
	DeviceSource
	Setup(ctx context.Context) error
	Close() error
	IsReady() bool
	Name() string
}

// DeviceSink receives every snapshot produced by a read.
type DeviceSink interface {
	Store(ctx context.Context, devices []Device) error
	Close() error
	Name() string
}
