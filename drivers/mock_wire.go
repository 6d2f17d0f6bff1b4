package drivers

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const mockWireDriverName = "mock_wire"

// MockWire is a bus without hardware. Its devices are returned as configured,
// Err (when set) is returned instead of a snapshot.
type MockWire struct {
	Slaves []Device
	Err    error `json:"-"`

	reads          int
	ready          bool
	writeTo        io.Writer
	writeSnapshots bool
	lock           sync.Mutex
}

func (mw *MockWire) Setup(ctx context.Context) error {
	mw.ready = true
	return nil
}

func (mw *MockWire) Close() error {
	return nil
}

func (mw *MockWire) Name() string {
	return mockWireDriverName
}

func (mw *MockWire) IsReady() bool {
	return mw.ready
}

func (mw *MockWire) Devices(ctx context.Context) ([]Device, error) {
	mw.lock.Lock()
	defer mw.lock.Unlock()

	mw.reads++
	if mw.Err != nil {
		return nil, mw.Err
	}

	devices := make([]Device, len(mw.Slaves))
	copy(devices, mw.Slaves)

	if mw.writeSnapshots {
		fmt.Fprintf(mw.writeTo, "[read %d] %d devices\n", mw.reads, len(devices))
	}

	return devices, nil
}

// Reads returns how many snapshots were requested so far.
func (mw *MockWire) Reads() int {
	mw.lock.Lock()
	defer mw.lock.Unlock()

	return mw.reads
}

// SetTemperature changes the reading of a mock slave, matched by raw id.
func (mw *MockWire) SetTemperature(rawId string, value float64) error {
	mw.lock.Lock()
	defer mw.lock.Unlock()

	for ix := range mw.Slaves {
		if mw.Slaves[ix].File == rawId {
			mw.Slaves[ix].Temperature = value
			return nil
		}
	}
	return fmt.Errorf("mock slave %s not found", rawId)
}

func (mw *MockWire) MonitorReads(writer io.Writer) {
	mw.lock.Lock()
	defer mw.lock.Unlock()

	mw.writeTo = writer
	mw.writeSnapshots = true
}

// NewMockDevice builds a device the way the wire driver would for rawId.
func NewMockDevice(dir, rawId string, temperature float64) Device {
	family, _ := SplitRawId(rawId)
	return Device{
		Family:      family,
		Id:          NormalizeId(rawId),
		Dir:         dir,
		File:        rawId,
		Temperature: temperature,
	}
}
