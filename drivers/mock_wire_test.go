package drivers

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestMockWireSetup(t *testing.T) {
	mw := MockWire{}

	if mw.IsReady() {
		t.Error("mock wire ready before Setup")
	}
	mw.Setup(context.Background())
	if !mw.IsReady() {
		t.Error("mock wire not ready after Setup")
	}
	assertStrings(t, mw.Name(), "mock_wire")
}

func TestMockWireDevices(t *testing.T) {
	mw := MockWire{Slaves: []Device{
		NewMockDevice("w1_bus_master1", "28-0316a27941ff", 21),
	}}

	devices, err := mw.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices returned error: %v", err)
	}
	devices[0].Temperature = 99

	err = mw.SetTemperature("28-0316a27941ff", 22.5)
	if err != nil {
		t.Errorf("SetTemperature returned error: %v", err)
	}
	devices, _ = mw.Devices(context.Background())
	assertFloats(t, devices[0].Temperature, 22.5)

	err = mw.SetTemperature("28-000000000000", 1)
	if err == nil {
		t.Error("got nil error for unknown mock slave")
	}

	if mw.Reads() != 2 {
		t.Errorf("got %d reads want 2", mw.Reads())
	}
}

func TestMockWireError(t *testing.T) {
	want := errors.New("bus gone")
	mw := MockWire{Err: want}

	devices, err := mw.Devices(context.Background())
	if err != want {
		t.Errorf("got error %v want %v", err, want)
	}
	if devices != nil {
		t.Errorf("got devices %v with error", devices)
	}
}

func TestMockWireMonitorReads(t *testing.T) {
	buf := &bytes.Buffer{}
	mw := MockWire{Slaves: []Device{NewMockDevice("m", "28-000000000001", 1)}}
	mw.MonitorReads(buf)

	mw.Devices(context.Background())
	if !strings.Contains(buf.String(), "[read 1] 1 devices") {
		t.Errorf("unexpected monitor output: %q", buf.String())
	}
}
