package w1kit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/pkg/errors"

	"github.com/hubertat/w1kit/drivers"
)

const oldDataDuration = 10 * time.Minute

// DS18B20 measuring range, HomeKit defaults to 0..100 °C.
const ds18b20MinTemperature = -55
const ds18b20MaxTemperature = 125

// TemperatureSensor exposes one slave as a HomeKit thermometer. Id accepts
// every form FindDevice understands.
type TemperatureSensor struct {
	Id   string
	Name string

	value         float64
	lastSync      time.Time
	lock          sync.Mutex
	hkA           *accessory.Thermometer
	hkStatusFault *characteristic.StatusFault
}

func (ts *TemperatureSensor) GetId() string {
	return ts.Id
}

func (ts *TemperatureSensor) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("TemperatureSensor_" + ts.Id))
	return hash.Sum64()
}

func (ts *TemperatureSensor) Init() error {
	if len(ts.Id) == 0 {
		return errors.Errorf("temperature sensor %s has no Id", ts.Name)
	}
	if len(ts.Name) == 0 {
		ts.Name = ts.Id
	}

	info := accessory.Info{
		Name:         ts.Name,
		SerialNumber: fmt.Sprintf("temp_sensor:w1:%s", ts.Id),
	}
	ts.hkA = accessory.NewTemperatureSensor(info)
	ts.hkA.TempSensor.CurrentTemperature.SetMinValue(ds18b20MinTemperature)
	ts.hkA.TempSensor.CurrentTemperature.SetMaxValue(ds18b20MaxTemperature)
	ts.hkStatusFault = characteristic.NewStatusFault()
	ts.hkStatusFault.SetValue(characteristic.StatusFaultGeneralFault)
	ts.hkA.TempSensor.AddC(ts.hkStatusFault.C)

	return nil
}

// Update takes the sensor reading from a fresh snapshot.
func (ts *TemperatureSensor) Update(devices []drivers.Device) error {
	dev := FindDevice(devices, ts.Id)
	if dev == nil {
		ts.setFault()
		return errors.Errorf("temperature sensor %s (%s) not present on the bus", ts.Name, ts.Id)
	}

	ts.SetValue(dev.Temperature)
	return ts.Sync()
}

func (ts *TemperatureSensor) Sync() error {
	val, err := ts.GetValue()
	if err == nil {
		if ts.hkA != nil {
			ts.hkStatusFault.SetValue(characteristic.StatusFaultNoFault)
			ts.hkA.TempSensor.CurrentTemperature.SetValue(val)
		}
		return nil
	}

	ts.setFault()
	return errors.Wrapf(err, "failed to sync %s temperature sensor %s", ts.Name, ts.Id)
}

func (ts *TemperatureSensor) setFault() {
	if ts.hkStatusFault != nil {
		ts.hkStatusFault.SetValue(characteristic.StatusFaultGeneralFault)
	}
}

func (ts *TemperatureSensor) GetHk() *accessory.A {
	if ts.hkA == nil {
		return nil
	}
	return ts.hkA.A
}

func (ts *TemperatureSensor) GetValue() (value float64, err error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	if ts.lastSync.IsZero() {
		err = errors.Errorf("cannot get sensor %s value, never synced", ts.Id)
		return
	}

	if time.Since(ts.lastSync) > oldDataDuration {
		err = errors.Errorf("cannot get value of sensor %s, data is too old (%v old)", ts.Id, time.Since(ts.lastSync))
		return
	}

	value = ts.value
	return
}

func (ts *TemperatureSensor) SetValue(val float64) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	ts.value = val
	ts.lastSync = time.Now()
	return nil
}
