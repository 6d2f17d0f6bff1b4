package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/w1kit"
	"github.com/hubertat/w1kit/drivers"
)

var (
	httpAddr = flag.String("http", ":8080", "http listen address")
	broker   = flag.String("mqtt", "", "mqtt broker url, empty disables mqtt")
	interval = flag.String("interval", "5s", "periodic read interval")
)

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	mock := &drivers.MockWire{Slaves: []drivers.Device{
		drivers.NewMockDevice("w1_bus_master1", "28-0316a27941ff", 21.5),
		drivers.NewMockDevice("w1_bus_master1", "28-00000000cafe", 45.125),
		drivers.NewMockDevice("w1_bus_master2", "10-0102030405ab", -3.25),
	}}
	mock.MonitorReads(os.Stdout)

	wk := &w1kit.W1Kit{
		Name:        "w1kit-mock",
		MockWire:    mock,
		MqttBroker:  *broker,
		HttpAddress: *httpAddr,
		Nodes: []*w1kit.Node{
			{Name: "all", Array: true, Interval: *interval, PublishTopic: "w1kit/mock/all", InputTopic: "w1kit/mock/read"},
			{Name: "boiler", Topic: "ff4179a21603", PublishTopic: "w1kit/mock/boiler", InputTopic: "w1kit/mock/boiler/read"},
		},
	}

	ctx, cancel := w1kit.NotifyContext(context.Background())
	defer cancel()

	err := wk.Init(ctx)
	if err != nil {
		log.Fatal("init failed", "err", err)
	}
	defer wk.Close()

	if len(wk.MqttBroker) > 0 {
		err = wk.InitMqtt(ctx)
		if err != nil {
			log.Error("mqtt init failed", "err", err)
		}
	}

	go func() {
		err := wk.StartHttp()
		if err != nil {
			log.Error("http server stopped", "err", err)
		}
	}()

	go drift(ctx, mock)

	wk.PrintStatus(os.Stdout)
	wk.StartTicker(ctx)
}

// drift moves mock readings a little every second.
func drift(ctx context.Context, mock *drivers.MockWire) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	devices, _ := mock.Devices(ctx)
	values := map[string]float64{}
	for _, dev := range devices {
		values[dev.File] = dev.Temperature
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, val := range values {
				val += float64(rand.Intn(250)-125) / 1000
				values[id] = val
				mock.SetTemperature(id, val)
			}
		}
	}
}
