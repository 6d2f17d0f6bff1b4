package w1kit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/w1kit/drivers"
	"github.com/hubertat/w1kit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "w1kit"
const homeKitBridgeAuthor = "github.com/hubertat"
const defaultSensorsInterval = 30 * time.Second
const sinkTimeout = 10 * time.Second

type W1Kit struct {
	Name     string
	LogLevel string

	Wire     *drivers.Wire
	MockWire *drivers.MockWire

	Nodes   []*Node
	Sensors []*TemperatureSensor

	SensorsInterval string

	MqttBroker  string
	HttpAddress string
	Influx      *drivers.InfluxSink

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	driver     drivers.SensorDriver
	sinks      []drivers.DeviceSink
	mqttClient *mqtt.MqttClient
	httpServer *HttpServer
	logger     *log.Logger

	sensorsInterval time.Duration
}

func (wk *W1Kit) GetDriver() drivers.SensorDriver {
	return wk.driver
}

// Init validates the configuration and sets up the bus driver and sinks.
func (wk *W1Kit) Init(ctx context.Context) error {
	if len(wk.LogLevel) > 0 {
		level, err := log.ParseLevel(wk.LogLevel)
		if err != nil {
			return errors.Wrapf(err, "failed to parse LogLevel (%s)", wk.LogLevel)
		}
		log.SetLevel(level)
	}
	wk.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "W1Kit: ",
		Level:  log.GetLevel(),
	})

	if len(wk.Nodes) == 0 && len(wk.Sensors) == 0 && len(wk.HttpAddress) == 0 {
		return errors.New("nothing to do: configure Nodes, Sensors or HttpAddress")
	}

	for _, node := range wk.Nodes {
		err := node.Init()
		if err != nil {
			return errors.Wrap(err, "failed to init node")
		}
	}

	wk.sensorsInterval = defaultSensorsInterval
	if len(wk.SensorsInterval) > 0 {
		interval, err := time.ParseDuration(wk.SensorsInterval)
		if err != nil {
			return errors.Wrapf(err, "failed to parse SensorsInterval (%s)", wk.SensorsInterval)
		}
		wk.sensorsInterval = interval
	}

	if len(wk.HkPin) > 0 && len(wk.HkPin) != 8 {
		return errors.Errorf("HkPin must have 8 digits (got %d)", len(wk.HkPin))
	}

	for _, sensor := range wk.Sensors {
		err := sensor.Init()
		if err != nil {
			return errors.Wrap(err, "failed to init temperature sensor")
		}
	}

	switch {
	case wk.MockWire != nil:
		wk.driver = wk.MockWire
	case wk.Wire != nil:
		wk.driver = wk.Wire
	default:
		wk.Wire = &drivers.Wire{}
		wk.driver = wk.Wire
	}

	err := wk.driver.Setup(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to setup %s driver", wk.driver.Name())
	}

	if len(wk.HttpAddress) > 0 {
		var node *Node
		if len(wk.Nodes) > 0 {
			node = wk.Nodes[0]
		}
		wk.httpServer = NewHttpServer(wk.HttpAddress, wk.driver, node)
	}

	if wk.Influx != nil {
		err = wk.Influx.Setup(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to setup influx sink")
		}
		wk.sinks = append(wk.sinks, wk.Influx)
	}

	return nil
}

// ReadNode runs a single read for node with msg as input and passes the
// output records on to mqtt and the sinks.
func (wk *W1Kit) ReadNode(ctx context.Context, node *Node, msg Message) ([]Message, error) {
	msgs, err := Read(ctx, wk.driver, node.Request(msg))
	if err != nil {
		return nil, errors.Wrapf(err, "node %s read failed", node.Name)
	}

	wk.publish(node, msgs)
	wk.store(ctx, DevicesFromMessages(msgs))

	return msgs, nil
}

func (wk *W1Kit) publish(node *Node, msgs []Message) {
	if wk.mqttClient == nil || len(node.PublishTopic) == 0 {
		return
	}

	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			wk.logger.Error("failed to marshal output record", "node", node.Name, "err", err)
			continue
		}
		err = wk.mqttClient.Publish(node.PublishTopic, payload)
		if err != nil {
			wk.logger.Error("failed to publish output record", "node", node.Name, "err", err)
		}
	}
}

func (wk *W1Kit) store(ctx context.Context, devices []drivers.Device) {
	if len(devices) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	for _, sink := range wk.sinks {
		err := sink.Store(ctx, devices)
		if err != nil {
			wk.logger.Error("failed to store readings", "sink", sink.Name(), "err", err)
		}
	}
}

// SyncSensors takes one snapshot and updates every HomeKit sensor from it.
func (wk *W1Kit) SyncSensors(ctx context.Context) error {
	if len(wk.Sensors) == 0 {
		return nil
	}

	devices, err := wk.driver.Devices(ctx)
	if err != nil {
		for _, sensor := range wk.Sensors {
			sensor.setFault()
		}
		return errors.Wrap(err, "failed to read devices for sensors")
	}

	var syncErr error
	for _, sensor := range wk.Sensors {
		err = sensor.Update(devices)
		if err != nil {
			if syncErr == nil {
				syncErr = err
			} else {
				syncErr = errors.Wrap(syncErr, err.Error())
			}
		}
	}

	return syncErr
}

func (wk *W1Kit) runNodeTicker(ctx context.Context, node *Node) {
	ticker := time.NewTicker(node.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := wk.ReadNode(ctx, node, Message{})
			if err != nil {
				wk.logger.Error("periodic read failed", "node", node.Name, "err", err)
			}
		}
	}
}

func (wk *W1Kit) runSensorsTicker(ctx context.Context) {
	ticker := time.NewTicker(wk.sensorsInterval)
	defer ticker.Stop()

	for {
		err := wk.SyncSensors(ctx)
		if err != nil {
			wk.logger.Warn("Received error(s) from syncing sensors", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartTicker runs periodic node reads and sensor syncs until ctx is done.
func (wk *W1Kit) StartTicker(ctx context.Context) {
	wg := sync.WaitGroup{}

	for _, node := range wk.Nodes {
		if node.interval == 0 {
			continue
		}
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			wk.runNodeTicker(ctx, node)
		}(node)
	}

	if len(wk.Sensors) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wk.runSensorsTicker(ctx)
		}()
	}

	wg.Wait()
}

// nodeInput triggers a read of its node for every mqtt message received on
// the node InputTopic.
type nodeInput struct {
	wk   *W1Kit
	node *Node
	ctx  context.Context
}

func (ni *nodeInput) MqttSubscribeTopic() string {
	return ni.node.InputTopic
}

func (ni *nodeInput) MqttHandle(pub *paho.Publish) {
	msg := Message{}
	err := json.Unmarshal(pub.Payload, &msg)
	if err != nil {
		msg = Message{"payload": string(pub.Payload)}
	}

	go func() {
		_, err := ni.wk.ReadNode(ni.ctx, ni.node, msg)
		if err != nil {
			ni.wk.logger.Error("mqtt triggered read failed", "node", ni.node.Name, "err", err)
		}
	}()
}

func (wk *W1Kit) InitMqtt(ctx context.Context) (err error) {
	if len(wk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	clientId := wk.Name
	if len(clientId) == 0 {
		clientId = homeKitBridgeName
	}

	mc, err := mqtt.NewMqttClient(wk.MqttBroker, clientId)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	wk.mqttClient = mc

	mqttHandlers := []mqtt.MqttHandler{}
	for _, node := range wk.Nodes {
		if len(node.InputTopic) > 0 {
			mqttHandlers = append(mqttHandlers, &nodeInput{wk: wk, node: node, ctx: ctx})
		}
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

// StartHttp serves the http server built by Init until Close is called.
func (wk *W1Kit) StartHttp() error {
	if wk.httpServer == nil {
		return errors.New("http server not configured, HttpAddress is empty")
	}
	return wk.httpServer.ListenAndServe()
}

func (wk *W1Kit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, sensor := range wk.Sensors {
		a := sensor.GetHk()
		if a != nil {
			if a.Info != nil && a.Info.FirmwareRevision != nil {
				a.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			a.Id = sensor.GetUniqueId()
			acc = append(acc, a)
		}
	}

	return
}

func (wk *W1Kit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := wk.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(wk.HkDirectory) > 1 {
		store = hap.NewFsStore(wk.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, wk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = wk.HkPin
	if len(wk.HkAddress) > 0 {
		hkServer.Addr = wk.HkAddress
	}

	if wk.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	return hkServer.ListenAndServe(ctx)
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (wk *W1Kit) Close() (err error) {
	if wk.httpServer != nil {
		closeErr := wk.httpServer.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close http server")
		}
	}

	if wk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		wk.mqttClient.Disconnect(ctx)
	}

	for _, sink := range wk.sinks {
		closeErr := sink.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close sink "+sink.Name())
		}
	}

	if wk.driver != nil {
		closeErr := wk.driver.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close driver")
		}
	}

	return
}

func (wk *W1Kit) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== w1kit ===")
	if wk.driver != nil {
		fmt.Fprintf(writer, "| driver: %s (ready: %v)\n", wk.driver.Name(), wk.driver.IsReady())
	}
	for _, node := range wk.Nodes {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| node: %s\n", node.Name)
		fmt.Fprintf(writer, "| topic: %q array: %v\n", node.Topic, node.Array)
		if node.interval > 0 {
			fmt.Fprintf(writer, "| every: %s\n", node.interval)
		}
		if len(node.InputTopic) > 0 {
			fmt.Fprintf(writer, "| mqtt in: %s\n", node.InputTopic)
		}
		if len(node.PublishTopic) > 0 {
			fmt.Fprintf(writer, "| mqtt out: %s\n", node.PublishTopic)
		}
	}
	for _, sensor := range wk.Sensors {
		fmt.Fprintf(writer, "| homekit sensor: %s (%s)\n", sensor.Name, sensor.Id)
	}
	for _, sink := range wk.sinks {
		fmt.Fprintf(writer, "| sink: %s\n", sink.Name())
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}
