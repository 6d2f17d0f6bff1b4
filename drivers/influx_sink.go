package drivers

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

const influxSinkName string = "influx"
const defaultInfluxMeasurement string = "temperature"

type InfluxSink struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	Debug bool

	client influxdb2.Client
	logger *log.Logger
}

func (is *InfluxSink) Setup(ctx context.Context) error {
	if len(is.Host) == 0 || len(is.Bucket) == 0 {
		return errors.New("InfluxSink Setup: Host and Bucket are required")
	}
	if len(is.Measurement) == 0 {
		is.Measurement = defaultInfluxMeasurement
	}

	is.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "InfluxSink: ",
		Level:  log.GetLevel(),
	})
	is.client = influxdb2.NewClient(is.Host, is.Token)

	ok, err := is.client.Ready(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to init InfluxSink, %s not ready", is.Host)
	}
	if !ok {
		return errors.Errorf("failed to init InfluxSink, %s not reachable", is.Host)
	}

	return nil
}

func (is *InfluxSink) Close() error {
	if is.client != nil {
		is.client.Close()
	}
	return nil
}

func (is *InfluxSink) Name() string {
	return influxSinkName
}

func (is *InfluxSink) Store(ctx context.Context, devices []Device) error {
	if is.client == nil {
		return errors.New("InfluxSink not set up")
	}
	if len(devices) == 0 {
		return nil
	}

	points := is.preparePoints(devices, time.Now())
	if is.Debug {
		is.logger.Debug("writing points", "count", len(points), "bucket", is.Bucket)
	}

	writeApi := is.client.WriteAPIBlocking(is.Organization, is.Bucket)
	err := writeApi.WritePoint(ctx, points...)
	if err != nil {
		return errors.Wrapf(err, "failed to write %d points to InfluxSink", len(points))
	}

	return nil
}

func (is *InfluxSink) preparePoints(devices []Device, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(devices))
	for _, dev := range devices {
		points = append(points, influxdb2.NewPoint(
			is.Measurement,
			map[string]string{
				"id":     dev.Id,
				"family": dev.Family,
				"dir":    dev.Dir,
			},
			map[string]interface{}{
				"temperature": dev.Temperature,
			},
			ts,
		))
	}
	return points
}
