package drivers

import (
	"context"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const wireSystemPath string = "/sys/bus/w1/devices"
const wireMastersPath string = "/sys/devices"
const wireSlaveFile string = "w1_slave"
const wireTemperatureMarker string = "t="

const wireSensorDriverName string = "wire"
const defaultMaxParallelReads = 8

type Wire struct {
	DevicesPath      string
	MastersPath      string
	BulkReadTimeout  string
	PollInterval     string
	MaxParallelReads int
	RequireCrc       bool

	Fs afero.Fs `json:"-"`

	logger          *log.Logger
	bulkReadTimeout time.Duration
	pollInterval    time.Duration
	ready           bool
}

func (w1 *Wire) Setup(ctx context.Context) (err error) {
	if w1.Fs == nil {
		w1.Fs = afero.NewOsFs()
	}
	if len(w1.DevicesPath) == 0 {
		w1.DevicesPath = wireSystemPath
	}
	if len(w1.MastersPath) == 0 {
		w1.MastersPath = wireMastersPath
	}
	if w1.MaxParallelReads < 1 {
		w1.MaxParallelReads = defaultMaxParallelReads
	}
	if w1.logger == nil {
		w1.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Wire: ",
			Level:  log.GetLevel(),
		})
	}

	w1.bulkReadTimeout = defaultBulkReadTimeout
	if len(w1.BulkReadTimeout) > 0 {
		w1.bulkReadTimeout, err = time.ParseDuration(w1.BulkReadTimeout)
		if err != nil {
			return errors.Wrapf(err, "failed to parse BulkReadTimeout (%s)", w1.BulkReadTimeout)
		}
	}

	w1.pollInterval = defaultBulkReadPollInterval
	if len(w1.PollInterval) > 0 {
		w1.pollInterval, err = time.ParseDuration(w1.PollInterval)
		if err != nil {
			return errors.Wrapf(err, "failed to parse PollInterval (%s)", w1.PollInterval)
		}
	}

	_, err = afero.ReadDir(w1.Fs, w1.MastersPath)
	if err != nil {
		return errors.Wrapf(err, "failed to init Wire sensor driver: error reading dir (%s)", w1.MastersPath)
	}

	w1.ready = true
	return nil
}

func (w1 *Wire) Close() error {
	return nil
}

func (w1 *Wire) IsReady() bool {
	return w1.ready
}

func (w1 *Wire) Name() string {
	return wireSensorDriverName
}

// BusMasters lists the bus masters present right now.
func (w1 *Wire) BusMasters() ([]*BusMaster, error) {
	entries, err := afero.ReadDir(w1.Fs, w1.MastersPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list bus masters in %s", w1.MastersPath)
	}

	masters := []*BusMaster{}
	for _, entry := range entries {
		if !isBusMasterName(entry.Name()) {
			continue
		}
		bm, err := newBusMaster(w1.Fs, w1.MastersPath, entry.Name())
		if err != nil {
			return nil, err
		}
		bm.timeout = w1.bulkReadTimeout
		bm.pollInterval = w1.pollInterval
		bm.logger = w1.logger
		masters = append(masters, bm)
	}

	return masters, nil
}

// Devices walks every bus master, triggers its conversion and reads all of
// its slaves. Slaves that cannot be read or parsed are left out.
func (w1 *Wire) Devices(ctx context.Context) ([]Device, error) {
	if !w1.ready {
		return nil, errors.Errorf("driver %s not set up", w1.Name())
	}

	masters, err := w1.BusMasters()
	if err != nil {
		return nil, err
	}

	devices := []Device{}
	for _, bm := range masters {
		err = bm.TriggerBulkRead(ctx)
		if err != nil {
			return nil, err
		}

		ids, err := bm.listSlaves()
		if err != nil {
			return nil, err
		}

		read, err := w1.readDevices(ctx, bm, ids)
		if err != nil {
			return nil, err
		}
		devices = append(devices, read...)
	}

	return devices, nil
}

func (w1 *Wire) readDevices(ctx context.Context, bm *BusMaster, ids []string) ([]Device, error) {
	results := make([]*Device, len(ids))

	group := errgroup.Group{}
	group.SetLimit(w1.MaxParallelReads)
	for ix, id := range ids {
		ix, id := ix, id
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[ix] = w1.readDevice(bm, id)
			return nil
		})
	}
	group.Wait()

	if ctx.Err() != nil {
		return nil, errors.Wrapf(ctx.Err(), "reading slaves of %s interrupted", bm.Name)
	}

	devices := []Device{}
	for _, dev := range results {
		if dev != nil {
			devices = append(devices, *dev)
		}
	}

	return devices, nil
}

func (w1 *Wire) readDevice(bm *BusMaster, rawId string) *Device {
	filePath := path.Join(w1.DevicesPath, rawId, wireSlaveFile)

	exists, err := afero.Exists(w1.Fs, filePath)
	if err != nil || !exists {
		w1.logger.Debug("slave file not available", "file", filePath, "err", err)
		return nil
	}

	content, err := afero.ReadFile(w1.Fs, filePath)
	if err != nil {
		w1.logger.Debug("failed reading slave file", "file", filePath, "err", err)
		return nil
	}

	data := strings.TrimSpace(string(content))
	if w1.RequireCrc && !crcValid(data) {
		w1.logger.Debug("slave reading failed crc check", "id", rawId)
		return nil
	}

	milliCelsiuses, ok := parseMilliCelsius(data)
	if !ok {
		w1.logger.Debug("no temperature in slave file", "id", rawId)
		return nil
	}

	family, _ := SplitRawId(rawId)
	return &Device{
		Family:      family,
		Id:          NormalizeId(rawId),
		Dir:         bm.Name,
		File:        rawId,
		Temperature: float64(milliCelsiuses) / 1000.0,
	}
}

// parseMilliCelsius reads the number following the "t=" marker of w1_slave
// content. One leading minus sign is accepted.
func parseMilliCelsius(data string) (int64, bool) {
	ix := strings.Index(data, wireTemperatureMarker)
	if ix < 0 {
		return 0, false
	}

	rest := data[ix+len(wireTemperatureMarker):]
	end := 0
	if strings.HasPrefix(rest, "-") {
		end = 1
	}
	digitsStart := end
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	value, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// crcValid checks the first w1_slave line, which ends with "YES" when the
// scratchpad crc matched.
func crcValid(data string) bool {
	firstLine, _, _ := strings.Cut(data, "\n")
	return strings.HasSuffix(strings.TrimSpace(firstLine), "YES")
}
