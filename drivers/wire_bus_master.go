package drivers

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const wireBusMasterPrefix = "w1_bus_master"
const wireBulkReadFile = "therm_bulk_read"
const wireSlavesFile = "w1_master_slaves"
const wireBulkReadTrigger = "trigger\n"

const defaultBulkReadTimeout = 2 * time.Second
const defaultBulkReadPollInterval = 100 * time.Millisecond

// ErrBulkReadTimeout is returned when a bus master did not report a finished
// conversion before the deadline.
var ErrBulkReadTimeout = errors.New("bulk read conversion timed out")

// BusMaster is a w1 bus master found under the sysfs devices directory.
// Values are discovered on every read and never kept between reads.
type BusMaster struct {
	Name             string
	Path             string
	SupportsBulkRead bool

	fs           afero.Fs
	timeout      time.Duration
	pollInterval time.Duration
	logger       *log.Logger
}

func isBusMasterName(name string) bool {
	return strings.Contains(name, wireBusMasterPrefix)
}

func newBusMaster(fs afero.Fs, mastersPath, name string) (*BusMaster, error) {
	bm := &BusMaster{
		Name:         name,
		Path:         path.Join(mastersPath, name),
		fs:           fs,
		timeout:      defaultBulkReadTimeout,
		pollInterval: defaultBulkReadPollInterval,
	}

	supported, err := afero.Exists(fs, bm.bulkReadPath())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check bulk read support of %s", name)
	}
	bm.SupportsBulkRead = supported

	return bm, nil
}

func (bm *BusMaster) bulkReadPath() string {
	return path.Join(bm.Path, wireBulkReadFile)
}

func (bm *BusMaster) slavesPath() string {
	return path.Join(bm.Path, wireSlavesFile)
}

// TriggerBulkRead starts a simultaneous conversion on all slaves of the bus
// master and blocks until the driver reports it finished. Bus masters without
// bulk read support return at once, their slaves convert on read.
func (bm *BusMaster) TriggerBulkRead(ctx context.Context) error {
	if !bm.SupportsBulkRead {
		return nil
	}

	err := afero.WriteFile(bm.fs, bm.bulkReadPath(), []byte(wireBulkReadTrigger), 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to trigger bulk read on %s", bm.Name)
	}

	deadline := time.NewTimer(bm.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(bm.pollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		state, err := afero.ReadFile(bm.fs, bm.bulkReadPath())
		if err != nil {
			return errors.Wrapf(err, "failed to read bulk read state of %s", bm.Name)
		}
		if strings.HasPrefix(string(state), "1") {
			if bm.logger != nil {
				bm.logger.Debug("bulk read ready", "master", bm.Name, "polls", polls)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for bulk read on %s", bm.Name)
		case <-deadline.C:
			return errors.Wrapf(ErrBulkReadTimeout, "%s not ready after %s", bm.Name, bm.timeout)
		case <-ticker.C:
		}
	}
}

func (bm *BusMaster) listSlaves() ([]string, error) {
	content, err := afero.ReadFile(bm.fs, bm.slavesPath())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read slave list of %s", bm.Name)
	}

	slaves := []string{}
	for _, line := range strings.Split(string(content), "\n") {
		id := strings.TrimSpace(line)
		if id == "" || id == "not found." {
			continue
		}
		slaves = append(slaves, id)
	}

	return slaves, nil
}
