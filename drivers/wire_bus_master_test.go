package drivers

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const testMastersPath = "/sys/devices"
const testDevicesPath = "/sys/bus/w1/devices"

// bulkStateFs serves scripted contents for one therm_bulk_read file, one
// state per read, repeating the last one.
type bulkStateFs struct {
	afero.Fs

	path   string
	states []string

	lock    sync.Mutex
	reads   int
	written []string
}

func (bs *bulkStateFs) Open(name string) (afero.File, error) {
	if name == bs.path {
		bs.lock.Lock()
		state := bs.states[min(bs.reads, len(bs.states)-1)]
		bs.reads++
		bs.lock.Unlock()

		err := afero.WriteFile(bs.Fs, name, []byte(state), 0644)
		if err != nil {
			return nil, err
		}
	}
	return bs.Fs.Open(name)
}

func (bs *bulkStateFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == bs.path && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		bs.lock.Lock()
		bs.written = append(bs.written, name)
		bs.lock.Unlock()
	}
	return bs.Fs.OpenFile(name, flag, perm)
}

func (bs *bulkStateFs) readCount() int {
	bs.lock.Lock()
	defer bs.lock.Unlock()
	return bs.reads
}

func mustWrite(t testing.TB, fs afero.Fs, name, content string) {
	t.Helper()

	err := afero.WriteFile(fs, name, []byte(content), 0644)
	if err != nil {
		t.Fatalf("failed to prepare %s: %v", name, err)
	}
}

func newTestBusMaster(t testing.TB, fs afero.Fs, name string) *BusMaster {
	t.Helper()

	bm, err := newBusMaster(fs, testMastersPath, name)
	if err != nil {
		t.Fatalf("newBusMaster returned error: %v", err)
	}
	bm.timeout = 500 * time.Millisecond
	bm.pollInterval = 5 * time.Millisecond
	return bm
}

func TestBusMasterBulkReadSupport(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "/sys/devices/w1_bus_master1/w1_master_slaves", "")
	mustWrite(t, fs, "/sys/devices/w1_bus_master2/w1_master_slaves", "")
	mustWrite(t, fs, "/sys/devices/w1_bus_master2/therm_bulk_read", "0")

	if newTestBusMaster(t, fs, "w1_bus_master1").SupportsBulkRead {
		t.Error("w1_bus_master1 has no therm_bulk_read, want SupportsBulkRead false")
	}
	if !newTestBusMaster(t, fs, "w1_bus_master2").SupportsBulkRead {
		t.Error("w1_bus_master2 has therm_bulk_read, want SupportsBulkRead true")
	}
}

func TestTriggerBulkReadUnsupported(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "/sys/devices/w1_bus_master1/w1_master_slaves", "")

	bm := newTestBusMaster(t, fs, "w1_bus_master1")
	err := bm.TriggerBulkRead(context.Background())
	if err != nil {
		t.Errorf("got error for bus master without bulk read: %v", err)
	}

	exists, _ := afero.Exists(fs, bm.bulkReadPath())
	if exists {
		t.Error("therm_bulk_read was created on a bus master without bulk read")
	}
}

func TestTriggerBulkReadPolls(t *testing.T) {
	mem := afero.NewMemMapFs()
	mustWrite(t, mem, "/sys/devices/w1_bus_master1/therm_bulk_read", "0")
	fs := &bulkStateFs{
		Fs:     mem,
		path:   "/sys/devices/w1_bus_master1/therm_bulk_read",
		states: []string{"0\n", "-1\n", "1\n"},
	}

	bm := newTestBusMaster(t, fs, "w1_bus_master1")
	err := bm.TriggerBulkRead(context.Background())
	if err != nil {
		t.Fatalf("TriggerBulkRead returned error: %v", err)
	}

	if got := fs.readCount(); got != 3 {
		t.Errorf("got %d state reads want 3", got)
	}
	if len(fs.written) != 1 {
		t.Errorf("got %d trigger writes want 1", len(fs.written))
	}
}

func TestTriggerBulkReadTimeout(t *testing.T) {
	mem := afero.NewMemMapFs()
	mustWrite(t, mem, "/sys/devices/w1_bus_master1/therm_bulk_read", "0")
	fs := &bulkStateFs{
		Fs:     mem,
		path:   "/sys/devices/w1_bus_master1/therm_bulk_read",
		states: []string{"0\n"},
	}

	bm := newTestBusMaster(t, fs, "w1_bus_master1")
	bm.timeout = 30 * time.Millisecond

	err := bm.TriggerBulkRead(context.Background())
	if !errors.Is(err, ErrBulkReadTimeout) {
		t.Errorf("got error %v want %v", err, ErrBulkReadTimeout)
	}
	if fs.readCount() < 2 {
		t.Errorf("got %d state reads, want polling to retry", fs.readCount())
	}
}

func TestTriggerBulkReadCancelled(t *testing.T) {
	mem := afero.NewMemMapFs()
	mustWrite(t, mem, "/sys/devices/w1_bus_master1/therm_bulk_read", "0")
	fs := &bulkStateFs{
		Fs:     mem,
		path:   "/sys/devices/w1_bus_master1/therm_bulk_read",
		states: []string{"0\n"},
	}

	bm := newTestBusMaster(t, fs, "w1_bus_master1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bm.TriggerBulkRead(ctx)
	if err == nil {
		t.Fatal("got nil error for cancelled context")
	}
	if errors.Is(err, ErrBulkReadTimeout) {
		t.Error("cancelled context reported as timeout")
	}
}

func TestTriggerBulkReadCallerDeadline(t *testing.T) {
	mem := afero.NewMemMapFs()
	mustWrite(t, mem, "/sys/devices/w1_bus_master1/therm_bulk_read", "0")
	fs := &bulkStateFs{
		Fs:     mem,
		path:   "/sys/devices/w1_bus_master1/therm_bulk_read",
		states: []string{"0\n"},
	}

	bm := newTestBusMaster(t, fs, "w1_bus_master1")
	bm.timeout = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := bm.TriggerBulkRead(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got error %v want %v", err, context.DeadlineExceeded)
	}
	if errors.Is(err, ErrBulkReadTimeout) {
		t.Error("caller deadline reported as bulk read timeout")
	}
}

func TestTriggerBulkReadWriteFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	mustWrite(t, mem, "/sys/devices/w1_bus_master1/therm_bulk_read", "1")

	bm := newTestBusMaster(t, afero.NewReadOnlyFs(mem), "w1_bus_master1")
	err := bm.TriggerBulkRead(context.Background())
	if err == nil {
		t.Error("got nil error when trigger write failed")
	}
}

func TestListSlaves(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "/sys/devices/w1_bus_master1/w1_master_slaves", "28-0316a27941ff\n\n28-000000000001\n")
	mustWrite(t, fs, "/sys/devices/w1_bus_master2/w1_master_slaves", "not found.\n")

	got, err := newTestBusMaster(t, fs, "w1_bus_master1").listSlaves()
	if err != nil {
		t.Fatalf("listSlaves returned error: %v", err)
	}
	want := []string{"28-0316a27941ff", "28-000000000001"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for ix := range want {
		assertStrings(t, got[ix], want[ix])
	}

	got, err = newTestBusMaster(t, fs, "w1_bus_master2").listSlaves()
	if err != nil {
		t.Fatalf("listSlaves returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v for \"not found.\" listing, want none", got)
	}

	_, err = newTestBusMaster(t, fs, "w1_bus_master3").listSlaves()
	if err == nil {
		t.Error("got nil error for missing w1_master_slaves")
	}
}
