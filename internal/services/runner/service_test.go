package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/fgeck/esxi-keepalive/internal/services/filter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockLoader struct {
	loadFunc func(ctx context.Context) (*models.Credentials, error)
	calls    int
}

func (m *mockLoader) Load(ctx context.Context) (*models.Credentials, error) {
	m.calls++
	if m.loadFunc != nil {
		return m.loadFunc(ctx)
	}
	return &models.Credentials{Host: "10.0.0.5", User: "root", Password: "s3cret"}, nil
}

// fakeHypervisor keeps per-VM power state and flips it on PowerOn.
type fakeHypervisor struct {
	vms         models.VMInventory
	states      map[string]string
	listErr     error
	listConnect bool
	stateErr    map[string]error

	stateQueries []string
	powerOns     []string
}

func newFakeHypervisor(vms models.VMInventory, states map[string]string) *fakeHypervisor {
	return &fakeHypervisor{
		vms:         vms,
		states:      states,
		listConnect: true,
		stateErr:    map[string]error{},
	}
}

func (f *fakeHypervisor) ListVMs(ctx context.Context, creds models.Credentials) (models.VMInventory, *models.CommandResult) {
	if f.listErr != nil {
		return models.VMInventory{}, &models.CommandResult{Error: f.listErr, Connected: f.listConnect}
	}
	return f.vms, &models.CommandResult{Connected: true}
}

func (f *fakeHypervisor) PowerState(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	f.stateQueries = append(f.stateQueries, vmID)
	if err := f.stateErr[vmID]; err != nil {
		return &models.CommandResult{Error: err, Connected: true}
	}
	return &models.CommandResult{Output: "Retrieved runtime info\n" + f.states[vmID], Connected: true}
}

func (f *fakeHypervisor) PowerOn(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	f.powerOns = append(f.powerOns, vmID)
	f.states[vmID] = "Powered on"
	return &models.CommandResult{Connected: true}
}

type mockWOLService struct {
	wakeFunc func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
	calls    int
}

func (m *mockWOLService) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	m.calls++
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg)
	}
	return &models.WOLResult{PacketSent: true}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testFilter() TargetFilter {
	return filter.New(models.TargetPolicy{
		Prefix:         "win",
		RangeStart:     201,
		RangeEnd:       226,
		ExcludeKeyword: "maintenance",
	})
}

func newRunner(loader *mockLoader, hv *fakeHypervisor, wolSvc *mockWOLService, wolCfg *models.WOLConfig) *Impl {
	return NewWithServices(testLogger(), loader, hv, testFilter(), wolSvc, wolCfg)
}

func TestCheckAndStart_PowersOnStoppedTargets(t *testing.T) {
	hv := newFakeHypervisor(
		models.VMInventory{
			"10": "win201",
			"11": "win202",
			"12": "win999",
			"13": "win203-maintenance",
			"14": "linux210",
		},
		map[string]string{
			"10": "Powered off",
			"11": "Powered on",
			"12": "Powered off",
			"13": "Powered off",
			"14": "Powered off",
		},
	)

	runner := newRunner(&mockLoader{}, hv, &mockWOLService{}, nil)
	result := runner.CheckAndStart(context.Background())

	assert.False(t, result.Aborted)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 5, result.Listed)
	assert.Equal(t, 2, result.Targets)
	assert.Equal(t, 1, result.PoweredOff)
	assert.Equal(t, []string{"10"}, result.PowerOnIssued)
	assert.ElementsMatch(t, []string{"10", "11"}, hv.stateQueries)
	assert.Equal(t, []string{"10"}, hv.powerOns)
}

func TestCheckAndStart_Idempotent(t *testing.T) {
	hv := newFakeHypervisor(
		models.VMInventory{"10": "win201", "11": "win210"},
		map[string]string{"10": "Powered off", "11": "Powered off"},
	)

	runner := newRunner(&mockLoader{}, hv, &mockWOLService{}, nil)

	first := runner.CheckAndStart(context.Background())
	require.Equal(t, []string{"10", "11"}, first.PowerOnIssued)

	second := runner.CheckAndStart(context.Background())

	assert.Empty(t, second.PowerOnIssued)
	assert.Equal(t, []string{"10", "11"}, hv.powerOns)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestCheckAndStart_StateQueryFailureIsFailSafe(t *testing.T) {
	hv := newFakeHypervisor(
		models.VMInventory{"10": "win201"},
		map[string]string{"10": "Powered off"},
	)
	hv.stateErr["10"] = errors.New("remote command failed: Process exited with status 255")

	runner := newRunner(&mockLoader{}, hv, &mockWOLService{}, nil)
	result := runner.CheckAndStart(context.Background())

	assert.Equal(t, 1, result.Targets)
	assert.Equal(t, 1, result.StateQueryFailed)
	assert.Empty(t, result.PowerOnIssued)
	assert.Empty(t, hv.powerOns)
}

func TestCheckAndStart_UnrecognizedStateLeftAlone(t *testing.T) {
	hv := newFakeHypervisor(
		models.VMInventory{"10": "win201", "11": "win202"},
		map[string]string{"10": "Suspended", "11": "Ausgeschaltet"},
	)

	runner := newRunner(&mockLoader{}, hv, &mockWOLService{}, nil)
	result := runner.CheckAndStart(context.Background())

	assert.Equal(t, 2, result.Targets)
	assert.Empty(t, hv.powerOns)
}

func TestCheckAndStart_NoCredentials(t *testing.T) {
	loader := &mockLoader{
		loadFunc: func(ctx context.Context) (*models.Credentials, error) {
			return nil, errors.New("reading secrets file: no such file or directory")
		},
	}
	hv := newFakeHypervisor(models.VMInventory{"10": "win201"}, map[string]string{"10": "Powered off"})

	runner := newRunner(loader, hv, &mockWOLService{}, nil)
	result := runner.CheckAndStart(context.Background())

	assert.True(t, result.Aborted)
	assert.Equal(t, AbortNoCredentials, result.AbortReason)
	assert.Empty(t, hv.stateQueries)
	assert.Empty(t, hv.powerOns)
}

func TestCheckAndStart_ListingFailureIsEmptyCycle(t *testing.T) {
	hv := newFakeHypervisor(models.VMInventory{"10": "win201"}, map[string]string{"10": "Powered off"})
	hv.listErr = errors.New("remote command failed")

	wolSvc := &mockWOLService{}
	runner := newRunner(&mockLoader{}, hv, wolSvc, nil)
	result := runner.CheckAndStart(context.Background())

	assert.False(t, result.Aborted)
	assert.Equal(t, 0, result.Listed)
	assert.Empty(t, hv.stateQueries)
	assert.Equal(t, 0, wolSvc.calls)
}

func TestCheckAndStart_WakesUnreachableHost(t *testing.T) {
	hv := newFakeHypervisor(models.VMInventory{}, map[string]string{})
	hv.listErr = errors.New("failed to connect: i/o timeout")
	hv.listConnect = false

	var capturedMAC string
	wolSvc := &mockWOLService{
		wakeFunc: func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
			capturedMAC = cfg.MACAddress
			return &models.WOLResult{PacketSent: true}, nil
		},
	}
	wolCfg := &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", BroadcastIP: "255.255.255.255"}

	runner := newRunner(&mockLoader{}, hv, wolSvc, wolCfg)
	result := runner.CheckAndStart(context.Background())

	assert.True(t, result.HostWakeSent)
	assert.Equal(t, 1, wolSvc.calls)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", capturedMAC)
}

func TestCheckAndStart_NoWakeWhenConnected(t *testing.T) {
	hv := newFakeHypervisor(models.VMInventory{}, map[string]string{})
	hv.listErr = errors.New("remote command failed: Process exited with status 1")
	hv.listConnect = true

	wolSvc := &mockWOLService{}
	wolCfg := &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", BroadcastIP: "255.255.255.255"}

	runner := newRunner(&mockLoader{}, hv, wolSvc, wolCfg)
	result := runner.CheckAndStart(context.Background())

	assert.False(t, result.HostWakeSent)
	assert.Equal(t, 0, wolSvc.calls)
}

func TestCheckAndStart_WakeFailureIsLogged(t *testing.T) {
	hv := newFakeHypervisor(models.VMInventory{}, map[string]string{})
	hv.listErr = errors.New("failed to connect: no route to host")
	hv.listConnect = false

	wolSvc := &mockWOLService{
		wakeFunc: func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
			return &models.WOLResult{Error: errors.New("network unreachable")}, nil
		},
	}
	wolCfg := &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", BroadcastIP: "255.255.255.255"}

	runner := newRunner(&mockLoader{}, hv, wolSvc, wolCfg)
	result := runner.CheckAndStart(context.Background())

	assert.False(t, result.HostWakeSent)
	assert.False(t, result.Aborted)
}

func TestCheckAndStart_CancelledBetweenVMs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vms := models.VMInventory{}
	states := map[string]string{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("%d", 10+i)
		vms[id] = fmt.Sprintf("win%d", 201+i)
		states[id] = "Powered on"
	}
	hv := newFakeHypervisor(vms, states)

	// Cancel as soon as the first state query runs.
	wrapped := &cancellingHypervisor{fakeHypervisor: hv, cancel: cancel}

	runner := NewWithServices(testLogger(), &mockLoader{}, wrapped, testFilter(), &mockWOLService{}, nil)
	result := runner.CheckAndStart(ctx)

	assert.True(t, result.Aborted)
	assert.Equal(t, AbortCancelled, result.AbortReason)
	assert.Len(t, hv.stateQueries, 1)
}

type cancellingHypervisor struct {
	*fakeHypervisor
	cancel context.CancelFunc
}

func (c *cancellingHypervisor) PowerState(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	res := c.fakeHypervisor.PowerState(ctx, creds, vmID)
	c.cancel()
	return res
}

func TestLoop_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &mockLoader{}
	loader.loadFunc = func(ctx context.Context) (*models.Credentials, error) {
		if loader.calls >= 3 {
			cancel()
		}
		return &models.Credentials{Host: "10.0.0.5", User: "root", Password: "s3cret"}, nil
	}

	hv := newFakeHypervisor(models.VMInventory{"10": "win201"}, map[string]string{"10": "Powered on"})
	runner := newRunner(loader, hv, &mockWOLService{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- runner.Loop(ctx, time.Millisecond)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.Equal(t, 3, loader.calls)
}

// slowHypervisor delays every state query and records when each one returns.
type slowHypervisor struct {
	*fakeHypervisor
	delay time.Duration
	ends  []time.Time
}

func (s *slowHypervisor) PowerState(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	time.Sleep(s.delay)
	res := s.fakeHypervisor.PowerState(ctx, creds, vmID)
	s.ends = append(s.ends, time.Now())
	return res
}

func TestLoop_IntervalStartsAfterCycleEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const interval = 40 * time.Millisecond

	var starts []time.Time
	loader := &mockLoader{}
	loader.loadFunc = func(ctx context.Context) (*models.Credentials, error) {
		starts = append(starts, time.Now())
		if loader.calls >= 3 {
			cancel()
		}
		return &models.Credentials{Host: "10.0.0.5", User: "root", Password: "s3cret"}, nil
	}

	hv := &slowHypervisor{
		fakeHypervisor: newFakeHypervisor(models.VMInventory{"10": "win201"}, map[string]string{"10": "Powered on"}),
		delay:          30 * time.Millisecond,
	}
	runner := NewWithServices(testLogger(), loader, hv, testFilter(), &mockWOLService{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- runner.Loop(ctx, interval)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	require.Len(t, starts, 3)
	require.GreaterOrEqual(t, len(hv.ends), 2)
	for i := 0; i < 2; i++ {
		gap := starts[i+1].Sub(hv.ends[i])
		assert.GreaterOrEqual(t, gap, interval, "cycle %d started %s after the previous one finished", i+1, gap)
	}
}

func TestLoop_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := &mockLoader{}
	runner := newRunner(loader, newFakeHypervisor(models.VMInventory{}, map[string]string{}), &mockWOLService{}, nil)

	err := runner.Loop(ctx, time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 0, loader.calls)
}
