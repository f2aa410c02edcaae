package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
)

// setServicesForTest installs services and returns a restore function.
func setServicesForTest(s *Services) func() {
	old := &Services{
		Settings:   settingsService,
		Mandates:   mandateService,
		Processor:  batchProcessor,
		Banks:      bankValidator,
		Supervisor: supervisor,
		Scheduler:  scheduler,
		Close:      closeServices,
	}
	oldBootstrap := bootstrap
	bootstrap = nil
	SetServices(s)
	return func() {
		SetServices(old)
		bootstrap = oldBootstrap
	}
}

// executeCommand runs the root command with args and returns its output.
// Flags are reset first because cobra keeps their values between runs.
func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// mockMandateService implements driving.MandateService for testing.
type mockMandateService struct {
	mandates    []domain.Mandate
	results     []domain.OcrResult
	seed        *domain.SeedSet
	err         error
	filter      domain.ResultFilter
	invalidated []string
	seeded      string
}

var _ driving.MandateService = (*mockMandateService)(nil)

func (m *mockMandateService) List(_ context.Context) ([]domain.Mandate, error) {
	return m.mandates, m.err
}

func (m *mockMandateService) Results(_ context.Context, _ string, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	m.filter = filter
	return m.results, m.err
}

func (m *mockMandateService) Invalidate(_ context.Context, mandateID string) error {
	m.invalidated = append(m.invalidated, mandateID)
	return m.err
}

func (m *mockMandateService) Seed(_ context.Context, path string) (*domain.SeedSet, error) {
	m.seeded = path
	return m.seed, m.err
}

// mockBatchProcessor implements driving.BatchProcessor for testing.
type mockBatchProcessor struct {
	report   *domain.BatchReport
	plan     *driving.SegmentationPlan
	err      error
	mandate  string
	path     string
	inspectO driving.InspectOptions
}

var _ driving.BatchProcessor = (*mockBatchProcessor)(nil)

func (m *mockBatchProcessor) ProcessFile(_ context.Context, mandateID, path string) (*domain.BatchReport, error) {
	m.mandate = mandateID
	m.path = path
	return m.report, m.err
}

func (m *mockBatchProcessor) Inspect(_ context.Context, path string, opts driving.InspectOptions) (*driving.SegmentationPlan, error) {
	m.path = path
	m.inspectO = opts
	return m.plan, m.err
}

// mockBankValidator implements driving.BankValidator for testing.
type mockBankValidator struct {
	records map[string]domain.BankRecord
	err     error
}

var _ driving.BankValidator = (*mockBankValidator)(nil)

func (m *mockBankValidator) Check(_ context.Context, candidate string) (domain.BankRecord, error) {
	if m.err != nil {
		return domain.BankRecord{}, m.err
	}
	if r, ok := m.records[candidate]; ok {
		return r, nil
	}
	return domain.BankRecord{Candidate: candidate, Status: domain.IBANInvalid, Reason: "checksum mismatch"}, nil
}

// mockSupervisor implements driving.Supervisor for testing.
type mockSupervisor struct {
	statuses []domain.WorkerStatus
	err      error
	ran      bool
}

var _ driving.Supervisor = (*mockSupervisor)(nil)

func (m *mockSupervisor) Run(_ context.Context) error {
	m.ran = true
	return m.err
}

func (m *mockSupervisor) Status() []domain.WorkerStatus {
	return m.statuses
}

// mockScheduler implements driving.Scheduler for testing.
type mockScheduler struct {
	schedules []domain.TaskSchedule
	runs      []domain.TaskRun
	run       domain.TaskRun
	err       error
	task      domain.HousekeepingTask
	limit     int
}

var _ driving.Scheduler = (*mockScheduler)(nil)

func (m *mockScheduler) Start(_ context.Context) error { return nil }

func (m *mockScheduler) Stop() error { return nil }

func (m *mockScheduler) Schedules(_ context.Context) ([]domain.TaskSchedule, error) {
	return m.schedules, m.err
}

func (m *mockScheduler) History(_ context.Context, task domain.HousekeepingTask, limit int) ([]domain.TaskRun, error) {
	m.task, m.limit = task, limit
	return m.runs, m.err
}

func (m *mockScheduler) RunNow(_ context.Context, task domain.HousekeepingTask) (domain.TaskRun, error) {
	m.task = task
	return m.run, m.err
}

func TestRootCmd_Bootstrap(t *testing.T) {
	cleanup := setServicesForTest(&Services{})
	defer cleanup()

	var gotOpts Options
	closed := false
	SetBootstrap(func(_ context.Context, opts Options) (*Services, error) {
		gotOpts = opts
		return &Services{
			Mandates: &mockMandateService{mandates: []domain.Mandate{{ID: "acme", MarkerPolicy: domain.MarkerPolicyDrop}}},
			Close: func() error {
				closed = true
				return nil
			},
		}, nil
	})

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--config", "/tmp/scanpipe-test", "mandates"})
	defer rootCmd.SetArgs(nil)

	err := Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "/tmp/scanpipe-test", gotOpts.ConfigDir)
	assert.Contains(t, buf.String(), "acme")
	assert.True(t, closed)
}

func TestRootCmd_BootstrapFailure(t *testing.T) {
	cleanup := setServicesForTest(&Services{})
	defer cleanup()
	SetBootstrap(func(context.Context, Options) (*Services, error) {
		return nil, errors.New("store.dsn is required")
	})

	_, err := executeCommand("mandates")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed")
}

func TestRootCmd_InvalidLogFlags(t *testing.T) {
	cleanup := setServicesForTest(&Services{Mandates: &mockMandateService{}})
	defer cleanup()

	_, err := executeCommand("--log-format", "xml", "mandates")

	assert.Error(t, err)
}
