package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/metrics"
	"github.com/saiset-co/sai-fx/types"
)

// Specs accept an optional leading seconds field and descriptors such as
// "@every 5m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var _ types.CronManager = (*Manager)(nil)

type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	metrics  types.MetricsManager
	cron     *cron.Cron
	timezone *time.Location
	jobs     map[string]*types.JobEntry
	mu       sync.RWMutex
	state    atomic.Value
	running  sync.WaitGroup
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metricsManager types.MetricsManager) *Manager {
	timezone := time.UTC
	if cfg := config.GetConfig().Cron; cfg != nil && cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", cfg.Timezone))
		}
	}
	if metricsManager == nil {
		metricsManager = metrics.NewNop()
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:      managerCtx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metricsManager,
		timezone: timezone,
		jobs:     make(map[string]*types.JobEntry),
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
	}

	manager.state.Store(types.StateStopped)

	return manager
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}
	if _, err := parser.Parse(spec); err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%q: %v", spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return types.ErrCronSchedulerStopped
	}
	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "%s", jobName)
	}

	entry := &types.JobEntry{
		Name:    jobName,
		Spec:    spec,
		Job:     job,
		AddedAt: time.Now(),
	}

	id, err := m.cron.AddFunc(spec, func() { m.execute(jobName) })
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%v", err)
	}
	entry.ID = id
	entry.NextRun = m.cron.Entry(id).Next

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))
	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)
	return nil
}

// Run executes a job immediately, outside its schedule.
func (m *Manager) Run(jobName string) error {
	m.mu.RLock()
	_, exists := m.jobs[jobName]
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	m.execute(jobName)
	return nil
}

// Jobs returns snapshots of the registered jobs ordered by name. Before
// Start the next run is computed from each schedule.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().In(m.timezone)
	jobs := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		snapshot := *entry
		if e := m.cron.Entry(entry.ID); e.ID != 0 {
			snapshot.NextRun = e.Next
			if snapshot.NextRun.IsZero() && e.Schedule != nil {
				snapshot.NextRun = e.Schedule.Next(now)
			}
		}
		jobs = append(jobs, snapshot)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.metrics.Gauge("cron_scheduler_running", nil).Set(1)

	m.state.Store(types.StateRunning)
	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.state.Store(types.StateStopped)

	m.cancel()
	<-m.cron.Stop().Done()
	m.running.Wait()

	m.metrics.Gauge("cron_scheduler_running", nil).Set(0)
	m.logger.Info("Cron manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(types.State) == types.StateRunning
}

func (m *Manager) execute(jobName string) {
	m.mu.RLock()
	entry, exists := m.jobs[jobName]
	var job func()
	if exists {
		job = entry.Job
	}
	m.mu.RUnlock()

	if !exists || m.ctx.Err() != nil {
		return
	}

	m.running.Add(1)
	defer m.running.Done()

	start := time.Now()
	err := m.invoke(job)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
		m.logger.Error("Cron job failed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())

	m.mu.Lock()
	if entry, ok := m.jobs[jobName]; ok {
		entry.LastRun = start
		entry.LastDuration = duration
		entry.RunCount++
		entry.LastError = ""
		if err != nil {
			entry.LastError = err.Error()
		}
	}
	m.mu.Unlock()
}

func (m *Manager) invoke(job func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "panic: %v", r)
		}
	}()

	job()
	return nil
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
