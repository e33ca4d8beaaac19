package action

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-guardrail/cloud-guardrail/internal/config"
	"github.com/cloud-guardrail/cloud-guardrail/internal/protection"
)

type fakeTagProvider struct {
	tags map[string]map[string]string
	err  error
}

func (f *fakeTagProvider) GetTags(ctx context.Context, rt ResourceType, id, accountID string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tags[id], nil
}

type sinkCall struct {
	resourceID string
	status     string
	ctxErr     error // ctx.Err() observed at write time
}

type fakeSink struct {
	calls   []sinkCall
	failOn  string // resource id whose write fails
	failErr error
}

func (f *fakeSink) RecordOutcome(ctx context.Context, req *Request, caller Caller, outcome *Outcome) error {
	if f.failOn != "" && outcome.ResourceID == f.failOn {
		return f.failErr
	}
	f.calls = append(f.calls, sinkCall{resourceID: outcome.ResourceID, status: outcome.Status, ctxErr: ctx.Err()})
	return nil
}

type fakeAdapter struct {
	calls  []string
	result func(id string, dryRun bool) AdapterResult
}

func (f *fakeAdapter) Execute(ctx context.Context, id string, params Params, dryRun bool) AdapterResult {
	f.calls = append(f.calls, id)
	if f.result != nil {
		return f.result(id, dryRun)
	}
	if dryRun {
		return AdapterResult{Status: StatusDryRun, Message: "dry run"}
	}
	return AdapterResult{Status: StatusSuccess, Message: "done"}
}

// blockingAdapter never returns until its context is done, like an AWS call
// against an unreachable endpoint.
type blockingAdapter struct{}

func (blockingAdapter) Execute(ctx context.Context, id string, params Params, dryRun bool) AdapterResult {
	<-ctx.Done()
	return AdapterResult{
		Status:  StatusFailed,
		Message: "request timed out",
		Error:   &ErrorDetail{Code: "RequestTimeout", Message: ctx.Err().Error(), Retryable: true},
	}
}

// blockingTagProvider never returns until its context is done.
type blockingTagProvider struct{}

func (blockingTagProvider) GetTags(ctx context.Context, rt ResourceType, id, accountID string) (map[string]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testPolicy(t *testing.T) *protection.Engine {
	t.Helper()
	return protection.NewEngine(config.ProtectionConfig{
		EnvironmentValues:  []string{"production", "prod", "critical"},
		DestructiveActions: []string{"stop", "terminate", "delete"},
		OverrideCode:       "override-ok",
		CaseSensitive:      true,
	})
}

func newTestExecutor(t *testing.T, adapter Adapter, tags TagProvider, sink AuditSink) *Executor {
	t.Helper()
	return newTestExecutorTimeout(t, adapter, tags, sink, 0)
}

func newTestExecutorTimeout(t *testing.T, adapter Adapter, tags TagProvider, sink AuditSink, callTimeout time.Duration) *Executor {
	t.Helper()
	reg := NewRegistry()
	reg.Register(ResourceEC2, ActionStop, adapter)
	return NewExecutor(reg, testPolicy(t), tags, sink, callTimeout, slog.Default())
}

func stopRequest(ids ...string) *Request {
	return &Request{ResourceType: ResourceEC2, Action: ActionStop, ResourceIDs: ids}
}

func TestRunValidation(t *testing.T) {
	exec := newTestExecutor(t, &fakeAdapter{}, &fakeTagProvider{}, &fakeSink{})

	tests := []struct {
		name string
		req  *Request
	}{
		{"empty ids", stopRequest()},
		{"blank id", stopRequest("i-1", "")},
		{"missing type", &Request{Action: ActionStop, ResourceIDs: []string{"i-1"}}},
		{"missing action", &Request{ResourceType: ResourceEC2, ResourceIDs: []string{"i-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Run(context.Background(), tt.req, Caller{})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestRunUnroutableRequest(t *testing.T) {
	sink := &fakeSink{}
	exec := newTestExecutor(t, &fakeAdapter{}, &fakeTagProvider{}, sink)

	req := &Request{ResourceType: ResourceS3, Action: ActionScale, ResourceIDs: []string{"bucket-1"}}
	outcomes, err := exec.Run(context.Background(), req, Caller{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, outcomes)
	assert.Empty(t, sink.calls, "an unroutable request must not create audit entries")
}

func TestRunDryRun(t *testing.T) {
	adapter := &fakeAdapter{}
	sink := &fakeSink{}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{}, sink)

	req := stopRequest("i-1", "i-2")
	req.DryRun = true
	outcomes, err := exec.Run(context.Background(), req, Caller{})
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StatusDryRun, o.Status)
	}
	assert.Equal(t, StatusDryRun, AggregateStatus(outcomes))
	assert.Len(t, sink.calls, 2, "dry runs are audited too")
}

func TestRunBlockedProtectedResource(t *testing.T) {
	adapter := &fakeAdapter{}
	sink := &fakeSink{}
	tags := &fakeTagProvider{tags: map[string]map[string]string{
		"i-prod": {"Environment": "production"},
		"i-dev":  {"Environment": "dev"},
	}}
	exec := newTestExecutor(t, adapter, tags, sink)

	req := stopRequest("i-prod", "i-dev")
	req.OverrideCode = "WRONG"
	outcomes, err := exec.Run(context.Background(), req, Caller{})
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusBlocked, outcomes[0].Status)
	assert.Equal(t, "override_required", outcomes[0].ErrorDetail.Code)
	assert.Equal(t, StatusSuccess, outcomes[1].Status)
	assert.Equal(t, StatusFailed, AggregateStatus(outcomes))

	assert.Equal(t, []string{"i-dev"}, adapter.calls, "blocked resources must not reach the adapter")
	assert.Len(t, sink.calls, 2)
	assert.Equal(t, StatusBlocked, sink.calls[0].status)
}

func TestRunOverrideUnblocks(t *testing.T) {
	adapter := &fakeAdapter{}
	tags := &fakeTagProvider{tags: map[string]map[string]string{
		"i-prod": {"Environment": "production"},
	}}
	exec := newTestExecutor(t, adapter, tags, &fakeSink{})

	req := stopRequest("i-prod")
	req.OverrideCode = "override-ok"
	outcomes, err := exec.Run(context.Background(), req, Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
}

func TestRunPartialFailure(t *testing.T) {
	adapter := &fakeAdapter{result: func(id string, dryRun bool) AdapterResult {
		if id == "i-2" {
			return AdapterResult{
				Status:  StatusFailed,
				Message: "instance not found",
				Error:   &ErrorDetail{Code: "InvalidInstanceID.NotFound", Message: "instance not found"},
			}
		}
		return AdapterResult{Status: StatusSuccess, Message: "stopped"}
	}}
	sink := &fakeSink{}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{}, sink)

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1", "i-2", "i-3"), Caller{})
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.Equal(t, StatusSuccess, outcomes[2].Status)
	assert.Equal(t, StatusFailed, AggregateStatus(outcomes))
	assert.Len(t, sink.calls, 3, "every id gets its own audit entry")
}

func TestRunTagFetchFailureFailsOpen(t *testing.T) {
	adapter := &fakeAdapter{}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{err: errors.New("tag service down")}, &fakeSink{})

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1"), Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcomes[0].Status, "unreadable tags must not block the action")
	assert.Equal(t, []string{"i-1"}, adapter.calls)
}

func TestRunAuditWriteFailureStopsBatch(t *testing.T) {
	adapter := &fakeAdapter{}
	sink := &fakeSink{failOn: "i-2", failErr: errors.New("connection refused")}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{}, sink)

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1", "i-2", "i-3"), Caller{})

	var awErr *AuditWriteError
	require.ErrorAs(t, err, &awErr)
	assert.Equal(t, "i-2", awErr.ResourceID)
	assert.Len(t, outcomes, 2, "the failed id's outcome is still returned")
	assert.Equal(t, []string{"i-1", "i-2"}, adapter.calls, "no further mutations after an audit write failure")
}

func TestRunAdapterCallTimeout(t *testing.T) {
	// Each adapter call carries its own deadline, so a hung upstream call
	// becomes a failed outcome instead of stalling the batch. The request
	// context itself has no deadline here.
	sink := &fakeSink{}
	exec := newTestExecutorTimeout(t, blockingAdapter{}, &fakeTagProvider{}, sink, 50*time.Millisecond)

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1", "i-2"), Caller{})
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StatusFailed, o.Status)
		require.NotNil(t, o.ErrorDetail)
		assert.Equal(t, "RequestTimeout", o.ErrorDetail.Code)
		assert.True(t, o.ErrorDetail.Retryable)
	}
	assert.Len(t, sink.calls, 2, "timed-out attempts are still audited")
}

func TestRunTagFetchTimeoutFailsOpen(t *testing.T) {
	adapter := &fakeAdapter{}
	exec := newTestExecutorTimeout(t, adapter, blockingTagProvider{}, &fakeSink{}, 50*time.Millisecond)

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1"), Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcomes[0].Status, "a hung tag lookup times out and fails open")
	assert.Equal(t, []string{"i-1"}, adapter.calls)
}

func TestRunCancellationKeepsCompletedOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := &fakeAdapter{result: func(id string, dryRun bool) AdapterResult {
		cancel() // caller goes away mid-batch
		return AdapterResult{Status: StatusSuccess, Message: "stopped"}
	}}
	sink := &fakeSink{}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{}, sink)

	outcomes, err := exec.Run(ctx, stopRequest("i-1", "i-2", "i-3"), Caller{})

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1, "already-completed ids keep their outcomes")
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.Equal(t, []string{"i-1"}, adapter.calls, "no new ids start after cancellation")
	require.Len(t, sink.calls, 1)
	assert.NoError(t, sink.calls[0].ctxErr, "the in-flight audit write is detached from cancellation")
}

func TestRunAdapterPanicIsAuditedAsFailure(t *testing.T) {
	adapter := &fakeAdapter{result: func(id string, dryRun bool) AdapterResult {
		panic("boom")
	}}
	sink := &fakeSink{}
	exec := newTestExecutor(t, adapter, &fakeTagProvider{}, sink)

	outcomes, err := exec.Run(context.Background(), stopRequest("i-1", "i-2"), Caller{})
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StatusFailed, o.Status)
		require.NotNil(t, o.ErrorDetail)
		assert.Equal(t, "InternalError", o.ErrorDetail.Code)
	}
	assert.Len(t, sink.calls, 2)
}

func TestRunRepeatedRequestsAuditSeparately(t *testing.T) {
	sink := &fakeSink{}
	exec := newTestExecutor(t, &fakeAdapter{}, &fakeTagProvider{}, sink)

	for i := 0; i < 2; i++ {
		outcomes, err := exec.Run(context.Background(), stopRequest("i-1"), Caller{})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, outcomes[0].Status)
	}
	assert.Len(t, sink.calls, 2, "audit entries are never deduplicated")
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all success", []string{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"all dry run", []string{StatusDryRun, StatusDryRun}, StatusDryRun},
		{"success and dry run", []string{StatusSuccess, StatusDryRun}, StatusSuccess},
		{"one failed", []string{StatusSuccess, StatusFailed}, StatusFailed},
		{"one blocked", []string{StatusBlocked, StatusSuccess}, StatusFailed},
		{"empty", nil, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes := make([]Outcome, len(tt.statuses))
			for i, s := range tt.statuses {
				outcomes[i] = Outcome{Status: s}
			}
			assert.Equal(t, tt.want, AggregateStatus(outcomes))
		})
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ResourceEC2, ActionStop, &fakeAdapter{})
	assert.Panics(t, func() {
		reg.Register(ResourceEC2, ActionStop, &fakeAdapter{})
	})
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"desired_count":       float64(3), // JSON numbers decode as float64
		"skip_final_snapshot": true,
		"cluster":             "web",
	}

	n, ok := p.Int("desired_count")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = p.Int("missing")
	assert.False(t, ok)

	assert.True(t, p.Bool("skip_final_snapshot"))
	assert.False(t, p.Bool("missing"))

	s, ok := p.String("cluster")
	require.True(t, ok)
	assert.Equal(t, "web", s)
}
