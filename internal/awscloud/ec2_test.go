package awscloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

type fakeEC2 struct {
	startErr     error
	stopErr      error
	terminateErr error
	deleteErr    error
	describeErr  error

	instanceState ec2types.InstanceStateName
	sparseStates  bool // omit state structs, as a sparse API response would

	stopCalls      int
	terminateCalls int
	deleteCalls    int
	lastDryRun     bool
}

func (f *fakeEC2) StartInstances(ctx context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.lastDryRun = aws.ToBool(in.DryRun)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.sparseStates {
		return &ec2.StartInstancesOutput{
			StartingInstances: []ec2types.InstanceStateChange{{
				InstanceId: aws.String(in.InstanceIds[0]),
			}},
		}, nil
	}
	return &ec2.StartInstancesOutput{
		StartingInstances: []ec2types.InstanceStateChange{{
			InstanceId:    aws.String(in.InstanceIds[0]),
			PreviousState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
		}},
	}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.stopCalls++
	f.lastDryRun = aws.ToBool(in.DryRun)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	if f.sparseStates {
		return &ec2.StopInstancesOutput{
			StoppingInstances: []ec2types.InstanceStateChange{{}},
		}, nil
	}
	return &ec2.StopInstancesOutput{
		StoppingInstances: []ec2types.InstanceStateChange{{
			PreviousState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopping},
		}},
	}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminateCalls++
	f.lastDryRun = aws.ToBool(in.DryRun)
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	if f.sparseStates {
		return &ec2.TerminateInstancesOutput{
			TerminatingInstances: []ec2types.InstanceStateChange{{}},
		}, nil
	}
	return &ec2.TerminateInstancesOutput{
		TerminatingInstances: []ec2types.InstanceStateChange{{
			PreviousState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown},
		}},
	}, nil
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				State: &ec2types.InstanceState{Name: f.instanceState},
			}},
		}},
	}, nil
}

func (f *fakeEC2) DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	f.deleteCalls++
	f.lastDryRun = aws.ToBool(in.DryRun)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &ec2.DeleteVolumeOutput{}, nil
}

func (f *fakeEC2) DescribeTags(ctx context.Context, in *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	return &ec2.DescribeTagsOutput{}, nil
}

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}

func TestEC2Stop(t *testing.T) {
	api := &fakeEC2{}
	svc := NewEC2Service(api)

	result := svc.Stop(context.Background(), "i-1", nil, false)
	assert.Equal(t, action.StatusSuccess, result.Status)
	assert.False(t, api.lastDryRun)
	assert.Equal(t, "running", result.Response["previous_state"])
	assert.Equal(t, "stopping", result.Response["current_state"])
}

func TestEC2StopDryRun(t *testing.T) {
	// With DryRun set, EC2 reports a would-succeed request as a
	// DryRunOperation error.
	api := &fakeEC2{stopErr: apiError("DryRunOperation", "Request would have succeeded")}
	svc := NewEC2Service(api)

	result := svc.Stop(context.Background(), "i-1", nil, true)
	assert.Equal(t, action.StatusDryRun, result.Status)
	assert.True(t, api.lastDryRun)
}

func TestEC2StopAlreadyStopped(t *testing.T) {
	api := &fakeEC2{
		stopErr:       apiError("IncorrectInstanceState", "not in a state from which it can be stopped"),
		instanceState: ec2types.InstanceStateNameStopped,
	}
	svc := NewEC2Service(api)

	result := svc.Stop(context.Background(), "i-1", nil, false)
	assert.Equal(t, action.StatusSuccess, result.Status)
	assert.Contains(t, result.Message, "already stopped")
}

func TestEC2StopWrongStateFails(t *testing.T) {
	api := &fakeEC2{
		stopErr:       apiError("IncorrectInstanceState", "not in a state from which it can be stopped"),
		instanceState: ec2types.InstanceStateNamePending,
	}
	svc := NewEC2Service(api)

	result := svc.Stop(context.Background(), "i-1", nil, false)
	assert.Equal(t, action.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "IncorrectInstanceState", result.Error.Code)
}

func TestEC2StartNotFound(t *testing.T) {
	api := &fakeEC2{startErr: apiError("InvalidInstanceID.NotFound", "The instance ID 'i-x' does not exist")}
	svc := NewEC2Service(api)

	result := svc.Start(context.Background(), "i-x", nil, false)
	assert.Equal(t, action.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "InvalidInstanceID.NotFound", result.Error.Code)
	assert.False(t, result.Error.Retryable)
}

func TestEC2Terminate(t *testing.T) {
	api := &fakeEC2{}
	svc := NewEC2Service(api)

	result := svc.Terminate(context.Background(), "i-1", nil, false)
	assert.Equal(t, action.StatusSuccess, result.Status)
	assert.Equal(t, 1, api.terminateCalls)
}

func TestEC2SparseStateResponse(t *testing.T) {
	// Some responses arrive without the previous/current state structs; the
	// adapter must not dereference them.
	api := &fakeEC2{sparseStates: true}
	svc := NewEC2Service(api)

	tests := []struct {
		name string
		call func() action.AdapterResult
	}{
		{"start", func() action.AdapterResult { return svc.Start(context.Background(), "i-1", nil, false) }},
		{"stop", func() action.AdapterResult { return svc.Stop(context.Background(), "i-1", nil, false) }},
		{"terminate", func() action.AdapterResult { return svc.Terminate(context.Background(), "i-1", nil, false) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result action.AdapterResult
			assert.NotPanics(t, func() { result = tt.call() })
			assert.Equal(t, action.StatusSuccess, result.Status)
			assert.Equal(t, "", result.Response["previous_state"])
			assert.Equal(t, "", result.Response["current_state"])
		})
	}
}

func TestEBSDeleteVolumeAlreadyGone(t *testing.T) {
	api := &fakeEC2{deleteErr: apiError("InvalidVolume.NotFound", "The volume 'vol-1' does not exist")}
	svc := NewEC2Service(api)

	result := svc.DeleteVolume(context.Background(), "vol-1", nil, false)
	assert.Equal(t, action.StatusSuccess, result.Status)
	assert.Contains(t, result.Message, "already deleted")
}

func TestEBSDeleteVolumeDryRun(t *testing.T) {
	api := &fakeEC2{deleteErr: apiError("DryRunOperation", "Request would have succeeded")}
	svc := NewEC2Service(api)

	result := svc.DeleteVolume(context.Background(), "vol-1", nil, true)
	assert.Equal(t, action.StatusDryRun, result.Status)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"throttling", apiError("Throttling", "Rate exceeded"), "Throttling", true},
		{"not found", apiError("InvalidInstanceID.NotFound", "no such instance"), "InvalidInstanceID.NotFound", false},
		{"deadline", context.DeadlineExceeded, "RequestTimeout", true},
		{"plain error", errors.New("dial tcp: connection refused"), "UnknownError", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail := normalizeError(tt.err)
			assert.Equal(t, tt.code, detail.Code)
			assert.Equal(t, tt.retryable, detail.Retryable)
		})
	}
}
