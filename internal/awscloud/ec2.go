package awscloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

// ec2API is the slice of the EC2 client the adapters use.
type ec2API interface {
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DescribeTags(ctx context.Context, in *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
}

// EC2Service adapts EC2 instance actions and EBS volume deletion. Dry runs
// use the native EC2 DryRun parameter: the SDK call returns a DryRunOperation
// error when the request would have succeeded, and nothing mutates.
type EC2Service struct {
	api ec2API
}

// NewEC2Service creates the EC2 adapter set.
func NewEC2Service(api ec2API) *EC2Service {
	return &EC2Service{api: api}
}

// Start starts a stopped instance.
func (s *EC2Service) Start(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	out, err := s.api.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{id},
		DryRun:      aws.Bool(dryRun),
	})
	if err != nil {
		return s.interpretError(ctx, err, id, dryRun, "started", "running")
	}

	result := action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("instance %s starting", id)}
	if len(out.StartingInstances) > 0 {
		result.Response = stateChangeResponse(
			stateName(out.StartingInstances[0].PreviousState),
			stateName(out.StartingInstances[0].CurrentState),
		)
	}
	return result
}

// Stop stops a running instance. Stopping an already-stopped instance is a
// success, not a failure.
func (s *EC2Service) Stop(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	out, err := s.api.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{id},
		DryRun:      aws.Bool(dryRun),
	})
	if err != nil {
		return s.interpretError(ctx, err, id, dryRun, "stopped", "stopped")
	}

	result := action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("instance %s stopping", id)}
	if len(out.StoppingInstances) > 0 {
		result.Response = stateChangeResponse(
			stateName(out.StoppingInstances[0].PreviousState),
			stateName(out.StoppingInstances[0].CurrentState),
		)
	}
	return result
}

// Terminate terminates an instance.
func (s *EC2Service) Terminate(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	out, err := s.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
		DryRun:      aws.Bool(dryRun),
	})
	if err != nil {
		return s.interpretError(ctx, err, id, dryRun, "terminated", "terminated")
	}

	result := action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("instance %s terminating", id)}
	if len(out.TerminatingInstances) > 0 {
		result.Response = stateChangeResponse(
			stateName(out.TerminatingInstances[0].PreviousState),
			stateName(out.TerminatingInstances[0].CurrentState),
		)
	}
	return result
}

// DeleteVolume deletes an EBS volume. A volume that is already gone counts
// as deleted.
func (s *EC2Service) DeleteVolume(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	_, err := s.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(id),
		DryRun:   aws.Bool(dryRun),
	})
	if err != nil {
		switch errorCode(err) {
		case "DryRunOperation":
			return action.AdapterResult{Status: action.StatusDryRun, Message: fmt.Sprintf("dry run: volume %s would be deleted", id)}
		case "InvalidVolume.NotFound":
			return action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("volume %s already deleted", id)}
		}
		return failedResult(err)
	}
	return action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("volume %s deleted", id)}
}

// interpretError maps EC2 call errors onto outcomes. DryRunOperation means
// the dry run passed. IncorrectInstanceState is an idempotence check: if the
// instance is already in the state the action was driving toward, the action
// effectively succeeded.
func (s *EC2Service) interpretError(ctx context.Context, err error, id string, dryRun bool, verb, targetState string) action.AdapterResult {
	switch errorCode(err) {
	case "DryRunOperation":
		return action.AdapterResult{Status: action.StatusDryRun, Message: fmt.Sprintf("dry run: instance %s would be %s", id, verb)}
	case "IncorrectInstanceState":
		state, derr := s.instanceState(ctx, id)
		if derr == nil && state == targetState {
			return action.AdapterResult{
				Status:   action.StatusSuccess,
				Message:  fmt.Sprintf("instance %s already %s", id, verb),
				Response: stateChangeResponse(state, state),
			}
		}
	}
	return failedResult(err)
}

func (s *EC2Service) instanceState(ctx context.Context, id string) (string, error) {
	out, err := s.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return "", err
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", fmt.Errorf("instance %s not found", id)
	}
	state := out.Reservations[0].Instances[0].State
	if state == nil {
		return "", fmt.Errorf("instance %s has no reported state", id)
	}
	return string(state.Name), nil
}

// stateName tolerates sparse API responses that omit the state struct.
func stateName(st *ec2types.InstanceState) string {
	if st == nil {
		return ""
	}
	return string(st.Name)
}

func stateChangeResponse(previous, current string) map[string]interface{} {
	return map[string]interface{}{
		"previous_state": previous,
		"current_state":  current,
	}
}
