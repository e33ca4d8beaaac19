package awscloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

type rdsAPI interface {
	StartDBInstance(ctx context.Context, in *rds.StartDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error)
	StopDBInstance(ctx context.Context, in *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error)
	DeleteDBInstance(ctx context.Context, in *rds.DeleteDBInstanceInput, optFns ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error)
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// RDSService adapts RDS instance actions. RDS has no native dry-run mode, so
// dry runs are a read-only describe that reports the current status and what
// would happen.
type RDSService struct {
	api rdsAPI
}

// NewRDSService creates the RDS adapter set.
func NewRDSService(api rdsAPI) *RDSService {
	return &RDSService{api: api}
}

// Start starts a stopped database instance.
func (s *RDSService) Start(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	if dryRun {
		return s.dryRunResult(ctx, id, "started")
	}

	out, err := s.api.StartDBInstance(ctx, &rds.StartDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		if errorCode(err) == "InvalidDBInstanceState" {
			if status, derr := s.instanceStatus(ctx, id); derr == nil && status == "available" {
				return action.AdapterResult{
					Status:   action.StatusSuccess,
					Message:  fmt.Sprintf("database %s already available", id),
					Response: map[string]interface{}{"status": status},
				}
			}
		}
		return failedResult(err)
	}
	return action.AdapterResult{
		Status:   action.StatusSuccess,
		Message:  fmt.Sprintf("database %s starting", id),
		Response: map[string]interface{}{"status": aws.ToString(out.DBInstance.DBInstanceStatus)},
	}
}

// Stop stops a running database instance. Stopping a stopped database is a
// success.
func (s *RDSService) Stop(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	if dryRun {
		return s.dryRunResult(ctx, id, "stopped")
	}

	out, err := s.api.StopDBInstance(ctx, &rds.StopDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		if errorCode(err) == "InvalidDBInstanceState" {
			if status, derr := s.instanceStatus(ctx, id); derr == nil && status == "stopped" {
				return action.AdapterResult{
					Status:   action.StatusSuccess,
					Message:  fmt.Sprintf("database %s already stopped", id),
					Response: map[string]interface{}{"status": status},
				}
			}
		}
		return failedResult(err)
	}
	return action.AdapterResult{
		Status:   action.StatusSuccess,
		Message:  fmt.Sprintf("database %s stopping", id),
		Response: map[string]interface{}{"status": aws.ToString(out.DBInstance.DBInstanceStatus)},
	}
}

// Delete deletes a database instance. Unless skip_final_snapshot is set, a
// final snapshot named <id>-final-<timestamp> is taken first.
func (s *RDSService) Delete(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	if dryRun {
		return s.dryRunResult(ctx, id, "deleted")
	}

	input := &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
	}
	if params.Bool("skip_final_snapshot") {
		input.SkipFinalSnapshot = aws.Bool(true)
	} else {
		input.FinalDBSnapshotIdentifier = aws.String(fmt.Sprintf("%s-final-%s", id, time.Now().UTC().Format("20060102-150405")))
	}

	out, err := s.api.DeleteDBInstance(ctx, input)
	if err != nil {
		switch errorCode(err) {
		case "DBInstanceNotFound", "DBInstanceNotFoundFault":
			return action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("database %s already deleted", id)}
		case "InvalidDBInstanceState":
			if status, derr := s.instanceStatus(ctx, id); derr == nil && status == "deleting" {
				return action.AdapterResult{
					Status:   action.StatusSuccess,
					Message:  fmt.Sprintf("database %s already deleting", id),
					Response: map[string]interface{}{"status": status},
				}
			}
		}
		return failedResult(err)
	}

	result := action.AdapterResult{
		Status:   action.StatusSuccess,
		Message:  fmt.Sprintf("database %s deleting", id),
		Response: map[string]interface{}{"status": aws.ToString(out.DBInstance.DBInstanceStatus)},
	}
	if input.FinalDBSnapshotIdentifier != nil {
		result.Response["final_snapshot"] = aws.ToString(input.FinalDBSnapshotIdentifier)
	}
	return result
}

func (s *RDSService) dryRunResult(ctx context.Context, id, verb string) action.AdapterResult {
	status, err := s.instanceStatus(ctx, id)
	if err != nil {
		return failedResult(err)
	}
	return action.AdapterResult{
		Status:   action.StatusDryRun,
		Message:  fmt.Sprintf("dry run: database %s would be %s (current status: %s)", id, verb, status),
		Response: map[string]interface{}{"status": status},
	}
}

func (s *RDSService) instanceStatus(ctx context.Context, id string) (string, error) {
	out, err := s.api.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		return "", err
	}
	if len(out.DBInstances) == 0 {
		return "", fmt.Errorf("database %s not found", id)
	}
	return aws.ToString(out.DBInstances[0].DBInstanceStatus), nil
}
