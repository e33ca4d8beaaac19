package awscloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

type ecsAPI interface {
	UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
}

// ECSService adapts ECS service scaling. Resource ids take the form
// "cluster/service"; a bare service name targets the default cluster unless a
// "cluster" parameter is supplied.
type ECSService struct {
	api ecsAPI
}

// NewECSService creates the ECS adapter set.
func NewECSService(api ecsAPI) *ECSService {
	return &ECSService{api: api}
}

// Scale sets the desired task count of a service. The desired_count parameter
// is required. Setting the count a service already runs at succeeds; ECS
// treats the update as a no-op.
func (s *ECSService) Scale(ctx context.Context, id string, params action.Params, dryRun bool) action.AdapterResult {
	cluster, service := splitServiceID(id, params)

	desired, ok := params.Int("desired_count")
	if !ok {
		return action.AdapterResult{
			Status:  action.StatusFailed,
			Message: "desired_count parameter is required for scale",
			Error:   &action.ErrorDetail{Code: "MissingParameter", Message: "desired_count parameter is required for scale"},
		}
	}
	if desired < 0 {
		return action.AdapterResult{
			Status:  action.StatusFailed,
			Message: "desired_count must not be negative",
			Error:   &action.ErrorDetail{Code: "InvalidParameterValue", Message: "desired_count must not be negative"},
		}
	}

	if dryRun {
		out, err := s.api.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(cluster),
			Services: []string{service},
		})
		if err != nil {
			return failedResult(err)
		}
		if len(out.Services) == 0 {
			return failedResult(fmt.Errorf("service %s not found in cluster %s", service, cluster))
		}
		current := out.Services[0].DesiredCount
		return action.AdapterResult{
			Status:  action.StatusDryRun,
			Message: fmt.Sprintf("dry run: service %s would scale from %d to %d tasks", service, current, desired),
			Response: map[string]interface{}{
				"cluster":        cluster,
				"previous_count": current,
				"desired_count":  desired,
			},
		}
	}

	out, err := s.api.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(cluster),
		Service:      aws.String(service),
		DesiredCount: aws.Int32(int32(desired)),
	})
	if err != nil {
		return failedResult(err)
	}

	return action.AdapterResult{
		Status:  action.StatusSuccess,
		Message: fmt.Sprintf("service %s scaling to %d tasks", service, desired),
		Response: map[string]interface{}{
			"cluster":       cluster,
			"desired_count": out.Service.DesiredCount,
			"running_count": out.Service.RunningCount,
		},
	}
}

// splitServiceID resolves the cluster and service from a resource id.
func splitServiceID(id string, params action.Params) (cluster, service string) {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i], id[i+1:]
	}
	if c, ok := params.String("cluster"); ok && c != "" {
		return c, id
	}
	return "default", id
}
