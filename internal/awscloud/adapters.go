package awscloud

import (
	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

// RegisterAdapters wires every supported resource-type/action pair into the
// registry. This is the single place the supported matrix is defined;
// anything not registered here is rejected as a validation error before any
// side effect.
func RegisterAdapters(reg *action.Registry, c *Clients) {
	ec2Svc := NewEC2Service(c.EC2)
	rdsSvc := NewRDSService(c.RDS)
	ecsSvc := NewECSService(c.ECS)
	s3Svc := NewS3Service(c.S3)

	reg.Register(action.ResourceEC2, action.ActionStart, action.AdapterFunc(ec2Svc.Start))
	reg.Register(action.ResourceEC2, action.ActionStop, action.AdapterFunc(ec2Svc.Stop))
	reg.Register(action.ResourceEC2, action.ActionTerminate, action.AdapterFunc(ec2Svc.Terminate))

	reg.Register(action.ResourceEBS, action.ActionDelete, action.AdapterFunc(ec2Svc.DeleteVolume))

	reg.Register(action.ResourceRDS, action.ActionStart, action.AdapterFunc(rdsSvc.Start))
	reg.Register(action.ResourceRDS, action.ActionStop, action.AdapterFunc(rdsSvc.Stop))
	reg.Register(action.ResourceRDS, action.ActionDelete, action.AdapterFunc(rdsSvc.Delete))

	reg.Register(action.ResourceECS, action.ActionScale, action.AdapterFunc(ecsSvc.Scale))

	reg.Register(action.ResourceS3, action.ActionDelete, action.AdapterFunc(s3Svc.DeleteBucket))
}
