package awscloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

type tagEC2API interface {
	DescribeTags(ctx context.Context, in *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
}

type tagRDSAPI interface {
	ListTagsForResource(ctx context.Context, in *rds.ListTagsForResourceInput, optFns ...func(*rds.Options)) (*rds.ListTagsForResourceOutput, error)
}

type tagECSAPI interface {
	ListTagsForResource(ctx context.Context, in *ecs.ListTagsForResourceInput, optFns ...func(*ecs.Options)) (*ecs.ListTagsForResourceOutput, error)
}

type tagS3API interface {
	GetBucketTagging(ctx context.Context, in *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
}

// TagFetcher reads the current tag set of a resource for protection
// evaluation. It is read-only; it never mutates anything.
type TagFetcher struct {
	ec2 tagEC2API
	rds tagRDSAPI
	ecs tagECSAPI
	s3  tagS3API

	region    string
	accountID string
}

// NewTagFetcher creates a tag fetcher over the bundled service clients.
func NewTagFetcher(c *Clients) *TagFetcher {
	return &TagFetcher{
		ec2:       c.EC2,
		rds:       c.RDS,
		ecs:       c.ECS,
		s3:        c.S3,
		region:    c.Region,
		accountID: c.AccountID,
	}
}

// GetTags returns the tags of a resource as a plain map. An accountID
// argument overrides the configured default, for cross-account requests.
func (t *TagFetcher) GetTags(ctx context.Context, rt action.ResourceType, id, accountID string) (map[string]string, error) {
	if accountID == "" {
		accountID = t.accountID
	}

	switch rt {
	case action.ResourceEC2, action.ResourceEBS:
		return t.ec2Tags(ctx, id)
	case action.ResourceRDS:
		return t.rdsTags(ctx, id, accountID)
	case action.ResourceECS:
		return t.ecsTags(ctx, id, accountID)
	case action.ResourceS3:
		return t.s3Tags(ctx, id)
	}
	return nil, fmt.Errorf("unsupported resource type: %s", rt)
}

func (t *TagFetcher) ec2Tags(ctx context.Context, id string) (map[string]string, error) {
	out, err := t.ec2.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{id}},
		},
	})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(out.Tags))
	for _, tag := range out.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

func (t *TagFetcher) rdsTags(ctx context.Context, id, accountID string) (map[string]string, error) {
	arn := fmt.Sprintf("arn:aws:rds:%s:%s:db:%s", t.region, accountID, id)
	out, err := t.rds.ListTagsForResource(ctx, &rds.ListTagsForResourceInput{
		ResourceName: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(out.TagList))
	for _, tag := range out.TagList {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

func (t *TagFetcher) ecsTags(ctx context.Context, id, accountID string) (map[string]string, error) {
	arn := id
	if !strings.HasPrefix(id, "arn:") {
		cluster, service := splitServiceID(id, nil)
		arn = fmt.Sprintf("arn:aws:ecs:%s:%s:service/%s/%s", t.region, accountID, cluster, service)
	}
	out, err := t.ecs.ListTagsForResource(ctx, &ecs.ListTagsForResourceInput{
		ResourceArn: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(out.Tags))
	for _, tag := range out.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

func (t *TagFetcher) s3Tags(ctx context.Context, bucket string) (map[string]string, error) {
	out, err := t.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		// An untagged bucket is not an error, just an empty tag set.
		if errorCode(err) == "NoSuchTagSet" {
			return map[string]string{}, nil
		}
		return nil, err
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}
