package awscloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// S3Service adapts bucket deletion. S3 refuses to delete non-empty buckets;
// the force_delete parameter empties the bucket first.
type S3Service struct {
	api s3API
}

// NewS3Service creates the S3 adapter set.
func NewS3Service(api s3API) *S3Service {
	return &S3Service{api: api}
}

// DeleteBucket deletes a bucket. A bucket that no longer exists counts as
// deleted.
func (s *S3Service) DeleteBucket(ctx context.Context, bucket string, params action.Params, dryRun bool) action.AdapterResult {
	if dryRun {
		_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			switch errorCode(err) {
			case "NotFound", "NoSuchBucket":
				return action.AdapterResult{Status: action.StatusDryRun, Message: fmt.Sprintf("dry run: bucket %s does not exist", bucket)}
			}
			return failedResult(err)
		}
		return action.AdapterResult{Status: action.StatusDryRun, Message: fmt.Sprintf("dry run: bucket %s would be deleted", bucket)}
	}

	var removed int
	if params.Bool("force_delete") {
		n, err := s.emptyBucket(ctx, bucket)
		if err != nil {
			if errorCode(err) == "NoSuchBucket" {
				return action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("bucket %s already deleted", bucket)}
			}
			return failedResult(err)
		}
		removed = n
	}

	_, err := s.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		switch errorCode(err) {
		case "NoSuchBucket":
			return action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("bucket %s already deleted", bucket)}
		case "BucketNotEmpty":
			return action.AdapterResult{
				Status:  action.StatusFailed,
				Message: fmt.Sprintf("bucket %s is not empty; set force_delete to remove its objects first", bucket),
				Error:   normalizeError(err),
			}
		}
		return failedResult(err)
	}

	result := action.AdapterResult{Status: action.StatusSuccess, Message: fmt.Sprintf("bucket %s deleted", bucket)}
	if removed > 0 {
		result.Response = map[string]interface{}{"objects_removed": removed}
	}
	return result
}

// emptyBucket removes every object in the bucket, 1000 at a time, and
// returns how many were removed.
func (s *S3Service) emptyBucket(ctx context.Context, bucket string) (int, error) {
	var removed int
	var continuation *string

	for {
		list, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: continuation,
		})
		if err != nil {
			return removed, err
		}
		if len(list.Contents) == 0 {
			return removed, nil
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(list.Contents))
		for _, obj := range list.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return removed, err
		}
		removed += len(objects)

		if list.IsTruncated == nil || !*list.IsTruncated {
			return removed, nil
		}
		continuation = list.NextContinuationToken
	}
}
