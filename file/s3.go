package file

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stenstromen/wikiexport/config"
	"go.uber.org/zap"
)

type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Sink uploads exports to S3 or MinIO. Keys are prefixed with the upload
// time so repeated exports of the same format do not overwrite each other.
type S3Sink struct {
	client objectStore
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

func NewS3Sink(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var awsCfg aws.Config
	var err error
	var optFns []func(*s3.Options)

	if endpoint := cfg.MinioURL(); endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion("us-east-1"),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
			awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		)
		optFns = append(optFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, optFns...),
		bucket: cfg.Bucket,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *S3Sink) Save(ctx context.Context, filename string, data []byte) (string, error) {
	key := path.Join(s.now().UTC().Format("20060102T150405Z"), path.Base(filename))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		ACL:    s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("unable to upload %q to %q: %w", key, s.bucket, err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.logger.Info("export uploaded", zap.String("location", location), zap.Int("bytes", len(data)))
	return location, nil
}

func (s *S3Sink) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	var objects []s3types.Object
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, fmt.Errorf("unable to list objects in bucket %q: %w", s.bucket, err)
		}
		objects = append(objects, out.Contents...)
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).Before(aws.ToTime(objects[j].LastModified))
	})

	removed := 0
	for _, obj := range objects[:max(len(objects)-keep, 0)] {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return removed, fmt.Errorf("unable to delete object %q: %w", aws.ToString(obj.Key), err)
		}
		s.logger.Info("deleted export object", zap.String("key", aws.ToString(obj.Key)))
		removed++
	}
	return removed, nil
}
