package storage

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is an S3-compatible Storage Backend, wired against a real
// client so self-hosted deployments can point at S3-compatible object
// storage (MinIO, R2, etc.) rather than Dropbox without a second
// hand-rolled reference implementation.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client builds an S3Client against the given endpoint/bucket using
// static credentials, mirroring the teacher's own MinIO-compatible
// client construction.
func NewS3Client(endpoint, region, bucket, accessKeyID, secretAccessKey string, usePathStyle bool) *S3Client {
	client := s3.New(s3.Options{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			accessKeyID, secretAccessKey, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: usePathStyle,
	})
	return &S3Client{client: client, bucket: bucket}
}

// UploadStream implements Client via a single PutObject call. The AWS SDK
// reads directly from r as it streams the request, so no full-body
// buffering happens here either.
func (c *S3Client) UploadStream(ctx context.Context, path string, r io.Reader, size int64) *Error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(path),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return newError(KindInternal, "s3 put object: %v", err)
	}
	return nil
}
