// Package aws_s3 stores submission zips in an S3 bucket, one object per
// correlation id.
package aws_s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/SharedCode/dms"
)

const largeObjectMinSize = 10 * 1024 * 1024

// Now returns the current time and can be "synthesized" if needed.
var Now = time.Now

type objectStore struct {
	s3Client       *s3.Client
	bucketName     string
	locationPrefix string
}

// NewObjectStore returns a dms.ObjectStore writing to the given bucket.
// locationPrefix is prepended to object keys to form the location advertised
// to SDES (config key services.sdes.object-store-location-prefix).
func NewObjectStore(s3Client *s3.Client, bucketName string, locationPrefix string) (dms.ObjectStore, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if bucketName == "" {
		return nil, fmt.Errorf("bucketName parameter can't be empty")
	}
	return &objectStore{
		s3Client:       s3Client,
		bucketName:     bucketName,
		locationPrefix: locationPrefix,
	}, nil
}

// Put uploads contents at key and returns the stored object's summary. The
// MD5 is computed locally; S3 ETags are not MD5 digests for multipart uploads.
// Transient upload failures are retried with backoff.
func (o *objectStore) Put(ctx context.Context, key string, contents []byte) (dms.ObjectSummary, error) {
	sum := md5.Sum(contents)
	contentMd5 := base64.StdEncoding.EncodeToString(sum[:])

	upload := func(ctx context.Context) error {
		var err error
		if len(contents) >= largeObjectMinSize {
			uploader := manager.NewUploader(o.s3Client, func(u *manager.Uploader) {
				u.PartSize = largeObjectMinSize
			})
			_, err = uploader.Upload(ctx, &s3.PutObjectInput{
				Bucket: aws.String(o.bucketName),
				Key:    aws.String(key),
				Body:   bytes.NewReader(contents),
			})
		} else {
			_, err = o.s3Client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:     aws.String(o.bucketName),
				Key:        aws.String(key),
				Body:       bytes.NewReader(contents),
				ContentMD5: aws.String(contentMd5),
			})
		}
		if dms.ShouldRetry(err) {
			return dms.RetryableError(err)
		}
		return err
	}
	if err := dms.Retry(ctx, upload, nil); err != nil {
		return dms.ObjectSummary{}, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't upload %s to bucket %s, details: %w", key, o.bucketName, err)}
	}

	return dms.ObjectSummary{
		Location:      o.locationPrefix + key,
		ContentLength: int64(len(contents)),
		ContentMd5:    contentMd5,
		LastModified:  Now(),
	}, nil
}

// Remove deletes the object at key, tolerating absence.
func (o *objectStore) Remove(ctx context.Context, key string) error {
	output, err := o.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(o.bucketName),
		Delete: &types.Delete{Objects: []types.ObjectIdentifier{{Key: aws.String(key)}}},
	})
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't remove %s from bucket %s, details: %w", key, o.bucketName, err)}
	}
	if len(output.Errors) > 0 {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't remove %s from bucket %s, details: %v", key, o.bucketName, *output.Errors[0].Message)}
	}
	return nil
}
