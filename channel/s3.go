package channel

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/getdoover/digital-matter/core/logger"
)

// S3Configuration holds the S3 archive settings.
type S3Configuration struct {
	AWSBucketName string `env:"ARCHIVE_AWS_BUCKET_NAME,optional" description:"the S3 bucket for channel message archives"`
	AWSRegion     string `env:"ARCHIVE_AWS_REGION,default=eu-central-1" description:"the region of the S3 bucket"`
	AccessID      string `env:"ARCHIVE_AWS_ACCESS_ID,optional" description:"the access id for the S3 bucket"`
	AccessKey     string `env:"ARCHIVE_AWS_ACCESS_KEY,optional" description:"the access key for the S3 bucket"`
	KeyPrefix     string `env:"ARCHIVE_AWS_KEY_PREFIX,optional" description:"prefix for all archive object keys"`
}

// S3Archiver writes channel message logs to S3, one object per message.
// Objects are keyed <prefix><agent>/<channel>/<timestamp>-<message id>.json.
type S3Archiver struct {
	config      aws.Config
	uploader    *manager.Uploader
	bucket      string
	baseKeyName string
}

// NewS3Archiver returns a new archiver for the given bucket.
func NewS3Archiver(archiveConfig S3Configuration) (*S3Archiver, error) {
	if archiveConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	config, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(archiveConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(archiveConfig.AccessID, archiveConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("channel S3 archive enabled")
	s := S3Archiver{
		config:      config,
		uploader:    manager.NewUploader(s3.NewFromConfig(config)),
		bucket:      archiveConfig.AWSBucketName,
		baseKeyName: archiveConfig.KeyPrefix,
	}
	return &s, nil
}

// Archive uploads one logged message.
func (s *S3Archiver) Archive(ctx context.Context, agentID, name string, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s/%s/%s-%s.json", s.baseKeyName, agentID, name,
		m.Timestamp.UTC().Format(time.RFC3339), m.ID)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to archive message %s, %v", m.ID, err)
	}
	return nil
}

// ArchivingStore decorates a Store, mirroring every logged message to the
// S3 archive. Archive failures are logged and swallowed; the store remains
// the source of truth.
type ArchivingStore struct {
	Store
	Archiver *S3Archiver
}

// Publish implements Store and archives the message after a successful
// logged publish.
func (s ArchivingStore) Publish(ctx context.Context, agentID, name string, doc Document, saveLog bool) error {
	err := s.Store.Publish(ctx, agentID, name, doc, saveLog)
	if err != nil || !saveLog || s.Archiver == nil {
		return err
	}
	m := Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   doc,
	}
	if archiveErr := s.Archiver.Archive(ctx, agentID, name, m); archiveErr != nil {
		logger.FromContext(ctx).WithError(archiveErr).Warn("cannot archive message")
	}
	return nil
}

var _ ArchiveLister = (*S3Archiver)(nil)

// ListArchived implements ArchiveLister.
func (s *S3Archiver) ListArchived(ctx context.Context, agentID, name string) (keys []string, err error) {
	client := s3.NewFromConfig(s.config)

	prefix := s.baseKeyName + agentID + "/" + name + "/"
	var continuationToken *string
	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		}
		var resp *s3.ListObjectsV2Output
		resp, err = client.ListObjectsV2(ctx, input)
		if err != nil {
			logger.Default().Error("could not ListObjectsV2 from ", s.bucket)
			return
		}
		for _, item := range resp.Contents {
			keys = append(keys, *item.Key)
		}
		continuationToken = resp.NextContinuationToken
		if resp.NextContinuationToken == nil {
			break
		}
	}
	return
}
