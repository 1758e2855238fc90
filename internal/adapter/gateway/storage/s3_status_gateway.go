package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// S3API is the subset of *s3.Client the gateway calls
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ S3API = (*s3.Client)(nil)

// S3StatusGateway implements StatusGateway using AWS S3
// Bucket structure: s3://<bucket>/<prefix>/status/
//   - <name>.json: latest snapshot of a workflow
//   - <name>/cycles/<cycle>.json: snapshot emitted when a cycle completed
type S3StatusGateway struct {
	client     S3API
	bucketName string
	prefix     string // Optional prefix for all keys (e.g., "quotacycle/prod")
}

// S3Config holds S3 status gateway configuration
type S3Config struct {
	BucketName string // S3 bucket name
	Prefix     string // Optional key prefix
	Region     string // AWS region (optional, uses default if empty)
}

// NewS3StatusGateway creates a new S3-based status gateway
func NewS3StatusGateway(ctx context.Context, cfg S3Config) (*S3StatusGateway, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("s3 status gateway: bucket name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	return NewS3StatusGatewayWithClient(s3.NewFromConfig(awsCfg), cfg.BucketName, cfg.Prefix), nil
}

// NewS3StatusGatewayWithClient creates a new S3-based status gateway with a custom S3 client
func NewS3StatusGatewayWithClient(client S3API, bucketName, prefix string) *S3StatusGateway {
	return &S3StatusGateway{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}
}

// Publish uploads the snapshot as the latest status. Completion markers are
// also archived per cycle.
func (g *S3StatusGateway) Publish(ctx context.Context, snap cycle.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := g.put(ctx, g.latestKey(snap.Name), data, snap); err != nil {
		return err
	}
	if snap.State == cycle.RunStateCompleted {
		if err := g.put(ctx, g.cycleKey(snap.Name, snap.CurrentCycle), data, snap); err != nil {
			return err
		}
	}
	return nil
}

func (g *S3StatusGateway) put(ctx context.Context, key string, data []byte, snap cycle.Snapshot) error {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"workflow": snap.Name,
			"state":    string(snap.State),
			"cycle":    strconv.Itoa(snap.CurrentCycle),
		},
	})
	if err != nil {
		return fmt.Errorf("upload status to S3 (key: %s): %w", key, err)
	}
	return nil
}

// Latest downloads the latest snapshot, or nil if none was published
func (g *S3StatusGateway) Latest(ctx context.Context, workflowName string) (*cycle.Snapshot, error) {
	key := g.latestKey(workflowName)
	result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("download status from S3 (key: %s): %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}

	var snap cycle.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns the workflow names with a latest snapshot, sorted
func (g *S3StatusGateway) List(ctx context.Context) ([]string, error) {
	statusPrefix := g.buildKey("status") + "/"
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucketName),
		Prefix: aws.String(statusPrefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list status objects: %w", err)
		}
		for _, obj := range page.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), statusPrefix)
			if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
				continue
			}
			names = append(names, strings.TrimSuffix(rest, ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (g *S3StatusGateway) latestKey(name string) string {
	return g.buildKey("status", name+".json")
}

func (g *S3StatusGateway) cycleKey(name string, cycleNumber int) string {
	return g.buildKey("status", name, "cycles", fmt.Sprintf("%06d.json", cycleNumber))
}

// buildKey builds an S3 key with the optional prefix
func (g *S3StatusGateway) buildKey(parts ...string) string {
	if g.prefix != "" {
		parts = append([]string{g.prefix}, parts...)
	}
	return path.Join(parts...)
}
