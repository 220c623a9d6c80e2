package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
	log    logrus.FieldLogger
}

var _ storage.Store = (*Adapter)(nil)

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// KeyPrefix 会加在每个对象 key 前面，例如 "objects/"
	KeyPrefix string
	Logger    logrus.FieldLogger
}

// NewClient 按配置创建 S3 客户端，云同步通道也用它
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时注入 Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	}), nil
}

// EnsureBucket 确认 Bucket 存在，不存在就尝试创建
func EnsureBucket(ctx context.Context, client *s3.Client, bucket string, log logrus.FieldLogger) {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return
	}
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		// 可能是并发创建或权限问题，真正的错误会在读写时暴露
		log.WithError(err).WithField("bucket", bucket).Warn("failed to ensure bucket exists")
	}
}

// NewAdapter 初始化 S3 分片存储
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	EnsureBucket(ctx, client, cfg.Bucket, cfg.Logger)
	return NewAdapterWithClient(client, cfg), nil
}

// NewAdapterWithClient 复用已有的客户端
func NewAdapterWithClient(client *s3.Client, cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
		log:    cfg.Logger,
	}
}

// transformKey 将 Hash 转换为 S3 Key (Sharding)
// Logic: "aabbcc..." -> "<prefix>aa/bbcc..."
func (s *Adapter) transformKey(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return s.prefix + h
	}
	return s.prefix + h[:2] + "/" + h[2:]
}

// Put 上传分片
func (s *Adapter) Put(ctx context.Context, hash types.Hash, data []byte) error {
	// 1. 幂等性检查: Head 请求比 Put 便宜
	exists, err := s.Has(ctx, hash)
	if err != nil {
		return fmt.Errorf("s3 put existence check failed: %w", err)
	}
	if exists {
		return nil
	}

	// 2. 执行上传
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transformKey(hash)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return status.Wrap(status.IOError, err, "s3 put failed")
	}
	return nil
}

// Get 下载分片
func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, status.Wrap(status.IOError, err, "s3 get failed")
	}
	return resp.Body, nil
}

// Has 检查分片是否存在
func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	if strings.Contains(err.Error(), "404") {
		return false, nil
	}
	return false, status.Wrap(status.IOError, err, "s3 head failed")
}

// ExpandHash 利用 Prefix 查询扩展短哈希
func (s *Adapter) ExpandHash(ctx context.Context, shortHash types.HashPrefix) (types.Hash, error) {
	if err := storage.CheckPrefix(shortHash); err != nil {
		return "", err
	}
	in := string(shortHash)

	// 构造前缀: "a8fd" -> "<prefix>a8/fd"
	prefix := s.prefix + in[:2] + "/" + in[2:]

	// MaxKeys=2: 只需要区分 0 个、1 个(唯一) 或 >1 个(歧义)
	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return "", status.Wrap(status.IOError, err, "s3 list failed")
	}

	matches := make([]types.Hash, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		// 还原 Hash: "<prefix>a8/fd123..." -> "a8fd123..."
		key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
		matches = append(matches, types.Hash(strings.Replace(key, "/", "", 1)))
	}
	return storage.PickUnique(matches)
}
