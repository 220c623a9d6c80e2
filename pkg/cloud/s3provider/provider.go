// Package s3provider 把云同步通道放在 S3 兼容存储上。
//
// 布局:
//
//	<prefix>objects/<aa>/<rest>                         zstd 压缩的分片
//	<prefix>pages/<page>/commits/<unixnano>-<commitid>  zstd 压缩的提交记录
//
// 提交记录的 key 以上传时间开头，列表按字典序即按上传顺序。
// 不同副本时钟有偏差，所以拉取时从游标往前回退一个重叠窗口，重复记录由页面存储去重。
package s3provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ledgervault/pkg/cloud"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	storages3 "ledgervault/pkg/storage/s3"
	"ledgervault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

const DefaultOverlap = 5 * time.Minute

// unrecoverableCodes 是重试也不会好转的 S3 错误码
var unrecoverableCodes = map[string]struct{}{
	"AccessDenied":          {},
	"AllAccessDisabled":     {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"AccountProblem":        {},
	"NoSuchBucket":          {},
}

type Config struct {
	S3 storages3.Config
	// Overlap 是拉取时的回退窗口，默认 5 分钟
	Overlap time.Duration
	Clock   func() time.Time
}

type Provider struct {
	client  *s3.Client
	bucket  string
	prefix  string
	objects *storages3.Adapter
	codec   *codec
	overlap time.Duration
	clock   func() time.Time
	log     logrus.FieldLogger
}

var _ cloud.Provider = (*Provider)(nil)

// New 创建客户端并确认 Bucket 存在
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := storages3.NewClient(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	log := cfg.S3.Logger
	if log == nil {
		log = logrus.New()
	}
	storages3.EnsureBucket(ctx, client, cfg.S3.Bucket, log)
	return NewWithClient(client, cfg)
}

// NewWithClient 复用已有的客户端 (例如和分片后端共用)
func NewWithClient(client *s3.Client, cfg Config) (*Provider, error) {
	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 provider requires a bucket")
	}
	if cfg.S3.Logger == nil {
		cfg.S3.Logger = logrus.New()
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	c, err := newCodec()
	if err != nil {
		return nil, err
	}

	prefix := cfg.S3.KeyPrefix
	objCfg := cfg.S3
	objCfg.KeyPrefix = prefix + "objects/"
	return &Provider{
		client:  client,
		bucket:  cfg.S3.Bucket,
		prefix:  prefix,
		objects: storages3.NewAdapterWithClient(client, objCfg),
		codec:   c,
		overlap: cfg.Overlap,
		clock:   cfg.Clock,
		log:     cfg.S3.Logger.WithField("bucket", cfg.S3.Bucket),
	}, nil
}

func (p *Provider) Close() { p.codec.close() }

// -----------------------------------------------------------------------------
// 对象
// -----------------------------------------------------------------------------

func (p *Provider) AddObject(ctx context.Context, key types.Hash, data []byte) error {
	return classify(p.objects.Put(ctx, key, p.codec.compress(data)))
}

func (p *Provider) GetObject(ctx context.Context, key types.Hash) ([]byte, error) {
	raw, err := storage.ReadAll(ctx, p.objects, key)
	if err != nil {
		return nil, classify(err)
	}
	return p.codec.decompress(raw)
}

func (p *Provider) HasObject(ctx context.Context, key types.Hash) (bool, error) {
	ok, err := p.objects.Has(ctx, key)
	return ok, classify(err)
}

// -----------------------------------------------------------------------------
// 提交记录
// -----------------------------------------------------------------------------

func (p *Provider) commitPrefix(page types.PageID) string {
	return p.prefix + "pages/" + string(page) + "/commits/"
}

// recordName 固定宽度，保证字典序等于时间序
func recordName(t time.Time, id types.Hash) string {
	return fmt.Sprintf("%020d-%s", t.UnixNano(), id)
}

func (p *Provider) AddCommits(ctx context.Context, page types.PageID, commits []pagestorage.RemoteCommit) error {
	for _, c := range commits {
		key := p.commitPrefix(page) + recordName(p.clock(), c.ID)
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(p.codec.compress(c.Data)),
			ContentType: aws.String("application/cbor"),
		})
		if err != nil {
			return classify(status.Wrap(status.IOError, err, "s3 put commit failed"))
		}
	}
	return nil
}

// GetCommits 的游标是最后一条记录的名字。
// 记录名里带着提交 id，skip 掉的记录只列出不下载。
func (p *Provider) GetCommits(ctx context.Context, page types.PageID, cursor string, skip cloud.SkipFunc) ([]pagestorage.RemoteCommit, string, error) {
	prefix := p.commitPrefix(page)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	}
	if start, err := p.startAfter(cursor); err != nil {
		return nil, "", err
	} else if start != "" {
		input.StartAfter = aws.String(prefix + start)
	}

	var (
		out  []pagestorage.RemoteCommit
		next = cursor
	)
	paginator := s3.NewListObjectsV2Paginator(p.client, input)
	for paginator.HasMorePages() {
		resp, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, "", classify(status.Wrap(status.IOError, err, "s3 list commits failed"))
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			id, ok := parseRecordName(name)
			if !ok {
				p.log.WithField("key", aws.ToString(obj.Key)).Warn("skipping malformed commit record key")
				continue
			}
			if name > next {
				next = name
			}
			if skip != nil && skip(id) {
				continue
			}
			data, err := p.getRecord(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, "", err
			}
			out = append(out, pagestorage.RemoteCommit{ID: id, Data: data})
		}
	}
	return out, next, nil
}

// startAfter 把游标往前回退一个重叠窗口
func (p *Provider) startAfter(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	ts, _, ok := strings.Cut(cursor, "-")
	n, err := strconv.ParseInt(ts, 10, 64)
	if !ok || err != nil {
		return "", status.Errorf(status.ParseError, "invalid cloud cursor %q", cursor)
	}
	n -= p.overlap.Nanoseconds()
	if n <= 0 {
		return "", nil
	}
	return fmt.Sprintf("%020d", n), nil
}

func parseRecordName(name string) (types.Hash, bool) {
	_, id, ok := strings.Cut(name, "-")
	if !ok || !types.Hash(id).IsValid() {
		return "", false
	}
	return types.Hash(id), true
}

func (p *Provider) getRecord(ctx context.Context, key string) ([]byte, error) {
	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(status.Wrap(status.IOError, err, "s3 get commit failed"))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(status.Wrap(status.IOError, err, "s3 read commit failed"))
	}
	return p.codec.decompress(raw)
}

// classify 把凭证和权限类错误归为 UNRECOVERABLE，其余标记为云通道错误
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := unrecoverableCodes[apiErr.ErrorCode()]; ok {
			return status.Unrecoverablef(types.ChannelCloud, "s3 %s: %v", apiErr.ErrorCode(), err)
		}
	}
	return status.Network(types.ChannelCloud, err)
}
