package objstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/services/rollup/domain"
)

// aclHeader is sent as-is by minio-go (amz headers are not prefixed as user metadata)
const aclHeader = "x-amz-acl"

// Client implements domain.ObjectStore over minio-go
type Client struct {
	core *minio.Core
}

// New builds a client with its own transport
func New(cfg Config) (*Client, error) {
	tr, err := minio.DefaultTransport(cfg.Secure)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeStorage, "objstore transport")
	}
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}
	core, err := minio.NewCore(endpointHost(cfg.Endpoint), &minio.Options{
		Creds:     creds,
		Secure:    cfg.Secure,
		Region:    cfg.Region,
		Transport: tr,
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "objstore client for %q", cfg.Endpoint)
	}
	return &Client{core: core}, nil
}

// endpointHost strips a scheme and trailing slash; minio wants host[:port]
func endpointHost(ep string) string {
	ep = strings.TrimSpace(ep)
	ep = strings.TrimPrefix(ep, "https://")
	ep = strings.TrimPrefix(ep, "http://")
	return strings.TrimRight(ep, "/")
}

// List returns one page of keys under prefix, starting after startAfter
func (c *Client) List(
	_ context.Context,
	bucket, prefix, startAfter string,
	maxKeys int,
	token string,
) (domain.ListPage, error) {
	res, err := c.core.ListObjectsV2(bucket, prefix, startAfter, token, "", maxKeys)
	if err != nil {
		return domain.ListPage{}, perr.FromObjectStoref(err, "list s3://%s/%s", bucket, prefix)
	}
	page := domain.ListPage{Keys: make([]string, 0, len(res.Contents))}
	for _, obj := range res.Contents {
		page.Keys = append(page.Keys, obj.Key)
	}
	if res.IsTruncated {
		page.NextToken = res.NextContinuationToken
	}
	return page, nil
}

// Get opens an object. The first read is forced through Stat so missing keys
// and auth errors surface here rather than on the first Read
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.core.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, perr.FromObjectStoref(err, "get s3://%s/%s", bucket, key)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, perr.FromObjectStoref(err, "get s3://%s/%s", bucket, key)
	}
	return obj, nil
}

// Put uploads body in one request
func (c *Client) Put(ctx context.Context, bucket, key string, body []byte, opts domain.PutOptions) error {
	po := minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
	}
	if opts.ACL != "" {
		po.UserMetadata = map[string]string{aclHeader: opts.ACL}
	}
	_, err := c.core.Client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), po)
	return perr.FromObjectStoref(err, "put s3://%s/%s", bucket, key)
}

// Delete removes an object; deleting a missing key is not an error on S3
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	err := c.core.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	return perr.FromObjectStoref(err, "delete s3://%s/%s", bucket, key)
}

// EnsureBucket creates bucket when missing; used by local setups and tests
func (c *Client) EnsureBucket(ctx context.Context, bucket, region string) error {
	ok, err := c.core.Client.BucketExists(ctx, bucket)
	if err != nil {
		return perr.FromObjectStoref(err, "stat bucket %s", bucket)
	}
	if ok {
		return nil
	}
	err = c.core.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	return perr.FromObjectStoref(err, "make bucket %s", bucket)
}

// Factory builds independent clients from one Config
type Factory struct {
	Cfg Config
}

// Fresh implements domain.StoreFactory
func (f Factory) Fresh() (domain.ObjectStore, error) {
	return New(f.Cfg)
}
