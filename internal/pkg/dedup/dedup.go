package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "automater:dedup:submit:"

// SubmissionGuard 基于 Redis SetNX 的提交去重：同一商品 URL
// 在窗口期内只允许发起一次采集。nil guard 表示去重关闭。
type SubmissionGuard struct {
	rdb    *redis.Client
	window time.Duration
}

// NewSubmissionGuard 创建提交去重器。window 非正时默认一小时。
func NewSubmissionGuard(rdb *redis.Client, window time.Duration) *SubmissionGuard {
	if window <= 0 {
		window = time.Hour
	}
	return &SubmissionGuard{
		rdb:    rdb,
		window: window,
	}
}

// Claim 尝试占用该 URL 的提交名额。返回 false 表示窗口期内已提交过。
func (g *SubmissionGuard) Claim(ctx context.Context, url string) (bool, error) {
	if g == nil || g.rdb == nil || strings.TrimSpace(url) == "" {
		return true, nil
	}
	key := keyPrefix + hashURL(url)
	ok, err := g.rdb.SetNX(ctx, key, "1", g.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Release 释放该 URL 的名额，提交失败后调用以允许立即重试。
func (g *SubmissionGuard) Release(ctx context.Context, url string) error {
	if g == nil || g.rdb == nil || strings.TrimSpace(url) == "" {
		return nil
	}
	key := keyPrefix + hashURL(url)
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}
