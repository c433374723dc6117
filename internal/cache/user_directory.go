package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user not found")

// UserDirectory 用户展示信息：进程内缓存 -> redis（可选）-> users 表
type UserDirectory struct {
	users repository.UserRepository
	rdb   *redis.Client
	local *gocache.Cache
	ttl   time.Duration
}

// NewUserDirectory rdb 为 nil 时只用进程内缓存
func NewUserDirectory(users repository.UserRepository, rdb *redis.Client, ttl, localTTL time.Duration) *UserDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &UserDirectory{
		users: users,
		rdb:   rdb,
		local: gocache.New(localTTL, 2*localTTL),
		ttl:   ttl,
	}
}

func userKey(id string) string { return fmt.Sprintf("user:info:%s", id) }

func (d *UserDirectory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.DisplayInfo(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *UserDirectory) DisplayInfo(ctx context.Context, id string) (model.UserInfo, error) {
	infos, err := d.DisplayInfos(ctx, []string{id})
	if err != nil {
		return model.UserInfo{}, err
	}
	info, ok := infos[id]
	if !ok {
		return model.UserInfo{}, ErrUserNotFound
	}
	return info, nil
}

// DisplayInfos 批量查询展示信息；不存在的 id 不出现在结果里
func (d *UserDirectory) DisplayInfos(ctx context.Context, ids []string) (map[string]model.UserInfo, error) {
	out := make(map[string]model.UserInfo, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := d.local.Get(id); ok {
			out[id] = v.(model.UserInfo)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	missing = d.loadFromRedis(ctx, missing, out)
	if len(missing) == 0 {
		return out, nil
	}

	users, err := d.users.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		info := u.Info()
		out[u.ID] = info
		d.store(ctx, info)
	}
	return out, nil
}

func (d *UserDirectory) loadFromRedis(ctx context.Context, ids []string, out map[string]model.UserInfo) []string {
	if d.rdb == nil {
		return ids
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("user cache mget failed", zap.Error(err))
		return ids
	}
	missing := ids[:0:0]
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var info model.UserInfo
		if err := json.Unmarshal([]byte(str), &info); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out[ids[i]] = info
		d.local.SetDefault(ids[i], info)
	}
	return missing
}

func (d *UserDirectory) store(ctx context.Context, info model.UserInfo) {
	d.local.SetDefault(info.ID, info)
	if d.rdb == nil {
		return
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := d.rdb.Set(ctx, userKey(info.ID), payload, d.ttl).Err(); err != nil {
		logger.Warn("user cache set failed", zap.String("user", info.ID), zap.Error(err))
	}
}

// Invalidate 同时清除两层缓存
func (d *UserDirectory) Invalidate(ctx context.Context, id string) error {
	d.local.Delete(id)
	if d.rdb == nil {
		return nil
	}
	return d.rdb.Del(ctx, userKey(id)).Err()
}
