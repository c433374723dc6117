package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PubSubChannel 推送网关订阅的频道，承载所有通知
const PubSubChannel = "postcard:notifications"

// RedisSink 按用户维护定长收件箱列表，并发布每条事件
type RedisSink struct {
	rdb         *redis.Client
	inboxLength int64
}

func NewRedisSink(rdb *redis.Client, inboxLength int64) *RedisSink {
	if inboxLength <= 0 {
		inboxLength = 200
	}
	return &RedisSink{rdb: rdb, inboxLength: inboxLength}
}

func InboxKey(userID string) string { return fmt.Sprintf("notifications:%s", userID) }

func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := InboxKey(n.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.inboxLength-1)
	pipe.Publish(ctx, PubSubChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis deliver: %w", err)
	}
	return nil
}
