package redisstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velro/authz-core/internal/domain/audit"
)

const (
	siemStreamKey   = "audit:siem"
	siemStreamMaxLen = 100_000
)

// SIEMSink writes each event onto a capped Redis stream, CEF-headered,
// for downstream SIEM ingestion (spec §4.6's SIEM stream sink). It never
// returns an error the pipeline would treat as fatal to the batch: a
// single write failure is logged upstream by the pipeline and the batch
// continues to the next sink, per the "best-effort, at-least-one-success"
// rule.
type SIEMSink struct {
	client *redis.Client
}

func NewSIEMSink(client *redis.Client) *SIEMSink {
	return &SIEMSink{client: client}
}

var _ audit.Sink = (*SIEMSink)(nil)

func (s *SIEMSink) Write(ctx context.Context, event *audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: siemStreamKey,
		MaxLen: siemStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"cef":   event.CEFHeader(),
			"event": payload,
		},
	}).Err()
}

func (s *SIEMSink) Close() error { return nil }

// CorrelationFeed implements audit.CorrelationFeed over two per-key
// sorted sets (score = event unix timestamp) so the background
// correlation rule-set can pull a bounded recent-events window without
// scanning the long-retention store. Every write opportunistically
// trims entries older than retention so the sets stay bounded even
// without a separate sweep.
type CorrelationFeed struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewCorrelationFeed constructs a feed that retains entries for
// retention before they age out of ZRANGEBYSCORE results (and are
// trimmed on the next write to that key).
func NewCorrelationFeed(client *redis.Client, retention time.Duration) *CorrelationFeed {
	return &CorrelationFeed{client: client, retention: retention, now: time.Now}
}

var _ audit.CorrelationFeed = (*CorrelationFeed)(nil)

func principalFeedKey(principalID string) string { return "audit:feed:principal:" + principalID }
func ipFeedKey(ip string) string                  { return "audit:feed:ip:" + ip }

// Record appends event to both its principal's and its network
// address's feeds. Called by the pipeline alongside Sink.Write so the
// correlation feed stays current with every emitted event.
func (f *CorrelationFeed) Record(ctx context.Context, event *audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	score := float64(event.Timestamp.Unix())
	cutoff := float64(f.now().Add(-f.retention).Unix())

	if event.PrincipalID != "" {
		key := principalFeedKey(event.PrincipalID)
		if err := f.client.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return err
		}
		f.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 0, 64))
	}
	if event.NetworkAddr != "" {
		key := ipFeedKey(event.NetworkAddr)
		if err := f.client.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return err
		}
		f.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 0, 64))
	}
	return nil
}

func (f *CorrelationFeed) RecentByPrincipal(ctx context.Context, principalID string, window int64) ([]*audit.Event, error) {
	return f.recent(ctx, principalFeedKey(principalID), window)
}

func (f *CorrelationFeed) RecentByIP(ctx context.Context, ip string, window int64) ([]*audit.Event, error) {
	return f.recent(ctx, ipFeedKey(ip), window)
}

func (f *CorrelationFeed) recent(ctx context.Context, key string, window int64) ([]*audit.Event, error) {
	min := strconv.FormatFloat(float64(f.now().Unix()-window), 'f', 0, 64)
	members, err := f.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	events := make([]*audit.Event, 0, len(members))
	for _, m := range members {
		var event audit.Event
		if err := json.Unmarshal([]byte(m), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}
