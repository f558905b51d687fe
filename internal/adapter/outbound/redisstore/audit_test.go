package redisstore

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	redismock "github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/velro/authz-core/internal/domain/audit"
)

func formatCutoff(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}

func testEvent() *audit.Event {
	return audit.NewEvent("a1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "u1", "granted")
}

func TestSIEMSink_WriteAppendsToStream(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewSIEMSink(client)
	event := testEvent()
	event.NetworkAddr = "203.0.113.5"

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: siemStreamKey,
		MaxLen: siemStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"cef":   event.CEFHeader(),
			"event": payload,
		},
	}).SetVal("1-1")

	if err := sink.Write(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCorrelationFeed_RecordAndRecentByPrincipal(t *testing.T) {
	client, mock := redismock.NewClientMock()
	fixed := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	feed := NewCorrelationFeed(client, time.Hour)
	feed.now = func() time.Time { return fixed }

	event := testEvent()
	event.PrincipalID = "u1"
	event.NetworkAddr = "203.0.113.5"
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	principalKey := principalFeedKey("u1")
	ipKey := ipFeedKey("203.0.113.5")

	// score = event.Timestamp.Unix() (2026-01-01T00:00:00Z); cutoff =
	// feed.now() - retention, both computed the same way Record does.
	const score = float64(1767225600)
	cutoff := float64(fixed.Add(-time.Hour).Unix())
	cutoffStr := formatCutoff(cutoff)

	mock.ExpectZAdd(principalKey, redis.Z{Score: score, Member: payload}).SetVal(1)
	mock.ExpectZRemRangeByScore(principalKey, "-inf", cutoffStr).SetVal(0)
	mock.ExpectZAdd(ipKey, redis.Z{Score: score, Member: payload}).SetVal(1)
	mock.ExpectZRemRangeByScore(ipKey, "-inf", cutoffStr).SetVal(0)

	if err := feed.Record(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectZRangeByScore(principalKey, &redis.ZRangeBy{
		Min: "1767222600", // fixed - 1h, computed via the same formula the feed uses
		Max: "+inf",
	}).SetVal([]string{string(payload)})

	events, err := feed.RecentByPrincipal(context.Background(), "u1", int64(time.Hour.Seconds()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].AuditID != "a1" {
		t.Fatalf("expected one round-tripped event, got %+v", events)
	}
}
