package audit

import "context"

// Sink is one of the four fan-out destinations of spec §4.6: structured
// log, SIEM stream, short-retention stream, long-retention store. Every
// sink is best-effort; a sink failure never denies authorization.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
}

// Filter narrows a Query by any combination of fields; zero values mean
// "don't filter on this field".
type Filter struct {
	PrincipalID string
	ResourceID  string
	Outcome     string
	Since       int64 // unix seconds, 0 = unbounded
	Until       int64 // unix seconds, 0 = unbounded
}

// Page is a cursor-paginated slice of a query result, mirroring the
// teacher's query-store pagination shape.
type Page struct {
	Events     []*Event
	NextCursor string
}

// QueryStore is the long-retention store's read side: lookups by audit
// id and filtered, paginated search by date.
type QueryStore interface {
	Get(ctx context.Context, auditID string) (*Event, bool, error)
	Query(ctx context.Context, filter Filter, cursor string, limit int) (Page, error)
}

// CorrelationFeed is consumed by the background correlation rule-set: a
// bounded recent-events view sufficient to evaluate the thresholds of
// spec §4.6 without scanning the full long-retention store.
type CorrelationFeed interface {
	RecentByPrincipal(ctx context.Context, principalID string, window int64) ([]*Event, error)
	RecentByIP(ctx context.Context, ip string, window int64) ([]*Event, error)
}
