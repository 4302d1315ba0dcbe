package sink

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/probe"
)

// EndpointID derives a stable UUID from an endpoint name so the same
// endpoint always maps to the same row key across restarts and reloads.
func EndpointID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("uptime-forge/"+name))
}

// Postgres writes one uptime_events row per probe attempt, primary-keyed by
// (endpoint_id, ts).
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ Sink = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Write(ctx context.Context, endpoint string, out probe.Outcome) error {
	var statusCode *int
	if out.StatusCode != 0 {
		v := out.StatusCode
		statusCode = &v
	}
	var errorType, errorMessage *string
	if out.ErrorType != "" {
		v := string(out.ErrorType)
		errorType = &v
	}
	if out.Error != "" {
		v := out.Error
		errorMessage = &v
	}
	latency := int32(math.Round(out.LatencyMS))

	_, err := p.pool.Exec(ctx,
		`INSERT INTO uptime_events (endpoint_id, ts, status_code, success, latency_ms, error_type, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		EndpointID(endpoint).String(), out.CheckedAt, statusCode, out.Success, latency, errorType, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert uptime event: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
