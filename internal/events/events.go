// Package events publishes ingestion events on Redis pub/sub for the
// Gateway and the other jobmate services.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/ingestion-service/internal/model"
)

// ChannelJobsIngested carries one message per finished run that saved at
// least one posting.
const ChannelJobsIngested = "EVENT_JOBS_INGESTED"

// JobsIngested is the payload published on ChannelJobsIngested.
type JobsIngested struct {
	Type       string         `json:"type"`
	RunID      string         `json:"runId"`
	Source     string         `json:"dataSource"`
	Saved      int            `json:"saved"`
	Countries  map[string]int `json:"countries"`
	FinishedAt time.Time      `json:"finishedAt"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher sends events through a Redis client.
type Publisher struct {
	rdb redisPublisher
}

// NewPublisher wraps rdb.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// RunFinished publishes EVENT_JOBS_INGESTED for sum (non-fatal). Runs that
// saved nothing are not announced.
func (p *Publisher) RunFinished(ctx context.Context, sum *model.RunSummary) {
	if sum == nil || sum.Saved == 0 {
		return
	}
	event, _ := json.Marshal(jobsIngested(sum))
	if err := p.rdb.Publish(ctx, ChannelJobsIngested, event).Err(); err != nil {
		slog.Warn("publish EVENT_JOBS_INGESTED failed", "run_id", sum.RunID, "err", err)
	}
}

func jobsIngested(sum *model.RunSummary) JobsIngested {
	perCountry := make(map[string]int)
	for _, c := range sum.Countries {
		if c.Result != nil && c.Result.Saved > 0 {
			perCountry[c.Country] = c.Result.Saved
		}
	}
	return JobsIngested{
		Type:       ChannelJobsIngested,
		RunID:      sum.RunID,
		Source:     string(sum.Source),
		Saved:      sum.Saved,
		Countries:  perCountry,
		FinishedAt: sum.FinishedAt,
	}
}
