package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/showcase/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	// QueueRenderListing holds webhook jobs whose props are assembled but not rendered.
	QueueRenderListing = "queue:render_listing"

	listingLockPrefix = "lock:listing_render:"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	ListingID string             `json:"listing_id"`
	Props     *models.VideoProps `json:"props,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueuePrepared records a webhook job for later rendering.
func (q *Queue) EnqueuePrepared(ctx context.Context, job *models.RenderJob) error {
	return q.Enqueue(ctx, QueueRenderListing, &Job{
		ID:        job.ID,
		Type:      "render_listing",
		ListingID: job.ListingID,
		Props:     job.Props,
	})
}

// PreparedCount returns how many prepared jobs are waiting.
func (q *Queue) PreparedCount(ctx context.Context) (int64, error) {
	return q.GetQueueLength(ctx, QueueRenderListing)
}

// AcquireListingLock takes the per-listing render lock. It returns ok=false
// when another job holds it. The returned release func is safe to call once
// the lock has expired or been taken over.
func (q *Queue) AcquireListingLock(ctx context.Context, listingID string, ttl time.Duration) (release func(), ok bool, err error) {
	key := listingLockPrefix + listingID
	token := uuid.NewString()

	ok, err = q.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire listing lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// The request context may already be done; release on a short fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(rctx, q.client, []string{key}, token)
	}
	return release, true, nil
}
