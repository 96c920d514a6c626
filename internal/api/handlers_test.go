package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bobarin/showcase/internal/db"
	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/pipeline"
	"github.com/bobarin/showcase/internal/services"
	"github.com/google/uuid"
)

type fakeStore struct {
	listings  map[string]*models.Listing
	updateErr error
	updated   map[string]string
	jobs      map[uuid.UUID]*models.RenderJob
}

func (f *fakeStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	if l, ok := f.listings[id]; ok {
		return l, nil
	}
	return nil, errors.New("listing " + id + ": " + db.ErrNotFound.Error())
}

func (f *fakeStore) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return nil, errors.New("profile " + id + " not found")
}

func (f *fakeStore) UpdateListingVideoURL(ctx context.Context, id, videoURL string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[id] = videoURL
	return nil
}

func (f *fakeStore) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	if f.jobs == nil {
		f.jobs = make(map[uuid.UUID]*models.RenderJob)
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) FinishRenderJob(ctx context.Context, id uuid.UUID, status models.RenderJobStatus, videoURL, errorMessage *string) error {
	f.jobs[id].Status = status
	f.jobs[id].VideoURL = videoURL
	return nil
}

func (f *fakeStore) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, db.ErrNotFound
}

// fakeEngine writes a small file instead of running Remotion.
type fakeEngine struct {
	props *models.VideoProps
}

func (f *fakeEngine) Bundle(ctx context.Context) (string, error) { return "bundle", nil }

func (f *fakeEngine) SelectComposition(ctx context.Context, serveURL, id string, props any) (services.Composition, error) {
	return services.Composition{ID: id, DurationInFrames: 90, FPS: 30, Width: 1080, Height: 1920}, nil
}

func (f *fakeEngine) RenderMedia(ctx context.Context, req services.RenderRequest, onProgress services.ProgressFunc) error {
	f.props = req.Props.(*models.VideoProps)
	onProgress(90, 90)
	return os.WriteFile(req.OutputPath, []byte("mp4"), 0644)
}

type fakeObjectStore struct{}

func (fakeObjectStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	return nil
}

func (fakeObjectStore) GetPublicURL(objectPath string) string {
	return "https://project.supabase.co/storage/v1/object/public/listing-videos/" + objectPath
}

type testEnv struct {
	store  *fakeStore
	engine *fakeEngine
	router http.Handler
}

func newTestEnv(t *testing.T, cfg RouterConfig) *testEnv {
	t.Helper()

	store := &fakeStore{listings: map[string]*models.Listing{}}
	engine := &fakeEngine{}

	svc := pipeline.NewService(
		store,
		services.NewDescriptionGenerator(nil, time.Second),
		pipeline.NewOrchestrator(engine, pipeline.RenderConfig{
			CompositionID: "ListingShowcase",
			TempDir:       t.TempDir(),
			Concurrency:   0.5,
			Timeout:       time.Minute,
		}),
		pipeline.NewPublisher(fakeObjectStore{}, store, time.Minute),
		pipeline.Options{Jobs: store, LogoURL: pipeline.LogoURL("")},
	)

	h := NewHandler(svc, store, nil, HandlerConfig{
		Checks: map[string]bool{"database": true, "openaiKey": false},
	})

	return &testEnv{store: store, engine: engine, router: NewRouter(h, cfg)}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
	}
	return body
}

func TestRenderVideoMissingListing(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	rr := env.do(http.MethodPost, "/api/render-video", `{"listingId":"abc"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}

	body := decode(t, rr)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "abc") {
		t.Errorf("error %q should mention the listing id", msg)
	}
	if _, ok := body["renderTime"].(float64); !ok {
		t.Errorf("renderTime missing: %v", body)
	}
	if _, ok := body["stack"]; !ok {
		t.Error("stack should be included outside production")
	}
}

func TestRenderVideoInlineData(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	payload := `{"listingData":{"id":"inline-1","title":"Silver Eagle","user_id":"u1",
		"images":["https://cdn.test/1.jpg","https://cdn.test/2.jpg"],
		"specifications":{"category":"Coins","purity":".999","year":"2024","weight":1}}}`

	rr := env.do(http.MethodPost, "/api/render-video", payload, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.RenderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.ListingID != "inline-1" {
		t.Errorf("response = %+v", resp)
	}
	if !strings.HasPrefix(resp.VideoURL, "https://") || !strings.Contains(resp.VideoURL, "listing-videos/inline-1/") {
		t.Errorf("videoUrl = %q", resp.VideoURL)
	}

	props := env.engine.props
	if props == nil {
		t.Fatal("engine did not receive props")
	}
	if n := utf8.RuneCountInString(props.Description); n > 120 {
		t.Errorf("description length = %d, want <= 120", n)
	}
	if !strings.HasPrefix(props.Description, "Struck in 2024 at .999 purity") {
		t.Errorf("description = %q, want purity+year fallback", props.Description)
	}
	if props.SellerName != models.DefaultProfileFullName {
		t.Errorf("seller = %q, want default profile name", props.SellerName)
	}
	if p, y := props.Specifications.Purity, props.Specifications.Year; p == nil || *p != ".999" || y == nil || *y != "2024" {
		t.Errorf("purity/year not carried into props: %+v", props.Specifications)
	}
	if len(props.Images) != 2 {
		t.Errorf("images = %v, want 2", props.Images)
	}
	if w := props.Specifications.Weight; w == nil || *w != "1 oz" {
		t.Errorf("weight = %v, want 1 oz", w)
	}
	if env.store.updated["inline-1"] != resp.VideoURL {
		t.Errorf("listing video_url not updated")
	}
}

func TestRenderVideoUpdateFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})
	env.store.updateErr = errors.New("connection reset")
	env.store.listings["l-1"] = &models.Listing{ID: "l-1", Title: "Gold Bar", UserID: "u1", Status: models.ListingStatusActive}

	rr := env.do(http.MethodPost, "/api/render-video", `{"listingId":"l-1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["success"] != true || body["videoUrl"] == "" {
		t.Errorf("body = %v", body)
	}

	var recorded bool
	for _, job := range env.store.jobs {
		if job.ListingID == "l-1" && job.Status == models.RenderJobStatusSucceeded {
			recorded = true
		}
	}
	if !recorded {
		t.Error("render job should be recorded as succeeded")
	}
}

func TestRenderVideoBadRequests(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"neither id nor data", http.MethodPost, `{}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, ``, http.StatusBadRequest},
		{"malformed json", http.MethodPost, `{"listingId":`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.method, "/api/render-video", tt.body, nil)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			body := decode(t, rr)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestListingWebhook(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  int
		message string
		reason  string
	}{
		{
			name:    "draft listing is skipped",
			payload: `{"type":"INSERT","table":"listings","record":{"id":"x1","title":"Coin","user_id":"u1","status":"draft"}}`,
			status:  http.StatusOK,
			message: "Webhook skipped",
			reason:  "not active",
		},
		{
			name:    "update event is skipped",
			payload: `{"type":"UPDATE","table":"listings","record":{"id":"x1"}}`,
			status:  http.StatusOK,
			message: "Webhook skipped",
			reason:  "not INSERT",
		},
		{
			name:    "missing title",
			payload: `{"type":"INSERT","table":"listings","record":{"id":"x1","user_id":"u1","status":"active"}}`,
			status:  http.StatusBadRequest,
		},
		{
			name:    "active listing is prepared",
			payload: `{"type":"INSERT","table":"listings","record":{"id":"x1","title":"Coin","user_id":"u1","status":"active"}}`,
			status:  http.StatusOK,
			message: "Video job prepared",
		},
		{
			name:    "malformed payload",
			payload: `not json`,
			status:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, RouterConfig{})

			rr := env.do(http.MethodPost, "/api/webhooks/listing-created", tt.payload, nil)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.status, rr.Body.String())
			}

			if tt.message != "Video job prepared" && len(env.store.jobs) != 0 {
				t.Errorf("%d jobs recorded for an event that should short-circuit", len(env.store.jobs))
			}

			body := decode(t, rr)
			if tt.status != http.StatusOK {
				if body["success"] != false {
					t.Errorf("success = %v, want false", body["success"])
				}
				return
			}
			if body["success"] != true || body["message"] != tt.message {
				t.Errorf("body = %v", body)
			}
			if reason, _ := body["reason"].(string); !strings.Contains(reason, tt.reason) {
				t.Errorf("reason %q should contain %q", reason, tt.reason)
			}
			if env.engine.props != nil {
				t.Error("webhook must never render")
			}
		})
	}
}

func TestPreparedJobIsReadable(t *testing.T) {
	env := newTestEnv(t, RouterConfig{})

	rr := env.do(http.MethodPost, "/api/webhooks/listing-created",
		`{"type":"INSERT","table":"listings","record":{"id":"x1","title":"Coin","user_id":"u1","status":"active"}}`, nil)
	var resp models.WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Job == nil {
		t.Fatalf("decode: %v, %s", err, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/api/render-jobs/"+resp.Job.ID.String(), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decode(t, rr)
	if body["status"] != string(models.RenderJobStatusPrepared) {
		t.Errorf("status = %v, want prepared", body["status"])
	}

	if rr := env.do(http.MethodGet, "/api/render-jobs/"+uuid.NewString(), "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/render-jobs/not-a-uuid", "", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, RouterConfig{BackendAPIKey: "k3y", WebhookSecret: "s3cret"})

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"render without key", "/api/render-video", nil, http.StatusUnauthorized},
		{"render with wrong key", "/api/render-video", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"render with key", "/api/render-video", map[string]string{"X-API-Key": "k3y"}, http.StatusBadRequest},
		{"render with bearer", "/api/render-video", map[string]string{"Authorization": "Bearer k3y"}, http.StatusBadRequest},
		{"webhook without secret", "/api/webhooks/listing-created", nil, http.StatusUnauthorized},
		{"webhook with api key only", "/api/webhooks/listing-created", map[string]string{"X-API-Key": "k3y"}, http.StatusUnauthorized},
		{"webhook with secret", "/api/webhooks/listing-created", map[string]string{"X-Webhook-Secret": "s3cret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{}`
			if strings.Contains(tt.path, "webhooks") {
				body = `{"type":"DELETE","table":"listings"}`
			}
			if rr := env.do(http.MethodPost, tt.path, body, tt.headers); rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}

	if rr := env.do(http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rr.Code)
	}
}

type fakeCounter struct{ n int64 }

func (f fakeCounter) PreparedCount(ctx context.Context) (int64, error) { return f.n, nil }

func TestHealth(t *testing.T) {
	h := NewHandler(nil, nil, fakeCounter{n: 3}, HandlerConfig{
		Checks: map[string]bool{"database": true, "supabaseServiceKey": true, "openaiKey": false},
	})
	router := NewRouter(h, RouterConfig{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp models.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Service != serviceName {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Config["database"] || resp.Config["openaiKey"] {
		t.Errorf("config = %v", resp.Config)
	}
	if resp.PreparedJobs == nil || *resp.PreparedJobs != 3 {
		t.Errorf("preparedJobs = %v, want 3", resp.PreparedJobs)
	}
}
