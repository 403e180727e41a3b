// Package widget is the entry point of the feedback toolkit. An embedding
// application constructs one Widget, keeps it for its own lifetime, and routes
// user feedback through Submit; the widget decides between immediate delivery
// and durable queuing, and drains the queue as connectivity allows.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"feedback-widget/internal/capture"
	"feedback-widget/internal/connectivity"
	"feedback-widget/internal/contextprobe"
	"feedback-widget/internal/kv"
	"feedback-widget/internal/models"
	"feedback-widget/internal/queuestore"
	"feedback-widget/internal/syncer"
	"feedback-widget/internal/transport"
)

// Version identifies the toolkit build; stamped onto every submission.
const Version = "1.4.0"

var (
	// ErrSubmitInFlight is returned when Submit is called before a prior
	// Submit on the same widget has settled.
	ErrSubmitInFlight = errors.New("widget: a submission is already in flight")
	// ErrClosed is returned for operations on a destroyed widget.
	ErrClosed = errors.New("widget: closed")
)

// ConfigError reports a missing or invalid required configuration field.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("widget: configuration error: %s is required", e.Field)
}

// Config carries everything a Widget needs. ProjectID and APIKey are required;
// everything else has a usable default.
type Config struct {
	ProjectID string
	APIKey    string
	// APIURL overrides the hosted collection endpoint.
	APIURL string

	// UserName and UserEmail pre-fill submitter identity on every submission.
	UserName  string
	UserEmail string
	// CustomContext entries are merged into every submission's context.
	CustomContext map[string]string

	// MaxRetries bounds delivery attempts per queued record. Default 3.
	MaxRetries int
	// SyncPacing is the pause between records during a drain pass.
	// Default 250ms; negative disables pacing.
	SyncPacing time.Duration
	// SettleDelay is the wait after connectivity recovery before syncing.
	SettleDelay time.Duration
	// HTTPTimeout bounds each transport call.
	HTTPTimeout time.Duration

	// StorePath is a SQLite file for the offline queue. Empty means the queue
	// lives in memory only. Store, when set, wins over StorePath.
	StorePath string
	Store     kv.KV

	// Capturer supplies platform screenshot capture; nil means unsupported.
	Capturer capture.ScreenCapturer
	// Prober overrides the default runtime context probe.
	Prober contextprobe.Prober
	// Logger receives structured diagnostics; nil disables logging.
	Logger *zerolog.Logger

	// Lifecycle callbacks. Optional, side-effect-only.
	OnSubmitStart   func()
	OnSubmitSuccess func(feedbackID string)
	OnSubmitError   func(err error)
}

// Feedback is one user-authored report handed to Submit.
type Feedback struct {
	Type        string
	Priority    string
	Title       string
	Description string
	// Name and Email override the configured submitter identity.
	Name  string
	Email string
	// CaptureScreen requests a screenshot when the platform supports it.
	CaptureScreen bool
}

// Response is the outcome of Submit. Queued success means the report was
// durably stored for later delivery and FeedbackID is its queue identifier,
// not an endpoint-assigned id.
type Response struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
	Queued     bool   `json:"queued,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Widget coordinates the transport, queue store, sync engine, and connectivity
// monitor. One per running application, explicitly owned by the host.
type Widget struct {
	cfg       Config
	log       zerolog.Logger
	transport *transport.Client
	store     kv.KV
	queue     *queuestore.Store
	engine    *syncer.Engine
	monitor   *connectivity.Monitor
	prober    contextprobe.Prober
	capturer  capture.ScreenCapturer

	inFlight atomic.Bool
	closed   atomic.Bool

	ctxMu  sync.Mutex
	custom map[string]string
}

// New validates cfg, wires the collaborators, and returns a ready Widget.
func New(ctx context.Context, cfg Config) (*Widget, error) {
	if cfg.ProjectID == "" {
		return nil, &ConfigError{Field: "ProjectID"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "APIKey"}
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	client := transport.New(transport.Options{
		BaseURL:   cfg.APIURL,
		ProjectID: cfg.ProjectID,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.HTTPTimeout,
		Logger:    log,
	})

	store := cfg.Store
	if store == nil {
		if cfg.StorePath != "" {
			var err error
			store, err = kv.OpenSQLite(cfg.StorePath)
			if err != nil {
				return nil, fmt.Errorf("open offline store: %w", err)
			}
		} else {
			store = kv.NewMemory()
		}
	}

	prober := cfg.Prober
	if prober == nil {
		prober = contextprobe.Runtime{}
	}
	capturer := cfg.Capturer
	if capturer == nil {
		capturer = capture.Unsupported{}
	}

	w := &Widget{
		cfg:       cfg,
		log:       log.With().Str("component", "widget").Logger(),
		transport: client,
		store:     store,
		prober:    prober,
		capturer:  capturer,
		custom:    cloneStrings(cfg.CustomContext),
	}

	w.queue = queuestore.New(store, log)
	w.engine = syncer.New(syncer.Options{
		Store:      w.queue,
		MaxRetries: cfg.MaxRetries,
		Pacing:     cfg.SyncPacing,
		Online:     w.IsOnline,
		Observer: syncer.Observer{
			OnSynced: func(rec models.QueuedSubmission) {
				if cfg.OnSubmitSuccess != nil {
					cfg.OnSubmitSuccess(rec.ID)
				}
			},
			OnFailed: func(rec models.QueuedSubmission, err error) {
				if cfg.OnSubmitError != nil {
					cfg.OnSubmitError(err)
				}
			},
		},
		Logger: log,
	})
	w.engine.SetDelivery(w.deliver)

	w.monitor = connectivity.New(ctx, connectivity.Options{
		Probe:       connectivity.ProbeFunc(client.Ping),
		SettleDelay: cfg.SettleDelay,
		OnSync:      func() { w.engine.Sync(context.Background()) },
		Logger:      log,
	})

	w.log.Info().Str("project", cfg.ProjectID).Str("endpoint", client.BaseURL()).Msg("widget initialized")
	return w, nil
}

// deliver is the delivery function the sync engine drains through: the same
// transport path as direct submission, plus the best-effort screenshot upload.
func (w *Widget) deliver(ctx context.Context, rec models.QueuedSubmission) error {
	id, err := w.transport.SubmitFeedback(ctx, rec.Submission, rec.ID)
	if err != nil {
		return err
	}
	w.uploadScreenshot(ctx, id, rec.ScreenshotRef)
	return nil
}

// uploadScreenshot is best-effort: a failure is logged and never reverses the
// already-successful submission.
func (w *Widget) uploadScreenshot(ctx context.Context, feedbackID, ref string) {
	if ref == "" {
		return
	}
	if err := w.transport.UploadScreenshot(ctx, feedbackID, ref); err != nil {
		w.log.Warn().Err(err).Str("feedback_id", feedbackID).Msg("screenshot upload failed")
	}
}

// Submit routes one feedback report: immediate delivery when online, durable
// queuing when offline or when delivery fails for network reasons. Unclassified
// delivery failures surface to the caller and are never queued.
func (w *Widget) Submit(ctx context.Context, fb Feedback) (Response, error) {
	if w.closed.Load() {
		return Response{Error: ErrClosed.Error()}, ErrClosed
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		return Response{Error: ErrSubmitInFlight.Error()}, ErrSubmitInFlight
	}
	defer w.inFlight.Store(false)

	if w.cfg.OnSubmitStart != nil {
		w.cfg.OnSubmitStart()
	}

	sub := w.buildSubmission(ctx, fb)

	var screenshotRef string
	if fb.CaptureScreen && w.capturer.Supported() {
		ref, err := w.capturer.Capture(ctx)
		if err != nil {
			w.log.Warn().Err(err).Msg("screenshot capture failed")
		} else {
			screenshotRef = ref
		}
	}

	if !w.monitor.Online() {
		return w.enqueue(ctx, sub, screenshotRef)
	}

	id, err := w.transport.SubmitFeedback(ctx, sub, "")
	if err == nil {
		w.uploadScreenshot(ctx, id, screenshotRef)
		if w.cfg.OnSubmitSuccess != nil {
			w.cfg.OnSubmitSuccess(id)
		}
		return Response{Success: true, FeedbackID: id}, nil
	}

	if transport.IsNetwork(err) {
		w.log.Info().Err(err).Msg("delivery failed with network error, queuing")
		w.monitor.NotifyNetworkChange(false)
		return w.enqueue(ctx, sub, screenshotRef)
	}

	w.log.Error().Err(err).Msg("submission rejected")
	if w.cfg.OnSubmitError != nil {
		w.cfg.OnSubmitError(err)
	}
	return Response{Error: err.Error()}, err
}

// enqueue stores the submission for later delivery. The user-facing flow still
// succeeds: the response carries the queue identifier and the Queued marker.
func (w *Widget) enqueue(ctx context.Context, sub models.Submission, screenshotRef string) (Response, error) {
	id, err := w.engine.Enqueue(ctx, sub, screenshotRef)
	if err != nil {
		if w.cfg.OnSubmitError != nil {
			w.cfg.OnSubmitError(err)
		}
		return Response{Error: err.Error()}, err
	}
	if w.cfg.OnSubmitSuccess != nil {
		w.cfg.OnSubmitSuccess(id)
	}
	return Response{Success: true, FeedbackID: id, Queued: true}, nil
}

func (w *Widget) buildSubmission(ctx context.Context, fb Feedback) models.Submission {
	name := fb.Name
	if name == "" {
		name = w.cfg.UserName
	}
	email := fb.Email
	if email == "" {
		email = w.cfg.UserEmail
	}
	snap := w.GetContext(ctx)
	return models.Submission{
		Type:           fb.Type,
		Priority:       fb.Priority,
		Title:          fb.Title,
		Description:    fb.Description,
		SubmitterName:  name,
		SubmitterEmail: email,
		WidgetVersion:  Version,
		Context:        &snap,
	}
}

// SyncOffline drains the offline queue once.
func (w *Widget) SyncOffline(ctx context.Context) syncer.Report {
	if w.closed.Load() {
		return syncer.Report{}
	}
	return w.engine.Sync(ctx)
}

// PendingCount reports how many submissions wait in the offline queue.
func (w *Widget) PendingCount(ctx context.Context) int {
	return w.engine.PendingCount(ctx)
}

// IsOnline reports the connectivity monitor's current flag.
func (w *Widget) IsOnline() bool {
	return w.monitor.Online()
}

// SetContext merges entries into the custom context attached to submissions.
func (w *Widget) SetContext(custom map[string]string) {
	w.ctxMu.Lock()
	defer w.ctxMu.Unlock()
	if w.custom == nil {
		w.custom = make(map[string]string, len(custom))
	}
	for k, v := range custom {
		w.custom[k] = v
	}
}

// GetContext returns the probed snapshot merged with the custom entries.
func (w *Widget) GetContext(ctx context.Context) models.Context {
	snap := w.prober.Context(ctx)
	w.ctxMu.Lock()
	defer w.ctxMu.Unlock()
	if len(w.custom) > 0 {
		merged := cloneStrings(snap.Custom)
		if merged == nil {
			merged = make(map[string]string, len(w.custom))
		}
		for k, v := range w.custom {
			merged[k] = v
		}
		snap.Custom = merged
	}
	return snap
}

// NotifyNetworkChange forwards a platform reachability transition to the
// connectivity monitor.
func (w *Widget) NotifyNetworkChange(online bool) {
	w.monitor.NotifyNetworkChange(online)
}

// NotifyForeground signals that the application returned to the foreground.
func (w *Widget) NotifyForeground() {
	w.monitor.NotifyLifecycle(connectivity.Foreground)
}

// NotifyBackground signals that the application was backgrounded.
func (w *Widget) NotifyBackground() {
	w.monitor.NotifyLifecycle(connectivity.Background)
}

// Close tears the widget down: the monitor's subscriptions are released first
// so no callback can reach a torn-down instance, then the store is closed.
func (w *Widget) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.monitor.Close()
	return w.store.Close()
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
