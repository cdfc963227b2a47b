package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/pkg/domain"
	"ghazal/pkg/queue"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
)

const (
	MaxTextLength    = 100000
	MaxSegmentLength = 4000
	maxTitleLength   = 200

	defaultVoice       = "alloy"
	defaultConcurrency = 4
	defaultAudioURLTTL = time.Hour
)

// Enqueuer schedules generation of an audiobook by id.
type Enqueuer interface {
	Enqueue(ctx context.Context, ref string) (queue.Job, error)
}

// Config holds runtime configuration for audiobook generation.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Queue       Enqueuer
	Speech      ai.SpeechSynthesizer
	// Concurrency bounds parallel speech requests per audiobook.
	Concurrency int
	AudioURLTTL time.Duration
	Now         func() time.Time
}

// App creates audiobooks and renders them in the worker.
type App struct {
	store       store.Store
	objects     storage.ObjectStore
	queue       Enqueuer
	speech      ai.SpeechSynthesizer
	concurrency int
	audioURLTTL time.Duration
	now         func() time.Time
}

// Caller is the authenticated user for ownership checks.
type Caller struct {
	UserID string
	Admin  bool
}

// CreateInput is the request to narrate text.
type CreateInput struct {
	Title string
	Text  string
	Voice string
}

// New constructs the application. Store falls back to Postgres at DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	ttl := cfg.AudioURLTTL
	if ttl <= 0 {
		ttl = defaultAudioURLTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:       dataStore,
		objects:     cfg.Objects,
		queue:       cfg.Queue,
		speech:      cfg.Speech,
		concurrency: concurrency,
		audioURLTTL: ttl,
		now:         now,
	}, nil
}

func sourceKey(id string) string { return "audiobooks/" + id + "/source.txt" }
func audioKey(id string) string  { return "audiobooks/" + id + "/audio.mp3" }

// Create stores the source text, records a queued audiobook and enqueues
// its generation.
func (a *App) Create(ctx context.Context, caller Caller, in CreateInput) (domain.Audiobook, error) {
	if a.queue == nil {
		return domain.Audiobook{}, errors.New("audiobook queue not configured")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.Audiobook{}, ErrTextRequired
	}
	chars := utf8.RuneCountInString(text)
	if chars > MaxTextLength {
		return domain.Audiobook{}, fmt.Errorf("%w: at most %d characters", ErrTextTooLong, MaxTextLength)
	}
	voice := strings.ToLower(strings.TrimSpace(in.Voice))
	if voice == "" {
		voice = defaultVoice
	}
	if !ai.ValidVoice(voice) {
		return domain.Audiobook{}, fmt.Errorf("%w %q (one of %s)", ErrInvalidVoice, voice, strings.Join(ai.Voices, ", "))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled audiobook"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return domain.Audiobook{}, ErrTitleTooLong
	}

	now := a.now()
	book := domain.Audiobook{
		ID:         util.NewID(),
		OwnerID:    caller.UserID,
		Title:      title,
		Voice:      voice,
		Status:     domain.AudiobookQueued,
		Characters: chars,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	book.SourceKey = sourceKey(book.ID)
	if err := a.objects.Put(ctx, book.SourceKey, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return domain.Audiobook{}, fmt.Errorf("store source text: %w", err)
	}
	if err := a.store.SaveAudiobook(book); err != nil {
		return domain.Audiobook{}, fmt.Errorf("save audiobook: %w", err)
	}
	job, err := a.queue.Enqueue(ctx, book.ID)
	if err != nil {
		a.markFailed(book.ID, "could not be queued")
		return domain.Audiobook{}, fmt.Errorf("enqueue audiobook: %w", err)
	}
	util.LoggerFromContext(ctx).Info("audiobook queued", "audiobook_id", book.ID, "job_id", job.ID, "characters", chars, "voice", voice)
	return book, nil
}

// List returns the caller's audiobooks newest first.
func (a *App) List(caller Caller) ([]domain.Audiobook, error) {
	books, err := a.store.ListAudiobooksByOwner(caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks: %w", err)
	}
	return books, nil
}

// Get returns an audiobook visible to caller, with a presigned audioUrl
// once it is ready.
func (a *App) Get(ctx context.Context, caller Caller, id string) (domain.Audiobook, error) {
	book, err := a.visible(caller, id)
	if err != nil {
		return domain.Audiobook{}, err
	}
	if book.Status == domain.AudiobookReady && book.AudioKey != "" {
		url, err := a.objects.PresignGet(ctx, book.AudioKey, a.audioURLTTL, downloadName(book.Title))
		if err != nil {
			return domain.Audiobook{}, fmt.Errorf("presign audio: %w", err)
		}
		book.AudioURL = url
	}
	return book, nil
}

// AudioURL returns a presigned download link for a ready audiobook.
func (a *App) AudioURL(ctx context.Context, caller Caller, id string) (string, error) {
	book, err := a.visible(caller, id)
	if err != nil {
		return "", err
	}
	if book.Status != domain.AudiobookReady || book.AudioKey == "" {
		return "", ErrNotReady
	}
	url, err := a.objects.PresignGet(ctx, book.AudioKey, a.audioURLTTL, downloadName(book.Title))
	if err != nil {
		return "", fmt.Errorf("presign audio: %w", err)
	}
	return url, nil
}

// Delete removes the record and its objects.
func (a *App) Delete(ctx context.Context, caller Caller, id string) error {
	book, err := a.visible(caller, id)
	if err != nil {
		return err
	}
	for _, key := range []string{book.SourceKey, book.AudioKey} {
		if key == "" {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("delete object: %w", err)
		}
	}
	if err := a.store.DeleteAudiobook(book.ID); err != nil {
		return fmt.Errorf("delete audiobook: %w", err)
	}
	return nil
}

func (a *App) visible(caller Caller, id string) (domain.Audiobook, error) {
	book, ok, err := a.store.GetAudiobook(strings.TrimSpace(id))
	if err != nil {
		return domain.Audiobook{}, fmt.Errorf("fetch audiobook: %w", err)
	}
	if !ok || (book.OwnerID != caller.UserID && !caller.Admin) {
		return domain.Audiobook{}, ErrNotFound
	}
	return book, nil
}

// Process renders one audiobook. It is the queue handler; a returned error
// is retried by the queue.
func (a *App) Process(ctx context.Context, job queue.Job) error {
	if a.speech == nil {
		return errors.New("speech synthesizer not configured")
	}
	book, ok, err := a.store.GetAudiobook(job.Ref)
	if err != nil {
		return fmt.Errorf("fetch audiobook: %w", err)
	}
	if !ok || book.Status == domain.AudiobookReady {
		return nil
	}
	logger := slog.With("audiobook_id", book.ID, "job_id", job.ID, "attempt", job.Attempts)
	if err := a.update(book.ID, store.AudiobookPatch{Status: ptr(domain.AudiobookProcessing)}); err != nil {
		return err
	}

	text, err := a.readSource(ctx, book.SourceKey)
	if err != nil {
		return err
	}
	segments := SplitSegments(text, MaxSegmentLength)
	if len(segments) == 0 {
		return ErrTextRequired
	}
	audio, err := a.synthesize(ctx, segments, book.Voice)
	if err != nil {
		return err
	}
	key := audioKey(book.ID)
	if err := a.objects.Put(ctx, key, bytes.NewReader(audio), int64(len(audio)), "audio/mpeg"); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	n := len(segments)
	if err := a.update(book.ID, store.AudiobookPatch{
		Status:       ptr(domain.AudiobookReady),
		ErrorMessage: ptr(""),
		AudioKey:     &key,
		Segments:     &n,
	}); err != nil {
		return err
	}
	logger.Info("audiobook ready", "segments", n, "bytes", len(audio))
	return nil
}

// OnFailed marks the audiobook failed once the queue gives up on it.
func (a *App) OnFailed(_ context.Context, job queue.Job, err error) {
	msg := "generation failed"
	if err != nil {
		msg = err.Error()
	}
	a.markFailed(job.Ref, msg)
}

func (a *App) markFailed(id, msg string) {
	if err := a.update(id, store.AudiobookPatch{Status: ptr(domain.AudiobookFailed), ErrorMessage: &msg}); err != nil {
		slog.Error("mark audiobook failed", "audiobook_id", id, "err", err)
	}
}

func (a *App) update(id string, patch store.AudiobookPatch) error {
	if err := a.store.UpdateAudiobook(id, patch); err != nil {
		return fmt.Errorf("update audiobook: %w", err)
	}
	return nil
}

func (a *App) readSource(ctx context.Context, key string) (string, error) {
	rc, err := a.objects.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read source text: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read source text: %w", err)
	}
	return string(data), nil
}

// synthesize renders segments with bounded concurrency and joins the mp3
// frames in segment order.
func (a *App) synthesize(ctx context.Context, segments []string, voice string) ([]byte, error) {
	parts := make([][]byte, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, seg := range segments {
		g.Go(func() error {
			audio, err := a.speech.Synthesize(gctx, seg, voice)
			if err != nil {
				return fmt.Errorf("synthesize segment %d: %w", i+1, err)
			}
			parts[i] = audio
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bytes.Join(parts, nil), nil
}

func downloadName(title string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '"' || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "audiobook"
	}
	return name + ".mp3"
}

func ptr[T any](v T) *T { return &v }
