package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ghazal/pkg/domain"
	"ghazal/pkg/queue"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
)

type fakeSpeech struct {
	mu       sync.Mutex
	voices   []string
	inflight atomic.Int32
	peak     atomic.Int32
	failOn   string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	f.voices = append(f.voices, voice)
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("speech upstream failed")
	}
	return []byte("[" + text + "]"), nil
}

type fakeQueue struct {
	refs []string
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, ref string) (queue.Job, error) {
	if f.err != nil {
		return queue.Job{}, f.err
	}
	f.refs = append(f.refs, ref)
	return queue.Job{ID: "job-" + ref, Ref: ref, Status: queue.StatusQueued}, nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	queue   *fakeQueue
	speech  *fakeSpeech
}

func newTestEnv(t *testing.T, concurrency int) testEnv {
	t.Helper()
	env := testEnv{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore("http://objects.test"),
		queue:   &fakeQueue{},
		speech:  &fakeSpeech{},
	}
	a, err := New(Config{
		Store:       env.store,
		Objects:     env.objects,
		Queue:       env.queue,
		Speech:      env.speech,
		Concurrency: concurrency,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

var owner = Caller{UserID: "user-1"}

func TestCreateValidatesInput(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"empty text", CreateInput{Text: "  "}, ErrTextRequired},
		{"text too long", CreateInput{Text: strings.Repeat("a", MaxTextLength+1)}, ErrTextTooLong},
		{"bad voice", CreateInput{Text: "hello", Voice: "robot"}, ErrInvalidVoice},
		{"title too long", CreateInput{Text: "hello", Title: strings.Repeat("t", 201)}, ErrTitleTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.app.Create(ctx, owner, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(env.queue.refs) != 0 {
		t.Fatalf("nothing should be queued, got %v", env.queue.refs)
	}
}

func TestCreateStoresSourceAndQueues(t *testing.T) {
	env := newTestEnv(t, 2)
	book, err := env.app.Create(context.Background(), owner, CreateInput{Title: " Rumi ", Text: " Hello world. ", Voice: "Nova"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if book.Status != domain.AudiobookQueued || book.Voice != "nova" || book.Title != "Rumi" || book.Characters != 12 {
		t.Fatalf("unexpected audiobook: %+v", book)
	}
	obj, ok := env.objects.Object("audiobooks/" + book.ID + "/source.txt")
	if !ok || string(obj.Data) != "Hello world." {
		t.Fatalf("source object = %+v, %v", obj, ok)
	}
	if len(env.queue.refs) != 1 || env.queue.refs[0] != book.ID {
		t.Fatalf("queued refs = %v", env.queue.refs)
	}

	defaulted, err := env.app.Create(context.Background(), owner, CreateInput{Text: "x"})
	if err != nil {
		t.Fatalf("create defaulted: %v", err)
	}
	if defaulted.Voice != "alloy" || defaulted.Title == "" {
		t.Fatalf("expected defaults, got %+v", defaulted)
	}
}

func TestCreateMarksFailedWhenQueueUnavailable(t *testing.T) {
	env := newTestEnv(t, 2)
	env.queue.err = errors.New("redis down")
	if _, err := env.app.Create(context.Background(), owner, CreateInput{Text: "hello"}); err == nil {
		t.Fatalf("expected enqueue error")
	}
	books, err := env.app.List(owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 || books[0].Status != domain.AudiobookFailed {
		t.Fatalf("expected one failed audiobook, got %+v", books)
	}
}

func TestProcessRendersSegmentsInOrder(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	var text strings.Builder
	for i := 0; i < 12; i++ {
		text.WriteString(strings.Repeat("x", MaxSegmentLength-10))
		text.WriteString(". ")
	}
	book, err := env.app.Create(ctx, owner, CreateInput{Title: "Long", Text: text.String(), Voice: "echo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.app.Process(ctx, queue.Job{ID: "job-1", Ref: book.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := env.app.Get(ctx, owner, book.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.AudiobookReady || got.Segments != 12 {
		t.Fatalf("unexpected audiobook: %+v", got)
	}
	if !strings.HasPrefix(got.AudioURL, "http://objects.test/audiobooks/"+book.ID+"/audio.mp3?") {
		t.Fatalf("audio url = %q", got.AudioURL)
	}
	obj, ok := env.objects.Object("audiobooks/" + book.ID + "/audio.mp3")
	if !ok || obj.ContentType != "audio/mpeg" {
		t.Fatalf("audio object = %v, %v", obj.ContentType, ok)
	}
	if strings.Count(string(obj.Data), "[") != 12 || !strings.HasPrefix(string(obj.Data), "[x") || !strings.HasSuffix(string(obj.Data), ".]") {
		t.Fatalf("audio not joined in order")
	}
	if peak := env.speech.peak.Load(); peak > 3 {
		t.Fatalf("concurrency peak %d exceeds limit", peak)
	}
	for _, v := range env.speech.voices {
		if v != "echo" {
			t.Fatalf("unexpected voice %q", v)
		}
	}
}

func TestProcessFailureLeavesRetryableState(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	env.speech.failOn = "boom"
	book, err := env.app.Create(ctx, owner, CreateInput{Text: "Fine. boom."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	job := queue.Job{ID: "job-1", Ref: book.ID, Attempts: 3}
	procErr := env.app.Process(ctx, job)
	if procErr == nil {
		t.Fatalf("expected process error")
	}
	stored, _, _ := env.store.GetAudiobook(book.ID)
	if stored.Status != domain.AudiobookProcessing {
		t.Fatalf("status = %s", stored.Status)
	}

	env.app.OnFailed(ctx, job, procErr)
	stored, _, _ = env.store.GetAudiobook(book.ID)
	if stored.Status != domain.AudiobookFailed || !strings.Contains(stored.ErrorMessage, "speech upstream failed") {
		t.Fatalf("unexpected failed record: %+v", stored)
	}
	if _, err := env.app.Get(ctx, owner, book.ID); err != nil {
		t.Fatalf("get failed audiobook: %v", err)
	}
}

func TestProcessSkipsMissingRecord(t *testing.T) {
	env := newTestEnv(t, 2)
	if err := env.app.Process(context.Background(), queue.Job{ID: "job-x", Ref: "missing"}); err != nil {
		t.Fatalf("expected nil for deleted audiobook, got %v", err)
	}
}

func TestOwnershipAndDelete(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	book, err := env.app.Create(ctx, owner, CreateInput{Text: "Hello."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.app.Process(ctx, queue.Job{ID: "job-1", Ref: book.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	stranger := Caller{UserID: "user-2"}
	if _, err := env.app.Get(ctx, stranger, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
	if err := env.app.Delete(ctx, stranger, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on stranger delete, got %v", err)
	}
	if books, _ := env.app.List(stranger); len(books) != 0 {
		t.Fatalf("stranger sees %d audiobooks", len(books))
	}
	if _, err := env.app.Get(ctx, Caller{UserID: "admin-1", Admin: true}, book.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}

	if err := env.app.Delete(ctx, owner, book.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := env.objects.Object("audiobooks/" + book.ID + "/audio.mp3"); ok {
		t.Fatalf("audio object should be removed")
	}
	if _, ok := env.objects.Object("audiobooks/" + book.ID + "/source.txt"); ok {
		t.Fatalf("source object should be removed")
	}
	if _, err := env.app.Get(ctx, owner, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAudioURLRequiresReady(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	book, err := env.app.Create(ctx, owner, CreateInput{Title: "a/b", Text: "Hello."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.app.AudioURL(ctx, owner, book.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if err := env.app.Process(ctx, queue.Job{ID: "job-1", Ref: book.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}
	url, err := env.app.AudioURL(ctx, owner, book.ID)
	if err != nil {
		t.Fatalf("audio url: %v", err)
	}
	if !strings.Contains(url, "filename=a_b.mp3") {
		t.Fatalf("url = %q", url)
	}
}
