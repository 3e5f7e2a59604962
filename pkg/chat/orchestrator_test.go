package chat

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/inference"
	"github.com/harun/parley/pkg/inference/inferencetest"
	"github.com/harun/parley/pkg/models"
	"github.com/harun/parley/pkg/persistence"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	fragments []string
	errs      []error
}

func (s *recordingSink) OnFragment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, text)
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

type recordingPersister struct {
	mu      sync.Mutex
	records []persistence.Record
}

func (p *recordingPersister) Persist(_ context.Context, author, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, persistence.Record{Author: author, Content: content})
}

func (p *recordingPersister) Records() []persistence.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistence.Record(nil), p.records...)
}

func testCatalog(t *testing.T) *models.Catalog {
	t.Helper()
	c, err := models.NewCatalog([]models.Model{
		{Label: "Fast", ID: "model-a"},
		{Label: "Strong", ID: "model-b"},
	})
	require.NoError(t, err)
	return c
}

func newTestOrchestrator(t *testing.T, client inference.Client, persister Persister) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Session:   session.New(""),
		Client:    client,
		Catalog:   testCatalog(t),
		Persister: persister,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestSubmitRecordsTurn(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"4", "", " is the answer"}})
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, client, persister)
	sink := &recordingSink{}

	result, err := o.Submit(context.Background(), "2+2?", sink)
	require.NoError(t, err)

	history := o.Session().History()
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "2+2?", history[0].Content)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, "4 is the answer", history[1].Content)
	assert.Equal(t, 1, o.Session().UserMessageCount())

	assert.Equal(t, []string{"4", " is the answer"}, sink.fragments)
	assert.Empty(t, sink.errs)

	require.NotNil(t, result.Reply)
	assert.Equal(t, "4 is the answer", result.Reply.Content)
	assert.Equal(t, 2, result.Fragments)
	assert.Equal(t, "Fast", result.Model.Label)
	assert.NotEmpty(t, result.TurnID)
	assert.Equal(t, Idle, o.State())

	assert.Equal(t, []persistence.Record{
		{Author: "Usuario", Content: "2+2?"},
		{Author: "assistant", Content: "4 is the answer"},
	}, persister.Records())
	assert.False(t, o.Abort(), "a finished turn cannot be aborted")
}

func TestSubmitSendsOnlyLatestMessage(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"ok"}})
	o := newTestOrchestrator(t, client, nil)

	_, err := o.Submit(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), "second", nil)
	require.NoError(t, err)

	requests := client.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, []inference.Message{{Role: inference.RoleUser, Content: "second"}}, requests[1].Messages)
	assert.Equal(t, 0.7, requests[1].Temperature)
	assert.Equal(t, 2048, requests[1].MaxTokens)
}

func TestSubmitMidStreamError(t *testing.T) {
	cause := errors.New("connection reset")
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"par"}, Err: cause})
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, client, persister)
	sink := &recordingSink{}

	result, err := o.Submit(context.Background(), "hola", sink)
	assert.Nil(t, result)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Fast", turnErr.Model)

	history := o.Session().History()
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleUser, history[0].Role)

	assert.Equal(t, []string{"par"}, sink.fragments)
	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], cause)
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, []persistence.Record{{Author: "Usuario", Content: "hola"}}, persister.Records())
}

func TestSubmitStartError(t *testing.T) {
	cause := &inference.TransportError{Provider: "scripted", StatusCode: 401, Err: errors.New("unauthorized")}
	client := inferencetest.NewClient(inferencetest.Script{StartErr: cause})
	o := newTestOrchestrator(t, client, nil)

	_, err := o.Submit(context.Background(), "hola", nil)

	var te *inference.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 401, te.StatusCode)
	assert.Equal(t, 1, o.Session().Len())
}

func TestSelectModel(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"ok"}})
	o := newTestOrchestrator(t, client, nil)

	require.NoError(t, o.SelectModel("Strong"))
	assert.Equal(t, models.Model{Label: "Strong", ID: "model-b"}, o.SelectedModel())

	_, err := o.Submit(context.Background(), "hola", nil)
	require.NoError(t, err)

	requests := client.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "model-b", requests[0].Model)

	err = o.SelectModel("Huge")
	assert.ErrorIs(t, err, models.ErrUnknownModel)
	assert.Equal(t, "Strong", o.SelectedModel().Label)
}

func TestNewWithDefaultModel(t *testing.T) {
	client := inferencetest.NewClient()

	o, err := New(Config{Client: client, Catalog: testCatalog(t), DefaultModel: "Strong"})
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, "Strong", o.SelectedModel().Label)
	assert.Equal(t, session.DefaultDisplayName, o.Session().DisplayName())

	_, err = New(Config{Client: client, Catalog: testCatalog(t), DefaultModel: "Huge"})
	assert.ErrorIs(t, err, models.ErrUnknownModel)

	_, err = New(Config{Catalog: testCatalog(t)})
	assert.Error(t, err)
}

func TestSubmitEmptyInput(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"ok"}})
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, client, persister)
	sink := &recordingSink{}

	for _, input := range []string{"", "   ", "\n\t"} {
		result, err := o.Submit(context.Background(), input, sink)
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Nil(t, result)
	}

	assert.Equal(t, 0, o.Session().Len())
	assert.Equal(t, 0, o.Session().UserMessageCount())
	assert.Empty(t, client.Requests())
	assert.Empty(t, persister.Records())
	assert.Empty(t, sink.errs)
	assert.Equal(t, Idle, o.State())
}

func TestSubmitEmptyCompletion(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"", ""}})
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, client, persister)

	result, err := o.Submit(context.Background(), "hola", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Reply)
	assert.Equal(t, 1, o.Session().Len())
	assert.Len(t, persister.Records(), 1)
}

func TestPersistenceFailureDoesNotChangeSession(t *testing.T) {
	tests := []struct {
		name      string
		persister Persister
	}{
		{"no connection", (*persistence.Store)(nil)},
		{"lost connection", lostConnectionStore(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"4"}})
			o := newTestOrchestrator(t, client, tt.persister)

			_, err := o.Submit(context.Background(), "2+2?", nil)
			require.NoError(t, err)

			history := o.Session().History()
			require.Len(t, history, 2)
			assert.Equal(t, "4", history[1].Content)
			assert.Equal(t, 1, o.Session().UserMessageCount())
		})
	}
}

func lostConnectionStore(t *testing.T) *persistence.Store {
	t.Helper()
	store := persistence.TryConnect(context.Background(), persistence.Config{
		Driver: persistence.DriverSQLite,
		Path:   t.TempDir() + "/lost.db",
	})
	require.NotNil(t, store)
	require.NoError(t, store.Close())
	return store
}

func TestFragmentsConcatenateToRecordedReply(t *testing.T) {
	scripts := [][]string{
		{"a"},
		{"Hola", ", ", "¿qué", " tal?"},
		{"", "x", "", "y", ""},
		{"line 1\n", "line 2\n", "```go\n", "fmt.Println()\n", "```"},
	}

	for _, fragments := range scripts {
		client := inferencetest.NewClient(inferencetest.Script{Fragments: fragments})
		o := newTestOrchestrator(t, client, nil)
		sink := &recordingSink{}

		result, err := o.Submit(context.Background(), "prompt", sink)
		require.NoError(t, err)
		require.NotNil(t, result.Reply)

		joined := ""
		for _, f := range sink.fragments {
			assert.NotEmpty(t, f)
			joined += f
		}
		assert.Equal(t, joined, result.Reply.Content)

		last, ok := o.Session().Last()
		require.True(t, ok)
		assert.Equal(t, joined, last.Content)
	}
}

func TestAbortDuringStream(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"never"}, Block: block})
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, client, persister)

	assert.False(t, o.Abort(), "nothing to abort yet")

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "hola", nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)
	assert.True(t, o.Abort())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after Abort")
	}

	assert.Equal(t, 1, o.Session().Len())
	assert.Equal(t, Idle, o.State())
	assert.Len(t, persister.Records(), 1)
}

func TestClearDuringStream(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"never"}, Block: block})
	o := newTestOrchestrator(t, client, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "hola", nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)
	o.Clear()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after Clear")
	}

	assert.Equal(t, 0, o.Session().Len())
	assert.Equal(t, 1, o.Session().UserMessageCount())
	assert.Equal(t, Idle, o.State())
}

func TestCallerCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"never"}, Block: block})
	o := newTestOrchestrator(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(ctx, "hola", nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAborted)
}

func TestConcurrentSubmitsAreSerialized(t *testing.T) {
	release := make(chan struct{})
	client := inferencetest.NewClient(
		inferencetest.Script{Fragments: []string{"first"}, Block: release},
		inferencetest.Script{Fragments: []string{"second"}},
	)
	o := newTestOrchestrator(t, client, nil)

	results := make(chan *TurnResult, 2)
	go func() {
		r, err := o.Submit(context.Background(), "one", nil)
		assert.NoError(t, err)
		results <- r
	}()
	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)

	go func() {
		r, err := o.Submit(context.Background(), "two", nil)
		assert.NoError(t, err)
		results <- r
	}()

	// The second turn waits on the session lane.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, client.Requests(), 1)
	assert.Equal(t, 1, o.Session().Len())

	close(release)
	first := <-results
	second := <-results
	assert.Equal(t, "first", first.Reply.Content)
	assert.Equal(t, "second", second.Reply.Content)

	var contents []string
	for _, m := range o.Session().History() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "first", "two", "second"}, contents)
}

func TestReadyAndStateNames(t *testing.T) {
	o := newTestOrchestrator(t, inferencetest.NewClient(), nil)

	assert.Equal(t, Idle, o.State())
	o.Ready()
	assert.Equal(t, AwaitingUserInput, o.State())
	assert.Equal(t, "awaiting_user_input", o.State().String())
	assert.Equal(t, "streaming_response", StreamingResponse.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSinkFunc(t *testing.T) {
	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"a", "b"}})
	o := newTestOrchestrator(t, client, nil)

	var got string
	_, err := o.Submit(context.Background(), "hola", SinkFunc(func(f string) { got += f }))
	require.NoError(t, err)
	assert.Equal(t, "ab", got)
}

func TestSubmitTemperature(t *testing.T) {
	zero, hot := 0.0, 1.3
	tests := []struct {
		name        string
		temperature *float64
		want        float64
	}{
		{"unset", nil, inference.DefaultTemperature},
		{"zero", &zero, 0},
		{"configured", &hot, 1.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"ok"}})
			o, err := New(Config{Client: client, Catalog: testCatalog(t), Temperature: tt.temperature})
			require.NoError(t, err)
			t.Cleanup(func() { _ = o.Close() })

			_, err = o.Submit(context.Background(), "hi", nil)
			require.NoError(t, err)

			requests := client.Requests()
			require.Len(t, requests, 1)
			assert.Equal(t, tt.want, requests[0].Temperature)
		})
	}
}

// bufferedClient replays a reply that already arrived in full, so its
// stream does not watch the request context.
type bufferedClient struct {
	fragments []string
}

func (c bufferedClient) Provider() string { return "buffered" }

func (c bufferedClient) StreamComplete(context.Context, inference.Request) (inference.Stream, error) {
	return &bufferedStream{fragments: c.fragments, pos: -1}, nil
}

type bufferedStream struct {
	fragments []string
	pos       int
}

func (s *bufferedStream) Next() bool {
	s.pos++
	return s.pos < len(s.fragments)
}

func (s *bufferedStream) Fragment() string { return s.fragments[s.pos] }

func (s *bufferedStream) Err() error { return nil }

func (s *bufferedStream) Close() error { return nil }

func TestAbortAfterLastFragment(t *testing.T) {
	persister := &recordingPersister{}
	o := newTestOrchestrator(t, bufferedClient{fragments: []string{"Hola", "!"}}, persister)

	var aborted bool
	sink := SinkFunc(func(f string) {
		if f == "!" {
			aborted = o.Abort()
		}
	})

	result, err := o.Submit(context.Background(), "hola", sink)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, aborted)

	assert.Equal(t, 1, o.Session().Len())
	assert.Equal(t, []persistence.Record{{Author: "Usuario", Content: "hola"}}, persister.Records())
	assert.Equal(t, Idle, o.State())
}

func TestCommitAfterAbort(t *testing.T) {
	o := newTestOrchestrator(t, inferencetest.NewClient(), nil)

	turnCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ok := o.record(0, "hola", cancel)
	require.True(t, ok)

	require.True(t, o.Abort())
	msg, ok := o.commit(0, turnCtx, "reply")
	assert.False(t, ok)
	assert.Nil(t, msg)
	assert.Equal(t, 1, o.Session().Len())

	// Once committed, the turn no longer answers to Abort.
	turnCtx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	_, ok = o.record(0, "otra", cancel2)
	require.True(t, ok)
	msg, ok = o.commit(0, turnCtx2, "reply")
	require.True(t, ok)
	require.NotNil(t, msg)
	assert.Equal(t, "reply", msg.Content)
	assert.False(t, o.Abort())
	assert.NoError(t, turnCtx2.Err())
}

func TestClearDropsQueuedTurns(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	client := inferencetest.NewClient(
		inferencetest.Script{Fragments: []string{"first"}, Block: release},
		inferencetest.Script{Fragments: []string{"second"}},
	)
	o := newTestOrchestrator(t, client, nil)

	first := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "one", nil)
		first <- err
	}()
	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)

	sink := &recordingSink{}
	second := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "two", sink)
		second <- err
	}()
	lane := commandqueue.SessionLane(o.Session().ID())
	require.Eventually(t, func() bool {
		return o.queue.GetStats()[lane]["queued"] == 1
	}, time.Second, 5*time.Millisecond)

	o.Clear()

	assert.ErrorIs(t, <-first, ErrAborted)
	err := <-second
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.ErrorIs(t, err, ErrAborted)

	assert.Len(t, client.Requests(), 1, "the dropped turn never reaches the model")
	assert.Equal(t, 0, o.Session().Len())
	sink.mu.Lock()
	assert.Len(t, sink.errs, 1)
	sink.mu.Unlock()
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestQueuedTurnWaitIsLogged(t *testing.T) {
	buf := &syncBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })

	release := make(chan struct{})
	client := inferencetest.NewClient(
		inferencetest.Script{Fragments: []string{"first"}, Block: release},
		inferencetest.Script{Fragments: []string{"second"}},
	)
	o, err := New(Config{Client: client, Catalog: testCatalog(t), QueueWarnAfter: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	done := make(chan error, 2)
	go func() {
		_, err := o.Submit(context.Background(), "one", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return o.State() == StreamingResponse }, time.Second, 5*time.Millisecond)
	go func() {
		_, err := o.Submit(context.Background(), "two", nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Turn waiting for the previous one")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, buf.String(), `"queue_pos":0`)

	close(release)
	assert.NoError(t, <-done)
	assert.NoError(t, <-done)
}

func TestSubmitNotBlockedBySlowPersistence(t *testing.T) {
	queue := commandqueue.New()
	t.Cleanup(func() { _ = queue.Close() })

	path := filepath.Join(t.TempDir(), "chat.db")
	store := persistence.TryConnect(context.Background(), persistence.Config{Driver: persistence.DriverSQLite, Path: path})
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	writer := persistence.NewWriter(store, queue)

	// A write stuck on an unresponsive database holds the persist lane.
	stuck := make(chan struct{})
	var unstick sync.Once
	release := func() { unstick.Do(func() { close(stuck) }) }
	t.Cleanup(release)
	queue.Submit(context.Background(), commandqueue.LanePersist, func(ctx context.Context) (interface{}, error) {
		<-stuck
		return nil, nil
	}, nil)

	client := inferencetest.NewClient(inferencetest.Script{Fragments: []string{"4"}})
	o, err := New(Config{Client: client, Catalog: testCatalog(t), Persister: writer, Queue: queue})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "2+2?", nil)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("turn waited on the transcript database")
	}

	history := o.Session().History()
	require.Len(t, history, 2)
	assert.Equal(t, "4", history[1].Content)
	assert.Equal(t, 3, o.PendingWrites())

	release()
	require.True(t, writer.Flush(5*time.Second))
	assert.Equal(t, 0, o.PendingWrites())
	assert.Equal(t, []persistence.Record{
		{Author: "Usuario", Content: "2+2?"},
		{Author: AssistantAuthor, Content: "4"},
	}, readTranscript(t, path))
}

func readTranscript(t *testing.T, path string) []persistence.Record {
	t.Helper()
	db, err := sql.Open(persistence.DriverSQLite, "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT `user`, `message` FROM `" + persistence.DefaultTable + "` ORDER BY rowid")
	require.NoError(t, err)
	defer rows.Close()

	var out []persistence.Record
	for rows.Next() {
		var r persistence.Record
		require.NoError(t, rows.Scan(&r.Author, &r.Content))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}
