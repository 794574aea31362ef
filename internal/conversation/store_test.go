package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarchat/internal/backend"
	"github.com/normanking/avatarchat/internal/bus"
)

var errUnreachable = &backend.TransportError{Op: "chat", Err: errors.New("connection refused")}

// fakeBackend answers from scripted functions. gate, when set, blocks
// Exchange until a value is received.
type fakeBackend struct {
	mu       sync.Mutex
	greeting func() ([]backend.Reply, error)
	exchange func(text string) ([]backend.Reply, error)
	gate     chan struct{}
	texts    []string
}

func (f *fakeBackend) FetchGreeting(ctx context.Context) ([]backend.Reply, error) {
	if f.greeting == nil {
		return replies("Hi"), nil
	}
	return f.greeting()
}

func (f *fakeBackend) Exchange(ctx context.Context, text string) ([]backend.Reply, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	gate := f.gate
	fn := f.exchange
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return replies("echo: " + text), nil
	}
	return fn(text)
}

func replies(contents ...string) []backend.Reply {
	out := make([]backend.Reply, len(contents))
	for i, c := range contents {
		out[i] = backend.Reply{Role: backend.RoleAssistant, Content: c}
	}
	return out
}

func newStore(t *testing.T, fb *fakeBackend, opts ...Option) *Store {
	t.Helper()
	s := NewStore(fb, zerolog.Nop(), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func greeted(t *testing.T, fb *fakeBackend, opts ...Option) *Store {
	t.Helper()
	s := newStore(t, fb, opts...)
	require.NoError(t, s.Greet(context.Background()))
	return s
}

// submitAsync starts a submission blocked on fb.gate and waits until the
// store reports it pending.
func submitAsync(t *testing.T, s *Store, text string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background(), text) }()
	require.Eventually(t, func() bool { return s.State().Pending }, time.Second, 5*time.Millisecond)
	return done
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func checkInvariants(t *testing.T, st State) {
	t.Helper()
	activeCount := 0
	var last int64
	for _, m := range st.History {
		assert.Greater(t, m.Sequence, last, "sequences must increase")
		last = m.Sequence
		if m.Playback == PlaybackActive {
			activeCount++
			assert.Equal(t, RoleAssistant, m.Role)
		}
		if m.Role == RoleUser {
			assert.Equal(t, PlaybackNone, m.Playback)
		}
	}
	assert.LessOrEqual(t, activeCount, 1, "at most one active reply")
	if st.ActiveReply != nil {
		assert.Equal(t, 1, activeCount)
		assert.Equal(t, RoleAssistant, st.ActiveReply.Role)
		assert.Equal(t, PlaybackActive, st.ActiveReply.Playback)
	} else {
		assert.Zero(t, activeCount)
	}
}

func TestStore_GreetingActivatesFirstReply(t *testing.T) {
	s := greeted(t, &fakeBackend{})

	st := s.State()
	require.Len(t, st.History, 1)
	assert.Equal(t, "Hi", st.History[0].Content)
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, int64(1), st.ActiveReply.Sequence)
	assert.Equal(t, PhasePlaying, st.Phase)
	assert.False(t, st.Pending)
	checkInvariants(t, st)
}

func TestStore_GreetingFailureSeedsApology(t *testing.T) {
	fb := &fakeBackend{greeting: func() ([]backend.Reply, error) { return nil, errUnreachable }}
	s := greeted(t, fb)

	st := s.State()
	require.Len(t, st.History, 1)
	assert.Equal(t, DefaultErrorMessage, st.History[0].Content)
	assert.True(t, st.History[0].Synthetic)
	assert.Equal(t, RoleAssistant, st.History[0].Role)
	require.NotNil(t, st.ActiveReply)
	assert.NotEmpty(t, st.Err)
}

func TestStore_GreetOnce(t *testing.T) {
	s := greeted(t, &fakeBackend{})
	assert.ErrorIs(t, s.Greet(context.Background()), ErrAlreadyGreeted)
	assert.Len(t, s.State().History, 1)
}

func TestStore_SubmitValidation(t *testing.T) {
	s := newStore(t, &fakeBackend{})
	assert.ErrorIs(t, s.Submit(context.Background(), "hi"), ErrNotGreeted)
	assert.False(t, s.CanSubmit())

	require.NoError(t, s.Greet(context.Background()))
	assert.ErrorIs(t, s.Submit(context.Background(), ""), ErrEmptyMessage)
	assert.ErrorIs(t, s.Submit(context.Background(), "  \n\t"), ErrEmptyMessage)
	assert.Len(t, s.State().History, 1)
}

func TestStore_SubmitWhilePlayingIsAllowed(t *testing.T) {
	fb := &fakeBackend{}
	s := greeted(t, fb)
	require.NotNil(t, s.State().ActiveReply)
	assert.True(t, s.CanSubmit())

	require.NoError(t, s.Submit(context.Background(), "Hello"))

	st := s.State()
	assert.Equal(t, []string{"Hi", "Hello", "echo: Hello"}, contents(st.History))
	assert.Equal(t, RoleUser, st.History[1].Role)
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, "Hi", st.ActiveReply.Content, "greeting keeps playing")
	assert.Equal(t, PlaybackUnprocessed, st.History[2].Playback)
	assert.Equal(t, []string{"Hello"}, fb.texts)
}

func TestStore_SubmitWhileExchangingIsRejected(t *testing.T) {
	fb := &fakeBackend{gate: make(chan struct{})}
	s := greeted(t, fb)

	done := submitAsync(t, s, "first")

	st := s.State()
	assert.Equal(t, PhaseExchanging, st.Phase)
	assert.Equal(t, []string{"Hi", "first"}, contents(st.History), "user message is appended synchronously")
	assert.False(t, s.CanSubmit())
	assert.ErrorIs(t, s.Submit(context.Background(), "second"), ErrExchangeInFlight)

	fb.gate <- struct{}{}
	require.NoError(t, <-done)

	assert.Equal(t, []string{"Hi", "first", "echo: first"}, contents(s.State().History))
	assert.Equal(t, []string{"first"}, fb.texts)
}

func TestStore_RequireIdle(t *testing.T) {
	s := greeted(t, &fakeBackend{}, WithRequireIdle(true))

	assert.False(t, s.CanSubmit())
	assert.ErrorIs(t, s.Submit(context.Background(), "Hello"), ErrReplyPlaying)

	require.True(t, s.AcknowledgePlayed(1))
	assert.True(t, s.CanSubmit())
	assert.NoError(t, s.Submit(context.Background(), "Hello"))
}

func TestStore_MultipleRepliesPlayInOrder(t *testing.T) {
	fb := &fakeBackend{exchange: func(string) ([]backend.Reply, error) {
		return replies("$10", "Anything else?"), nil
	}}
	s := greeted(t, fb)
	require.True(t, s.AcknowledgePlayed(1))
	assert.Equal(t, PhaseIdle, s.State().Phase)

	require.NoError(t, s.Submit(context.Background(), "price?"))

	st := s.State()
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, "$10", st.ActiveReply.Content)

	require.True(t, s.AcknowledgePlayed(st.ActiveReply.Sequence))
	st = s.State()
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, "Anything else?", st.ActiveReply.Content)

	require.True(t, s.AcknowledgePlayed(st.ActiveReply.Sequence))
	st = s.State()
	assert.Nil(t, st.ActiveReply)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, PlaybackPlayed, st.History[2].Playback)
	assert.Equal(t, PlaybackPlayed, st.History[3].Playback)
	checkInvariants(t, st)
}

func TestStore_AcknowledgeIsIdempotent(t *testing.T) {
	fb := &fakeBackend{greeting: func() ([]backend.Reply, error) { return replies("one", "two"), nil }}
	s := greeted(t, fb)

	assert.False(t, s.AcknowledgePlayed(2), "not the active reply")
	assert.Equal(t, int64(1), s.State().ActiveReply.Sequence)

	require.True(t, s.AcknowledgePlayed(1))
	before := s.State()
	assert.False(t, s.AcknowledgePlayed(1), "duplicate acknowledgement")
	after := s.State()

	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, int64(2), after.ActiveReply.Sequence)

	require.True(t, s.AcknowledgePlayed(2))
	assert.False(t, s.AcknowledgePlayed(2))
	assert.False(t, s.AcknowledgePlayed(99), "nothing active")
}

func TestStore_DuplicateContentsAreDistinct(t *testing.T) {
	fb := &fakeBackend{greeting: func() ([]backend.Reply, error) { return replies("same", "same"), nil }}
	s := greeted(t, fb)

	require.True(t, s.AcknowledgePlayed(1))
	st := s.State()
	assert.Equal(t, PlaybackPlayed, st.History[0].Playback)
	assert.Equal(t, PlaybackActive, st.History[1].Playback)
	assert.Equal(t, int64(2), st.ActiveReply.Sequence)
}

func TestStore_TransportFailureRecovers(t *testing.T) {
	fail := true
	fb := &fakeBackend{exchange: func(text string) ([]backend.Reply, error) {
		if fail {
			return nil, errUnreachable
		}
		return replies("ok"), nil
	}}
	s := greeted(t, fb)
	require.True(t, s.AcknowledgePlayed(1))

	before := len(s.State().History)
	require.NoError(t, s.Submit(context.Background(), "hello"))

	st := s.State()
	require.Len(t, st.History, before+2, "user message plus one apology")
	apology := st.History[len(st.History)-1]
	assert.Equal(t, DefaultErrorMessage, apology.Content)
	assert.Equal(t, RoleAssistant, apology.Role)
	assert.True(t, apology.Synthetic)
	assert.False(t, st.Pending)
	assert.Contains(t, st.Err, "connection refused")
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, apology.Sequence, st.ActiveReply.Sequence)

	require.True(t, s.AcknowledgePlayed(apology.Sequence))
	fail = false
	require.NoError(t, s.Submit(context.Background(), "again"))

	st = s.State()
	assert.Equal(t, "ok", st.History[len(st.History)-1].Content)
	assert.Empty(t, st.Err, "error cleared by a successful exchange")
}

func TestStore_CustomErrorMessage(t *testing.T) {
	fb := &fakeBackend{greeting: func() ([]backend.Reply, error) { return nil, errUnreachable }}
	s := greeted(t, fb, WithErrorMessage("Oops."))
	assert.Equal(t, "Oops.", s.State().History[0].Content)
}

func TestStore_OrderingAcrossSubmissions(t *testing.T) {
	batches := map[string][]backend.Reply{
		"s1": replies("a1", "a2"),
		"s2": replies("b1"),
	}
	fb := &fakeBackend{exchange: func(text string) ([]backend.Reply, error) { return batches[text], nil }}
	s := greeted(t, fb)
	require.True(t, s.AcknowledgePlayed(s.State().ActiveReply.Sequence))

	var mu sync.Mutex
	var played []string
	var lastSeq int64
	s.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if st.ActiveReply != nil && st.ActiveReply.Sequence != lastSeq {
			lastSeq = st.ActiveReply.Sequence
			played = append(played, st.ActiveReply.Content)
		}
	})

	require.NoError(t, s.Submit(context.Background(), "s1"))
	require.NoError(t, s.Submit(context.Background(), "s2"))

	for s.State().ActiveReply != nil {
		require.True(t, s.AcknowledgePlayed(s.State().ActiveReply.Sequence))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "a2", "b1"}, played)
}

func TestStore_NoSelectionWhileExchanging(t *testing.T) {
	fb := &fakeBackend{
		greeting: func() ([]backend.Reply, error) { return replies("g1", "g2"), nil },
		gate:     make(chan struct{}),
	}
	s := greeted(t, fb)

	done := submitAsync(t, s, "next")
	require.True(t, s.AcknowledgePlayed(1))

	st := s.State()
	assert.Nil(t, st.ActiveReply)
	assert.Equal(t, PhaseExchanging, st.Phase)
	assert.Equal(t, PlaybackUnprocessed, st.History[1].Playback)

	fb.gate <- struct{}{}
	require.NoError(t, <-done)

	st = s.State()
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, "g2", st.ActiveReply.Content, "older replies play first")
}

func TestStore_UserRoleRepliesAreNotPlayed(t *testing.T) {
	fb := &fakeBackend{greeting: func() ([]backend.Reply, error) {
		return []backend.Reply{
			{Role: backend.RoleUser, Content: "echoed"},
			{Role: backend.RoleAssistant, Content: "answer"},
		}, nil
	}}
	s := greeted(t, fb)

	st := s.State()
	assert.Equal(t, PlaybackNone, st.History[0].Playback)
	require.NotNil(t, st.ActiveReply)
	assert.Equal(t, "answer", st.ActiveReply.Content)
}

func TestStore_Retry(t *testing.T) {
	calls := 0
	fb := &fakeBackend{exchange: func(string) ([]backend.Reply, error) {
		calls++
		if calls == 1 {
			return nil, errUnreachable
		}
		return replies("second time lucky"), nil
	}}
	s := greeted(t, fb, WithRetry(2, time.Millisecond))

	require.NoError(t, s.Submit(context.Background(), "hi"))

	st := s.State()
	assert.Equal(t, 2, calls)
	assert.Equal(t, "second time lucky", st.History[len(st.History)-1].Content)
	assert.Empty(t, st.Err)
}

func TestStore_CancelledContextBecomesApology(t *testing.T) {
	fb := &fakeBackend{gate: make(chan struct{})}
	s := greeted(t, fb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Submit(ctx, "hi"))

	st := s.State()
	assert.Equal(t, DefaultErrorMessage, st.History[len(st.History)-1].Content)
	assert.False(t, st.Pending)
}

func TestStore_ListenersSeeIncreasingVersions(t *testing.T) {
	s := newStore(t, &fakeBackend{})

	var versions []uint64
	var phases []Phase
	unsubscribe := s.Subscribe(func(st State) {
		versions = append(versions, st.Version)
		phases = append(phases, st.Phase)
	})

	require.NoError(t, s.Greet(context.Background()))
	require.True(t, s.AcknowledgePlayed(1))
	unsubscribe()
	require.NoError(t, s.Submit(context.Background(), "ignored by listener"))

	require.Len(t, versions, 3)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	assert.Equal(t, []Phase{PhaseExchanging, PhasePlaying, PhaseIdle}, phases)
}

func TestStore_SessionAndClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := greeted(t, &fakeBackend{}, WithSessionID("session-1"), WithClock(func() time.Time { return fixed }))

	st := s.State()
	assert.Equal(t, "session-1", st.SessionID)
	assert.Equal(t, "session-1", s.SessionID())
	assert.Equal(t, fixed, st.History[0].CreatedAt)

	other := newStore(t, &fakeBackend{})
	assert.Len(t, other.SessionID(), 36)
}

type memRecorder struct {
	mu      sync.Mutex
	session string
	records []Message
	err     error
}

func (r *memRecorder) Record(ctx context.Context, sessionID string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = sessionID
	r.records = append(r.records, msg)
	return r.err
}

func TestStore_RecorderSeesEveryChange(t *testing.T) {
	rec := &memRecorder{}
	s := NewStore(&fakeBackend{}, zerolog.Nop(), WithRecorder(rec), WithSessionID("rec"))

	require.NoError(t, s.Greet(context.Background()))
	require.True(t, s.AcknowledgePlayed(1))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "rec", rec.session)

	var states []string
	for _, m := range rec.records {
		states = append(states, fmt.Sprintf("%d:%s", m.Sequence, m.Playback))
	}
	assert.Equal(t, []string{"1:unprocessed", "1:active", "1:played"}, states)
}

func TestStore_RecorderErrorsDoNotAffectState(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	s := greeted(t, &fakeBackend{}, WithRecorder(rec))

	require.NoError(t, s.Submit(context.Background(), "hi"))
	assert.Len(t, s.State().History, 3)
}

func TestStore_PublishesEvents(t *testing.T) {
	b := bus.NewEventBus()
	activated := make(chan int64, 4)
	b.Subscribe(bus.EventTypeReplyActivated, func(e bus.Event) {
		activated <- e.Data["sequence"].(int64)
	})

	greeted(t, &fakeBackend{}, WithEventBus(b))

	select {
	case seq := <-activated:
		assert.Equal(t, int64(1), seq)
	case <-time.After(time.Second):
		t.Fatal("no activation event")
	}
}

// TestStore_RandomizedInvariants drives the store with a random mix of
// submissions, acknowledgements and failures and checks every snapshot.
func TestStore_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fb := &fakeBackend{exchange: func(text string) ([]backend.Reply, error) {
		switch rng.Intn(4) {
		case 0:
			return nil, errUnreachable
		case 1:
			return replies(text+"-a", text+"-b", text+"-c"), nil
		default:
			return replies(text + "-a"), nil
		}
	}}
	s := newStore(t, fb)

	var mu sync.Mutex
	var lastVersion uint64
	prev := map[int64]PlaybackState{}
	rank := map[PlaybackState]int{PlaybackUnprocessed: 0, PlaybackActive: 1, PlaybackPlayed: 2}
	s.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		checkInvariants(t, st)
		if st.Version <= lastVersion {
			return
		}
		lastVersion = st.Version
		for _, m := range st.History {
			if !m.Playable() {
				continue
			}
			if p, ok := prev[m.Sequence]; ok {
				assert.GreaterOrEqual(t, rank[m.Playback], rank[p], "playback never regresses")
			}
			prev[m.Sequence] = m.Playback
		}
	})

	require.NoError(t, s.Greet(context.Background()))
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			require.NoError(t, s.Submit(context.Background(), fmt.Sprintf("m%d", i)))
		default:
			if active := s.State().ActiveReply; active != nil {
				require.True(t, s.AcknowledgePlayed(active.Sequence))
			}
		}
		checkInvariants(t, s.State())
	}

	for s.State().ActiveReply != nil {
		s.AcknowledgePlayed(s.State().ActiveReply.Sequence)
	}
	st := s.State()
	assert.Zero(t, st.Unprocessed())
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestStore_SubmitAsync(t *testing.T) {
	fb := &fakeBackend{gate: make(chan struct{})}
	s := greeted(t, fb)

	msg, err := s.SubmitAsync(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.Sequence)
	assert.Equal(t, RoleUser, msg.Role)
	assert.True(t, s.State().Pending)

	_, err = s.SubmitAsync(context.Background(), "again")
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	_, err = s.SubmitAsync(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	fb.gate <- struct{}{}
	require.Eventually(t, func() bool { return !s.State().Pending }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "echo: hello", s.State().History[2].Content)
}
