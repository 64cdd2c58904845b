package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/analysis"
	"github.com/BTreeMap/MetaCoach/internal/conversation"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/BTreeMap/MetaCoach/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	starts   atomic.Int32
	sends    atomic.Int32
	usage    atomic.Int32
	startErr error
	sendErr  error
	reply    string
	greeting string
	delay    time.Duration
	lastText string
	mu       sync.Mutex
}

func (f *fakeService) StartConversation(ctx context.Context, userID, conversationType, introPrompt string) (conversation.StartResult, error) {
	f.starts.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return conversation.StartResult{}, ctx.Err()
		}
	}
	if f.startErr != nil {
		return conversation.StartResult{}, f.startErr
	}
	return conversation.StartResult{SessionID: "sess-" + userID + "-" + conversationType, Response: f.greeting}, nil
}

func (f *fakeService) SendMessage(ctx context.Context, userID, sessionID, text, conversationType string) (string, error) {
	f.sends.Add(1)
	f.mu.Lock()
	f.lastText = text
	f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.reply, nil
}

func (f *fakeService) LogServiceUsage(ctx context.Context, userID, eventName string, metadata map[string]string) error {
	f.usage.Add(1)
	return errors.New("telemetry down")
}

type failingStore struct {
	*store.InMemoryStore
	failGet bool
	failPut bool
}

func (s *failingStore) GetAnswer(userID, moduleID, key string) (string, bool, error) {
	if s.failGet {
		return "", false, errors.New("db down")
	}
	return s.InMemoryStore.GetAnswer(userID, moduleID, key)
}

func (s *failingStore) PutAnswer(userID, moduleID, key, value string) error {
	if s.failPut {
		return errors.New("db down")
	}
	return s.InMemoryStore.PutAnswer(userID, moduleID, key, value)
}

func heuristicOnly() *analysis.Orchestrator {
	return analysis.NewOrchestrator(nil, analysis.NewHeuristicAnalyzer(nil))
}

func TestEnsureSession_StartsOnce(t *testing.T) {
	svc := &fakeService{greeting: "Hallo!"}
	m := NewSessionManager(svc)
	ctx := context.Background()

	first, err := m.EnsureSession(ctx, "u1", "metamodel", nil)
	require.NoError(t, err)
	second, err := m.EnsureSession(ctx, "u1", "metamodel", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), svc.starts.Load())
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "Hallo!", first.Greeting)
	assert.True(t, first.Active())
}

func TestEnsureSession_ConcurrentCallersShareStart(t *testing.T) {
	svc := &fakeService{delay: 50 * time.Millisecond}
	m := NewSessionManager(svc)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.EnsureSession(context.Background(), "u1", "metamodel", nil)
			if err == nil {
				ids[i] = s.SessionID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), svc.starts.Load())
	for _, id := range ids {
		assert.Equal(t, "sess-u1-metamodel", id)
	}
}

func TestEnsureSession_SharedStartSurvivesCallerCancel(t *testing.T) {
	svc := &fakeService{delay: 100 * time.Millisecond}
	m := NewSessionManager(svc)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := m.EnsureSession(ctxA, "u1", "metamodel", nil)
		errA <- err
	}()
	time.Sleep(20 * time.Millisecond)

	errB := make(chan error, 1)
	var sessB models.Session
	go func() {
		var err error
		sessB, err = m.EnsureSession(context.Background(), "u1", "metamodel", nil)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()

	require.NoError(t, <-errB)
	<-errA
	assert.True(t, sessB.Active())
	assert.Equal(t, int32(1), svc.starts.Load())
}

func TestEnsureSession_StartIsBounded(t *testing.T) {
	svc := &fakeService{delay: time.Second}
	m := NewSessionManager(svc, WithSessionTimeout(20*time.Millisecond))

	_, err := m.EnsureSession(context.Background(), "u1", "metamodel", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureSession_KeyedPerModule(t *testing.T) {
	svc := &fakeService{}
	m := NewSessionManager(svc)
	ctx := context.Background()
	_, _ = m.EnsureSession(ctx, "u1", "metamodel", nil)
	_, _ = m.EnsureSession(ctx, "u1", "genius_gate", nil)
	_, _ = m.EnsureSession(ctx, "u2", "metamodel", nil)
	assert.Equal(t, int32(3), svc.starts.Load())
}

func TestEnsureSession_FailureIsRetried(t *testing.T) {
	svc := &fakeService{startErr: errors.New("unreachable")}
	m := NewSessionManager(svc)
	ctx := context.Background()

	_, err := m.EnsureSession(ctx, "u1", "metamodel", nil)
	require.Error(t, err)

	svc.startErr = nil
	s, err := m.EnsureSession(ctx, "u1", "metamodel", nil)
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.Equal(t, int32(2), svc.starts.Load())
}

func TestSessionManager_EndStartsFresh(t *testing.T) {
	svc := &fakeService{}
	m := NewSessionManager(svc)
	ctx := context.Background()
	_, _ = m.EnsureSession(ctx, "u1", "metamodel", nil)
	m.End("u1", "metamodel")
	_, _ = m.EnsureSession(ctx, "u1", "metamodel", nil)
	assert.Equal(t, int32(2), svc.starts.Load())
}

func TestSessionManager_PruneIdle(t *testing.T) {
	svc := &fakeService{}
	m := NewSessionManager(svc)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := m.EnsureSession(ctx, "u1", "metamodel", nil)
	require.NoError(t, err)
	clock = clock.Add(20 * time.Minute)
	_, err = m.EnsureSession(ctx, "u2", "metamodel", nil)
	require.NoError(t, err)

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, m.PruneIdle(30*time.Minute))

	// u2 survived; u1 starts a fresh conversation.
	_, _ = m.EnsureSession(ctx, "u2", "metamodel", nil)
	assert.Equal(t, int32(2), svc.starts.Load())
	_, _ = m.EnsureSession(ctx, "u1", "metamodel", nil)
	assert.Equal(t, int32(3), svc.starts.Load())
}

func TestSessionManager_SendInactive(t *testing.T) {
	m := NewSessionManager(&fakeService{})
	_, err := m.Send(context.Background(), models.Session{ModuleID: "metamodel"}, "hi")
	assert.Error(t, err)
}

func TestSessionManager_LogUsageSwallowsErrors(t *testing.T) {
	svc := &fakeService{}
	m := NewSessionManager(svc)
	m.LogUsage(context.Background(), "u1", "event", nil)
	assert.Equal(t, int32(1), svc.usage.Load())
}

func TestBuildFeedback_NoPatterns(t *testing.T) {
	b := NewResponseBuilder(nil)
	msg := b.BuildFeedback(context.Background(), Audience{}, models.AnalysisResult{}, models.LevelAssessment{Previous: 2, Next: 2})

	assert.Equal(t, models.CoachMessageFeedback, msg.Kind)
	assert.Equal(t, []string{models.StepReflectDeliberately}, msg.SuggestedNextSteps)
	assert.Contains(t, msg.Body, "präzise")
	require.NotNil(t, msg.Encouragement)
}

func TestBuildFeedback_PatternsHeld(t *testing.T) {
	result := models.AnalysisResult{
		Patterns: []models.DetectedPattern{
			{Category: models.CategoryUniversalQuantifier, MatchedKeyword: "nie", FollowUpQuestion: "Wirklich nie?"},
			{Category: models.CategoryVagueReference, FollowUpQuestion: "Was genau?"},
		},
		UsedFallback: true,
	}
	msg := NewResponseBuilder(nil).BuildFeedback(context.Background(), Audience{}, result, models.LevelAssessment{Previous: 2, Next: 2})

	assert.Equal(t, []string{models.StepDeepenCurrentLevel}, msg.SuggestedNextSteps)
	assert.Contains(t, msg.Body, "„nie“")
	assert.Contains(t, msg.Body, "1. Wirklich nie?")
	assert.Contains(t, msg.Body, "2. Was genau?")
	assert.Contains(t, msg.Body, models.CategoryUniversalQuantifier.DisplayName())
}

func TestBuildFeedback_LevelIncreased(t *testing.T) {
	result := models.AnalysisResult{Patterns: []models.DetectedPattern{{Category: models.CategoryCausalLink, MatchedKeyword: "weil", FollowUpQuestion: "Wie genau?"}}}
	msg := NewResponseBuilder(nil).BuildFeedback(context.Background(), Audience{}, result, models.LevelAssessment{Previous: 2, Next: 3})

	assert.Equal(t, []string{models.StepContinueLevel}, msg.SuggestedNextSteps)
	require.NotNil(t, msg.Encouragement)
	assert.Contains(t, *msg.Encouragement, "Level 3")
}

func TestBuildFeedback_RemoteWording(t *testing.T) {
	svc := &fakeService{reply: "  Gut beobachtet! Was genau meinst du mit nie?  "}
	b := NewResponseBuilder(NewSessionManager(svc))
	result := models.AnalysisResult{Patterns: []models.DetectedPattern{{Category: models.CategoryUniversalQuantifier, MatchedKeyword: "nie", FollowUpQuestion: "Wirklich nie?"}}}

	msg := b.BuildFeedback(context.Background(), Audience{UserID: "u1", ModuleID: "metamodel"}, result, models.LevelAssessment{Previous: 1, Next: 1})

	assert.Equal(t, "Gut beobachtet! Was genau meinst du mit nie?", msg.Body)
	assert.Equal(t, []string{models.StepDeepenCurrentLevel}, msg.SuggestedNextSteps)
	assert.Contains(t, svc.lastText, "Wirklich nie?")
	assert.Equal(t, int32(1), svc.usage.Load())
}

func TestBuildFeedback_RemoteFailureFallsBack(t *testing.T) {
	result := models.AnalysisResult{Patterns: []models.DetectedPattern{{Category: models.CategoryUniversalQuantifier, MatchedKeyword: "nie", FollowUpQuestion: "Wirklich nie?"}}}
	aud := Audience{UserID: "u1", ModuleID: "metamodel"}
	local := localFeedback(result, models.LevelAssessment{Previous: 1, Next: 1})

	cases := map[string]*fakeService{
		"start fails": {startErr: errors.New("down")},
		"send fails":  {sendErr: errors.New("down")},
		"empty reply": {reply: "   "},
	}
	for name, svc := range cases {
		t.Run(name, func(t *testing.T) {
			b := NewResponseBuilder(NewSessionManager(svc))
			msg := b.BuildFeedback(context.Background(), aud, result, models.LevelAssessment{Previous: 1, Next: 1})
			assert.Equal(t, local.Body, msg.Body)
		})
	}
}

func TestBuildWelcome_Variants(t *testing.T) {
	b := NewResponseBuilder(nil)
	ctx := context.Background()
	userCtx := &models.UserContext{Name: "Anna", MainChallenge: "Prokrastination"}

	meta := b.BuildWelcome(ctx, Audience{ModuleID: "metamodel", Context: userCtx})
	assert.Equal(t, models.CoachMessageWelcome, meta.Kind)
	assert.True(t, strings.HasPrefix(meta.Body, "Willkommen beim Meta-Modell, Anna!"))
	assert.Contains(t, meta.Body, "Prokrastination")
	assert.Equal(t, []string{models.StepStartExercise}, meta.SuggestedNextSteps)

	gate := b.BuildWelcome(ctx, Audience{ModuleID: "genius_gate"})
	assert.True(t, strings.HasPrefix(gate.Body, "Willkommen am Genius Gate!"))

	incong := b.BuildWelcome(ctx, Audience{ModuleID: "incongruence", Context: userCtx})
	assert.Contains(t, incong.Body, "Inkongruenz")

	generic := b.BuildWelcome(ctx, Audience{ModuleID: "journal"})
	assert.True(t, strings.HasPrefix(generic.Body, "Willkommen!"))
}

func TestBuildWelcome_RemoteGreeting(t *testing.T) {
	svc := &fakeService{greeting: "Hallo Anna, los geht's."}
	b := NewResponseBuilder(NewSessionManager(svc))
	msg := b.BuildWelcome(context.Background(), Audience{UserID: "u1", ModuleID: "metamodel"})
	assert.Equal(t, "Hallo Anna, los geht's.", msg.Body)
	assert.Equal(t, []string{models.StepStartExercise}, msg.SuggestedNextSteps)

	empty := NewResponseBuilder(NewSessionManager(&fakeService{}))
	msg = empty.BuildWelcome(context.Background(), Audience{UserID: "u1", ModuleID: "metamodel"})
	assert.True(t, strings.HasPrefix(msg.Body, "Willkommen beim Meta-Modell"))
}

func TestRespond_ScenarioA(t *testing.T) {
	st := store.NewInMemoryStore()
	require.NoError(t, st.PutAnswer("u1", "metamodel", LevelKey, "2"))
	c := NewCoach(heuristicOnly(), nil, st)

	fb, err := c.Respond(context.Background(), "u1", "metamodel", "Ich schaffe das nie!", nil)
	require.NoError(t, err)

	require.Len(t, fb.Analysis.Patterns, 1)
	assert.Equal(t, models.CategoryUniversalQuantifier, fb.Analysis.Patterns[0].Category)
	assert.Equal(t, "nie", fb.Analysis.Patterns[0].MatchedKeyword)
	assert.True(t, fb.Analysis.UsedFallback)
	assert.Equal(t, models.LevelAssessment{Previous: 2, Next: 2}, fb.Assessment)
	assert.Equal(t, []string{models.StepDeepenCurrentLevel}, fb.Message.SuggestedNextSteps)

	level, stored, err := c.Level("u1", "metamodel")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, models.ProficiencyLevel(2), level)
}

func TestRespond_LevelUpIsStored(t *testing.T) {
	st := store.NewInMemoryStore()
	c := NewCoach(heuristicOnly(), nil, st)

	fb, err := c.Respond(context.Background(), "u1", "metamodel", "Weil alle immer schon etwas von mir wollen", nil)
	require.NoError(t, err)
	assert.Len(t, fb.Analysis.Patterns, 4)
	assert.Equal(t, models.LevelAssessment{Previous: 1, Next: 2}, fb.Assessment)

	v, ok, _ := st.GetAnswer("u1", "metamodel", LevelKey)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestRespond_InvalidStatement(t *testing.T) {
	c := NewCoach(heuristicOnly(), nil, store.NewInMemoryStore())
	_, err := c.Respond(context.Background(), "u1", "metamodel", "   ", nil)
	assert.ErrorIs(t, err, models.ErrEmptyStatement)

	_, err = c.Respond(context.Background(), "u1", "metamodel", strings.Repeat("a", models.MaxStatementLength+1), nil)
	assert.ErrorIs(t, err, models.ErrStatementTooLong)
}

func TestRespond_PersistenceDegraded(t *testing.T) {
	ctx := context.Background()

	putFails := NewCoach(heuristicOnly(), nil, &failingStore{InMemoryStore: store.NewInMemoryStore(), failPut: true})
	fb, err := putFails.Respond(ctx, "u1", "metamodel", "Ich schaffe das nie!", nil)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.NotEmpty(t, fb.Message.Body)

	getFails := NewCoach(heuristicOnly(), nil, &failingStore{InMemoryStore: store.NewInMemoryStore(), failGet: true})
	fb, err = getFails.Respond(ctx, "u1", "metamodel", "Ich schaffe das nie!", nil)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, models.MinLevel, fb.Assessment.Previous)
	assert.Len(t, fb.Analysis.Patterns, 1)
}

func TestLevel_MalformedValueDefaults(t *testing.T) {
	st := store.NewInMemoryStore()
	require.NoError(t, st.PutAnswer("u1", "metamodel", LevelKey, "abc"))
	c := NewCoach(heuristicOnly(), nil, st)
	level, stored, err := c.Level("u1", "metamodel")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, models.MinLevel, level)
}

func TestEvaluate_ClampsLevel(t *testing.T) {
	c := NewCoach(heuristicOnly(), nil, nil)
	fb, err := c.Evaluate(context.Background(), Audience{}, "Ich schaffe das nie!", 9)
	require.NoError(t, err)
	assert.Equal(t, models.LevelAssessment{Previous: 5, Next: 5}, fb.Assessment)
}
