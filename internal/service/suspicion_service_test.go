package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSuspicionFixture(session *model.ExamSession, history []model.ExamEvent) (*SuspicionService, *memBehaviorStore, *captureSink) {
	cfg := testConfig()
	sessions := newMemSessionStore()
	_ = sessions.Create(context.Background(), session)

	assignments := &memAssignmentStore{assignments: map[string]*model.Assignment{
		session.AssignmentID: testAssignment(session.AssignmentID, len(session.QuestionOrder), model.AntiCheatConfig{}),
	}}
	behaviors := &memBehaviorStore{}
	sink := &captureSink{}
	svc := NewSuspicionService(sessions, assignments, &memEventStore{history: history}, behaviors, sink, cfg, zerolog.Nop())
	return svc, behaviors, sink
}

// patternSession builds an in-progress session with n questions where
// every answer sits at the same displayed option position.
func patternSession(n int, position int) *model.ExamSession {
	order := make([]string, n)
	optionOrders := make(map[string][]string, n)
	answers := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		qid := fmt.Sprintf("q%d", i)
		order[i] = qid
		opts := []string{qid + "-a", qid + "-b", qid + "-c", qid + "-d"}
		optionOrders[qid] = opts
		answers[qid] = []string{opts[position]}
	}
	return &model.ExamSession{
		ID:            uuid.New(),
		AssignmentID:  "exam-1",
		StudentID:     "student-1",
		Status:        model.SessionStatusInProgress,
		QuestionOrder: order,
		OptionOrders:  optionOrders,
		Answers:       answers,
		UpdatedAt:     time.Now(),
		CreatedAt:     time.Now(),
	}
}

func behaviorOfType(report *model.BehaviorReport, kind model.BehaviorType) *model.SuspiciousBehaviorRecord {
	for i := range report.Behaviors {
		if report.Behaviors[i].Type == kind {
			return &report.Behaviors[i]
		}
	}
	return nil
}

func TestAnalyzeSamePositionPattern(t *testing.T) {
	session := patternSession(10, 1)
	svc, behaviors, _ := newSuspicionFixture(session, nil)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)

	found := behaviorOfType(report, model.BehaviorPatternAnswers)
	require.NotNil(t, found, "all answers at one displayed position must be flagged")
	assert.Equal(t, 100, found.Confidence)
	assert.Equal(t, model.SuspicionCritical, found.Level)
	assert.InDelta(t, 1.0, found.Evidence["sameAnswerPattern"], 0.001)
	assert.Equal(t, 1, found.Evidence["dominantPosition"])

	persisted, err := behaviors.ListBySession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, len(report.Behaviors))
}

func TestAnalyzeIgnoresFewSamples(t *testing.T) {
	session := patternSession(4, 0)
	svc, _, _ := newSuspicionFixture(session, nil)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Nil(t, behaviorOfType(report, model.BehaviorPatternAnswers), "under the sample floor nothing is flagged")
}

func TestAnalyzeVariedAnswersClean(t *testing.T) {
	session := patternSession(8, 0)
	// Spread the answers across positions so no pattern dominates and no
	// short subsequence repeats.
	positions := []int{0, 1, 2, 0, 2, 1, 3, 0}
	for i, qid := range session.QuestionOrder {
		session.Answers[qid] = []string{session.OptionOrders[qid][positions[i]]}
	}
	svc, _, _ := newSuspicionFixture(session, nil)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuspicionLow, report.Level)
	assert.Equal(t, 0, report.Score)
	assert.Empty(t, report.Behaviors)
}

func TestAnalyzeRapidAnswers(t *testing.T) {
	session := patternSession(8, 0)
	session.Answers = map[string][]string{}

	base := time.Now().Add(-time.Minute)
	var history []model.ExamEvent
	for i := 0; i < 6; i++ {
		history = append(history, model.ExamEvent{
			SessionID: session.ID,
			Type:      model.EventAnswerUpdated,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	svc, _, _ := newSuspicionFixture(session, history)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)

	found := behaviorOfType(report, model.BehaviorRapidAnswers)
	require.NotNil(t, found)
	assert.Equal(t, 100, found.Confidence)
	assert.Contains(t, report.RiskFactors, "half or more of the answers were submitted within seconds of each other")
}

func TestAnalyzeTabSwitching(t *testing.T) {
	session := patternSession(8, 0)
	session.Answers = map[string][]string{}

	var history []model.ExamEvent
	for i := 0; i < 5; i++ {
		history = append(history, model.ExamEvent{
			SessionID: session.ID,
			Type:      model.EventDisconnected,
			Payload:   map[string]interface{}{"disconnect_type": string(model.DisconnectPageHidden)},
			CreatedAt: time.Now().Add(-time.Duration(5-i) * time.Minute),
		})
	}
	svc, _, _ := newSuspicionFixture(session, history)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)

	found := behaviorOfType(report, model.BehaviorTabSwitching)
	require.NotNil(t, found)
	assert.Equal(t, 100, found.Confidence)
	assert.Equal(t, 5, found.Evidence["switchCount"])
}

func TestAnalyzeExcessiveDisconnects(t *testing.T) {
	session := patternSession(8, 0)
	session.Answers = map[string][]string{}
	session.DisconnectCount = 3

	base := time.Now().Add(-10 * time.Minute)
	var history []model.ExamEvent
	for i := 0; i < 3; i++ {
		history = append(history, model.ExamEvent{
			SessionID: session.ID,
			Type:      model.EventDisconnected,
			Payload:   map[string]interface{}{"disconnect_type": string(model.DisconnectNetworkOffline)},
			CreatedAt: base.Add(time.Duration(i) * 30 * time.Second),
		})
	}
	svc, _, sink := newSuspicionFixture(session, history)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)

	found := behaviorOfType(report, model.BehaviorExcessiveDisconnects)
	require.NotNil(t, found)
	// 3 of (3+1) reconnects plus two clustered intervals.
	assert.Equal(t, 95, found.Confidence)
	assert.Contains(t, report.RiskFactors, "disconnect count reached the configured reconnect limit")

	if report.Level != model.SuspicionLow {
		assert.NotEmpty(t, sink.ofType(model.EventSuspicionFlagged))
	}
}

func TestAnalyzeCyclingPattern(t *testing.T) {
	session := patternSession(8, 0)
	for i, qid := range session.QuestionOrder {
		session.Answers[qid] = []string{session.OptionOrders[qid][i%4]}
	}
	svc, _, _ := newSuspicionFixture(session, nil)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)

	found := behaviorOfType(report, model.BehaviorPatternAnswers)
	require.NotNil(t, found)
	assert.Equal(t, 75, found.Confidence)
	assert.Equal(t, true, found.Evidence["sequentialPattern"])
}

func TestAnalyzeUnknownSession(t *testing.T) {
	svc, _, _ := newSuspicionFixture(patternSession(3, 0), nil)

	_, err := svc.Analyze(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecommendationsEscalateWithLevel(t *testing.T) {
	session := patternSession(10, 0)
	session.DisconnectCount = 4

	base := time.Now().Add(-5 * time.Minute)
	var history []model.ExamEvent
	for i := 0; i < 6; i++ {
		history = append(history,
			model.ExamEvent{SessionID: session.ID, Type: model.EventAnswerUpdated, CreatedAt: base.Add(time.Duration(i) * time.Second)},
			model.ExamEvent{SessionID: session.ID, Type: model.EventDisconnected, Payload: map[string]interface{}{"disconnect_type": string(model.DisconnectPageHidden)}, CreatedAt: base.Add(time.Duration(i) * 10 * time.Second)},
		)
	}
	svc, _, _ := newSuspicionFixture(session, history)

	report, err := svc.Analyze(context.Background(), session.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score, 60)
	assert.Contains(t, report.Recommendations, "flag the attempt for manual review")
}
