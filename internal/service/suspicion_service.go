package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

const (
	// Patterns scoring below this confidence contribute nothing.
	confidenceFloor = 50
	// Minimum answered questions before answer-based patterns apply.
	minAnswerSamples = 5
	// Consecutive answers closer than this are "rapid".
	rapidAnswerGap = 5 * time.Second
	// Same displayed option position across this share of answers is a
	// single-option pattern.
	dominanceThreshold = 0.66
)

// Relative weight of each pattern in the aggregate score.
var behaviorWeights = map[model.BehaviorType]int{
	model.BehaviorExcessiveDisconnects: 30,
	model.BehaviorPatternAnswers:       25,
	model.BehaviorRapidAnswers:         20,
	model.BehaviorTabSwitching:         15,
	model.BehaviorUnusualTiming:        10,
}

// SuspicionService analyzes a session and its event log for scored
// behavior patterns. It is strictly read-only with respect to the
// session: it reports, the caller enforces.
type SuspicionService struct {
	sessions    SessionStore
	assignments AssignmentStore
	eventLog    EventStore
	behaviors   BehaviorStore
	events      EventSink
	cfg         *config.Config
	log         zerolog.Logger
}

// NewSuspicionService creates a new SuspicionService.
func NewSuspicionService(
	sessions SessionStore,
	assignments AssignmentStore,
	eventLog EventStore,
	behaviors BehaviorStore,
	events EventSink,
	cfg *config.Config,
	log zerolog.Logger,
) *SuspicionService {
	return &SuspicionService{
		sessions:    sessions,
		assignments: assignments,
		eventLog:    eventLog,
		behaviors:   behaviors,
		events:      events,
		cfg:         cfg,
		log:         log.With().Str("component", "suspicion_service").Logger(),
	}
}

// Analyze scores every pattern against the session's current state and
// event history. Missing or partial history lowers confidence, never
// errors: a pattern without enough samples simply scores zero.
func (s *SuspicionService) Analyze(ctx context.Context, sessionID uuid.UUID) (*model.BehaviorReport, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := s.eventLog.ListBySession(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Event history unavailable, analyzing session state only")
		history = nil
	}

	now := time.Now()
	report := &model.BehaviorReport{
		SessionID:  sessionID,
		StudentID:  session.StudentID,
		AnalyzedAt: now,
	}

	findings := []*finding{
		s.checkExcessiveDisconnects(session, history),
		s.checkRapidAnswers(history),
		s.checkPatternAnswers(session),
		s.checkTabSwitching(history),
		s.checkUnusualTiming(ctx, session, history),
	}

	weighted := 0
	for _, f := range findings {
		if f == nil || f.confidence < confidenceFloor {
			continue
		}
		weighted += behaviorWeights[f.kind] * f.confidence / 100

		record := model.SuspiciousBehaviorRecord{
			ID:          uuid.New(),
			SessionID:   sessionID,
			StudentID:   session.StudentID,
			Type:        f.kind,
			DetectedAt:  now,
			Description: f.description,
			Evidence:    f.evidence,
			Confidence:  f.confidence,
		}
		record.Level = model.LevelForScore(f.confidence)
		report.Behaviors = append(report.Behaviors, record)
		report.RiskFactors = append(report.RiskFactors, f.risks...)
	}

	report.Score = weighted
	report.Level = model.LevelForScore(weighted)
	report.Recommendations = s.recommend(report)

	s.persist(ctx, report)
	return report, nil
}

// ListFindings returns previously persisted findings for a session.
func (s *SuspicionService) ListFindings(ctx context.Context, sessionID uuid.UUID) ([]model.SuspiciousBehaviorRecord, error) {
	return s.behaviors.ListBySession(ctx, sessionID)
}

type finding struct {
	kind        model.BehaviorType
	confidence  int
	description string
	evidence    map[string]interface{}
	risks       []string
}

func (s *SuspicionService) checkExcessiveDisconnects(session *model.ExamSession, history []model.ExamEvent) *finding {
	count := session.DisconnectCount
	if count == 0 {
		return nil
	}

	confidence := count * 100 / (s.cfg.MaxReconnects + 1)

	// Clustered disconnects weigh heavier than spread-out ones.
	var stamps []time.Time
	for _, ev := range history {
		if ev.Type == model.EventDisconnected {
			stamps = append(stamps, ev.CreatedAt)
		}
	}
	clustered := 0
	for i := 1; i < len(stamps); i++ {
		if stamps[i].Sub(stamps[i-1]) < 2*time.Minute {
			clustered++
		}
	}
	confidence += clustered * 10

	quota := 2 * s.cfg.GracePeriodSeconds
	if quota > 0 && session.TotalGrace*2 >= quota {
		confidence += 15
	}
	if confidence > 100 {
		confidence = 100
	}

	f := &finding{
		kind:        model.BehaviorExcessiveDisconnects,
		confidence:  confidence,
		description: fmt.Sprintf("%d disconnects recorded for this session", count),
		evidence: map[string]interface{}{
			"disconnectCount":      count,
			"maxReconnects":        s.cfg.MaxReconnects,
			"clusteredDisconnects": clustered,
			"totalGraceSeconds":    session.TotalGrace,
		},
	}
	if count >= s.cfg.MaxReconnects {
		f.risks = append(f.risks, "disconnect count reached the configured reconnect limit")
	}
	if clustered > 0 {
		f.risks = append(f.risks, "multiple disconnects within short intervals")
	}
	return f
}

func (s *SuspicionService) checkRapidAnswers(history []model.ExamEvent) *finding {
	var stamps []time.Time
	for _, ev := range history {
		if ev.Type == model.EventAnswerUpdated {
			stamps = append(stamps, ev.CreatedAt)
		}
	}
	if len(stamps) < minAnswerSamples {
		return nil
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	rapid := 0
	for i := 1; i < len(stamps); i++ {
		if stamps[i].Sub(stamps[i-1]) < rapidAnswerGap {
			rapid++
		}
	}
	gaps := len(stamps) - 1
	ratio := float64(rapid) / float64(gaps)
	confidence := int(ratio * 100)

	f := &finding{
		kind:        model.BehaviorRapidAnswers,
		confidence:  confidence,
		description: fmt.Sprintf("%d of %d answer intervals under %s", rapid, gaps, rapidAnswerGap),
		evidence: map[string]interface{}{
			"rapidIntervals": rapid,
			"totalIntervals": gaps,
			"rapidRatio":     ratio,
		},
	}
	if ratio >= 0.5 {
		f.risks = append(f.risks, "half or more of the answers were submitted within seconds of each other")
	}
	return f
}

// checkPatternAnswers inspects the displayed position of each chosen
// option: overwhelming single-position selection, A-B-C-D cycling, and
// short repeating subsequences.
func (s *SuspicionService) checkPatternAnswers(session *model.ExamSession) *finding {
	positions := make([]int, 0, len(session.Answers))
	for _, qid := range session.QuestionOrder {
		selected, ok := session.Answers[qid]
		if !ok || len(selected) == 0 {
			continue
		}
		order := session.OptionOrders[qid]
		for idx, optionID := range order {
			if optionID == selected[0] {
				positions = append(positions, idx)
				break
			}
		}
	}
	if len(positions) < minAnswerSamples {
		return nil
	}

	counts := make(map[int]int)
	for _, p := range positions {
		counts[p]++
	}
	dominant, dominantPos := 0, 0
	for pos, c := range counts {
		if c > dominant {
			dominant, dominantPos = c, pos
		}
	}
	dominance := float64(dominant) / float64(len(positions))

	cycling := isCycling(positions)
	repeatLen := shortestRepeat(positions)

	confidence := 0
	switch {
	case dominance >= dominanceThreshold:
		confidence = int(dominance * 100)
	case cycling:
		confidence = 75
	case repeatLen > 0:
		confidence = 60
	}
	if confidence == 0 {
		return nil
	}

	f := &finding{
		kind:        model.BehaviorPatternAnswers,
		confidence:  confidence,
		description: "answer sequence follows a mechanical pattern",
		evidence: map[string]interface{}{
			"sameAnswerPattern": dominance,
			"dominantPosition":  dominantPos,
			"sequentialPattern": cycling,
			"answeredCount":     len(positions),
		},
	}
	if repeatLen > 0 {
		f.evidence["repeatingSubsequenceLength"] = repeatLen
	}
	if dominance >= dominanceThreshold {
		f.risks = append(f.risks, fmt.Sprintf("%.0f%% of answers sit at the same displayed position", dominance*100))
	}
	if cycling {
		f.risks = append(f.risks, "answers cycle through option positions sequentially")
	}
	return f
}

func (s *SuspicionService) checkTabSwitching(history []model.ExamEvent) *finding {
	switches := 0
	for _, ev := range history {
		if ev.Type != model.EventDisconnected {
			continue
		}
		switch ev.Payload["disconnect_type"] {
		case string(model.DisconnectPageHidden), string(model.DisconnectWindowBlur), string(model.DisconnectTabSwitch):
			switches++
		}
	}
	if switches == 0 {
		return nil
	}

	confidence := 30 + switches*15
	if confidence > 100 {
		confidence = 100
	}

	f := &finding{
		kind:        model.BehaviorTabSwitching,
		confidence:  confidence,
		description: fmt.Sprintf("%d visibility or focus losses recorded", switches),
		evidence: map[string]interface{}{
			"switchCount": switches,
		},
	}
	if switches > 3 {
		f.risks = append(f.risks, "repeated tab or window switching during the exam")
	}
	return f
}

// checkUnusualTiming compares observed answer pacing against the
// per-question budget implied by the assignment duration.
func (s *SuspicionService) checkUnusualTiming(ctx context.Context, session *model.ExamSession, history []model.ExamEvent) *finding {
	if len(session.QuestionOrder) == 0 {
		return nil
	}
	assignment, err := s.assignments.Get(ctx, session.AssignmentID)
	if err != nil || assignment.DurationMinutes <= 0 {
		return nil
	}

	var stamps []time.Time
	for _, ev := range history {
		if ev.Type == model.EventAnswerUpdated {
			stamps = append(stamps, ev.CreatedAt)
		}
	}
	if len(stamps) < minAnswerSamples {
		return nil
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	budget := float64(assignment.DurationMinutes*60) / float64(len(session.QuestionOrder))
	observed := stamps[len(stamps)-1].Sub(stamps[0]).Seconds() / float64(len(stamps)-1)
	if observed <= 0 {
		observed = 0.1
	}

	// Only a pace far below budget is suspicious; slow pacing is not.
	deviation := budget / observed
	if deviation < 3 {
		return nil
	}
	confidence := int(deviation * 15)
	if confidence > 100 {
		confidence = 100
	}

	return &finding{
		kind:        model.BehaviorUnusualTiming,
		confidence:  confidence,
		description: fmt.Sprintf("average %.1fs per answer against a %.1fs budget", observed, budget),
		evidence: map[string]interface{}{
			"budgetSecondsPerQuestion":   budget,
			"observedSecondsPerQuestion": observed,
			"deviationFactor":            deviation,
		},
		risks: []string{"answer pace is far below the expected per-question budget"},
	}
}

// recommend maps the report to a deduplicated action list.
func (s *SuspicionService) recommend(report *model.BehaviorReport) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}

	switch report.Level {
	case model.SuspicionCritical:
		add("terminate the session now")
		add("flag the attempt for manual review")
	case model.SuspicionHigh:
		add("flag the attempt for manual review")
		add("monitor the session closely")
	case model.SuspicionMedium:
		add("monitor the session closely")
	}

	for _, b := range report.Behaviors {
		switch b.Type {
		case model.BehaviorExcessiveDisconnects:
			add("verify the student's network conditions before granting further grace")
		case model.BehaviorPatternAnswers, model.BehaviorRapidAnswers:
			add("compare the submitted answers against the question difficulty")
		case model.BehaviorTabSwitching:
			add("remind the student of the fullscreen and tab policy")
		}
	}
	return out
}

// persist stores the findings and flags high scores on the audit
// trail. Best effort: analysis output is returned to the caller even
// when persistence fails.
func (s *SuspicionService) persist(ctx context.Context, report *model.BehaviorReport) {
	for i := range report.Behaviors {
		if err := s.behaviors.Create(ctx, &report.Behaviors[i]); err != nil {
			s.log.Warn().Err(err).Str("session_id", report.SessionID.String()).Msg("Failed to persist behavior finding")
		}
	}

	if report.Level == model.SuspicionLow {
		return
	}
	s.events.Append(ctx, &model.ExamEvent{
		SessionID: report.SessionID,
		Type:      model.EventSuspicionFlagged,
		Severity:  model.SeverityWarning,
		Payload: map[string]interface{}{
			"score":          report.Score,
			"level":          string(report.Level),
			"behavior_count": len(report.Behaviors),
		},
	})
}

// isCycling reports whether displayed positions advance by one with
// wraparound (A-B-C-D-A...).
func isCycling(positions []int) bool {
	if len(positions) < minAnswerSamples {
		return false
	}
	max := 0
	for _, p := range positions {
		if p > max {
			max = p
		}
	}
	if max < 2 {
		return false
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] != (positions[i-1]+1)%(max+1) {
			return false
		}
	}
	return true
}

// shortestRepeat returns the length of the shortest subsequence (2-4)
// that repeats across the whole position list, or 0 when none does.
func shortestRepeat(positions []int) int {
	for length := 2; length <= 4; length++ {
		if len(positions) < length*2 {
			return 0
		}
		matches := true
		for i := length; i < len(positions); i++ {
			if positions[i] != positions[i-length] {
				matches = false
				break
			}
		}
		if matches {
			return length
		}
	}
	return 0
}
