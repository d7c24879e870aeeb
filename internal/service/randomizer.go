package service

import (
	"hash/fnv"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// LCG constants (Numerical Recipes). Pinned so the permutation is
// reproducible bit-for-bit across runs and deployments.
const (
	lcgMultiplier uint64 = 1664525
	lcgIncrement  uint64 = 1013904223
)

// Seed derives a deterministic per-attempt seed from student and
// assignment identity. Same inputs always yield the same seed.
func Seed(studentID, assignmentID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(studentID))
	h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	h.Write([]byte(assignmentID))
	return h.Sum64()
}

// ShuffleWithSeed returns a Fisher-Yates permutation of seq driven by a
// seeded LCG. The input is never mutated; the output is always a true
// permutation of it.
func ShuffleWithSeed(seq []string, seed uint64) []string {
	out := make([]string, len(seq))
	copy(out, seq)

	state := seed
	for i := len(out) - 1; i > 0; i-- {
		state = state*lcgMultiplier + lcgIncrement
		j := int(state % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// GenerateQuestionOrder derives the question order and per-question
// option orders for a student's attempt. Shuffling only happens where
// the anti-cheat configuration enables it; otherwise the authored order
// is kept. An assignment with zero questions yields empty orders.
func GenerateQuestionOrder(assignment *model.Assignment, studentID string, cfg model.AntiCheatConfig) ([]string, map[string][]string) {
	questionIDs := make([]string, len(assignment.Questions))
	for i, q := range assignment.Questions {
		questionIDs[i] = q.ID
	}

	seed := Seed(studentID, assignment.ID)

	order := questionIDs
	if cfg.ShuffleQuestions {
		order = ShuffleWithSeed(questionIDs, seed)
	}

	optionOrders := make(map[string][]string, len(assignment.Questions))
	for _, q := range assignment.Questions {
		if cfg.ShuffleOptions {
			// Distinct stream per question: fold the question id into
			// the seed so two questions with identical option counts do
			// not share a permutation.
			optionOrders[q.ID] = ShuffleWithSeed(q.OptionIDs, seed^Seed(studentID, q.ID))
		} else {
			authored := make([]string, len(q.OptionIDs))
			copy(authored, q.OptionIDs)
			optionOrders[q.ID] = authored
		}
	}

	return order, optionOrders
}
