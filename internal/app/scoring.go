package app

import "prepost-assessment-service/internal/domain"

// Score grades answers against the answer key. It is pure: the same inputs
// always produce the same result, so resend and recompute paths agree with
// the score stored at finalization.
//
// A slot is answered iff it holds a non-negative option index. Unanswered
// questions count as wrong but not as answered. Questions beyond the end of
// the key cannot be correct.
func Score(answers []int, key []int) domain.Result {
	res := domain.Result{PerQuestion: make([]domain.QuestionResult, len(answers))}
	for i, selected := range answers {
		correct := domain.NoAnswer
		if i < len(key) {
			correct = key[i]
		}
		answered := selected >= 0
		if !answered {
			selected = domain.NoAnswer
		}
		isCorrect := answered && correct >= 0 && selected == correct

		res.PerQuestion[i] = domain.QuestionResult{
			Index:       i,
			Selected:    selected,
			Correct:     correct,
			IsCorrect:   isCorrect,
			WasAnswered: answered,
		}
		if answered {
			res.AnsweredCount++
		}
		if isCorrect {
			res.CorrectCount++
		}
	}
	res.UnansweredCount = len(answers) - res.AnsweredCount
	res.WrongCount = len(answers) - res.CorrectCount
	return res
}
