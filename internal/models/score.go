package models

// Score is the traffic-light verdict for a day, ordered green < yellow < red.
type Score string

const (
	ScoreGreen  Score = "green"
	ScoreYellow Score = "yellow"
	ScoreRed    Score = "red"
)

// Rank returns 0, 1 or 2 for green, yellow and red, and -1 for anything else.
func (s Score) Rank() int {
	switch s {
	case ScoreGreen:
		return 0
	case ScoreYellow:
		return 1
	case ScoreRed:
		return 2
	default:
		return -1
	}
}

func (s Score) Valid() bool {
	return s.Rank() >= 0
}

// Escalate returns whichever score is more severe. It never downgrades.
func Escalate(current, candidate Score) Score {
	if candidate.Rank() > current.Rank() {
		return candidate
	}
	return current
}

// Footing is the rider-reported ground condition.
type Footing string

const (
	FootingGood   Footing = "good"
	FootingSoft   Footing = "soft"
	FootingUnsafe Footing = "unsafe"
)

func (f Footing) Rank() int {
	switch f {
	case FootingGood:
		return 0
	case FootingSoft:
		return 1
	case FootingUnsafe:
		return 2
	default:
		return -1
	}
}

func (f Footing) Valid() bool {
	return f.Rank() >= 0
}

type FeedbackClass string

const (
	ClassCorrect         FeedbackClass = "correct"
	ClassTooConservative FeedbackClass = "too_conservative"
	ClassTooAggressive   FeedbackClass = "too_aggressive"
)

// ClassifyFeedback compares what was predicted with what the rider found.
// A prediction more cautious than reality is too conservative.
func ClassifyFeedback(predicted Score, actual Footing) FeedbackClass {
	p, a := predicted.Rank(), actual.Rank()
	switch {
	case p > a:
		return ClassTooConservative
	case p < a:
		return ClassTooAggressive
	default:
		return ClassCorrect
	}
}
