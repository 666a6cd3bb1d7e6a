package interview

import "slices"

// Script holds the prompts and the closed answer vocabulary of an interview.
// Prompts may carry the robot's gesture markup (e.g.
// "^start(animations/Stand/Gestures/Hey_1)"), which the speech collaborator
// plays alongside the text.
type Script struct {
	// Greeting opens the interview and asks the yes/no question.
	Greeting string

	// Welcome follows an accepting answer and asks for a self-introduction.
	Welcome string

	// Strengths asks the follow-up open question.
	Strengths string

	// Closing is spoken on every path into the End phase.
	Closing string

	// AcceptWords continue the interview when recognised after the greeting.
	AcceptWords []string

	// DeclineWords end the interview. Anything unrecognised is treated the
	// same way.
	DeclineWords []string
}

// DefaultScript returns the stock job-interview script.
func DefaultScript() Script {
	return Script{
		Greeting:     "^start(animations/Stand/Gestures/Hey_1) Hello, I am your interviewer, are you looking for a job?",
		Welcome:      "^start(animations/Stand/Gestures/Explain_1) Okay, welcome to the interview. First, please introduce yourself to me.",
		Strengths:    "^start(animations/Stand/Gestures/Ask_1) Good, so what are your greatest strengths?",
		Closing:      "^start(animations/Stand/Gestures/BowShort_1) Thank you for coming in today, have a nice day.",
		AcceptWords:  []string{"yes"},
		DeclineWords: []string{"no"},
	}
}

// Vocabulary returns the accept words followed by the decline words, without
// duplicates.
func (s Script) Vocabulary() []string {
	out := make([]string, 0, len(s.AcceptWords)+len(s.DeclineWords))
	for _, w := range slices.Concat(s.AcceptWords, s.DeclineWords) {
		if !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

// accepts reports whether word is an accept word.
func (s Script) accepts(word string) bool {
	return slices.Contains(s.AcceptWords, word)
}
