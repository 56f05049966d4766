package bot

import "math/rand/v2"

// Rand is the subset of *rand.Rand used to pick filler replies.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Pick returns a random element of candidates, or "" if there are none.
func Pick(r Rand, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[r.IntN(len(candidates))]
}

func fillerReply(r Rand) string {
	return Pick(r, fillerReplies) + textUnknownHint
}
