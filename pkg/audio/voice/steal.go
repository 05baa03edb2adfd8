package voice

import (
	"fmt"
	"strings"
)

// StealBehavior selects which real voice gives up its slot when a more
// important voice asks to become real and the pool is full.
type StealBehavior int

const (
	// Quietest steals the least audible eligible voice. This is the default.
	Quietest StealBehavior = iota

	// Oldest steals the eligible voice that has been alive the longest.
	Oldest

	// Furthest steals the eligible voice that is furthest away. Audibility
	// already folds in distance, so it is used as the distance proxy; this
	// makes Furthest rank like Quietest for voices of equal base volume.
	Furthest

	// None never steals; requests beyond the limit stay virtual.
	None
)

// String returns the config-file name of the behaviour.
func (b StealBehavior) String() string {
	switch b {
	case Quietest:
		return "quietest"
	case Oldest:
		return "oldest"
	case Furthest:
		return "furthest"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// ParseStealBehavior converts a config-file name into a [StealBehavior].
// The empty string selects [Quietest].
func ParseStealBehavior(s string) (StealBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quietest":
		return Quietest, nil
	case "oldest":
		return Oldest, nil
	case "furthest":
		return Furthest, nil
	case "none":
		return None, nil
	}
	return Quietest, fmt.Errorf("voice: unknown steal behavior %q", s)
}

// FindVoiceToSteal returns the real voice that should give up its slot to a
// requester with the given priority and audibility.
//
// A real voice is eligible when its priority is at most requesterPriority and,
// at equal priority, it is strictly less audible than the requester. Among
// eligible voices the active [StealBehavior] picks the lowest score; equal
// scores prefer the strictly lower priority, then the lower slot index.
// FindVoiceToSteal reports false when nothing is eligible or the behaviour is
// [None].
func (p *Pool) FindVoiceToSteal(requesterPriority uint8, requesterAudibility float64) (Ref, bool) {
	if p.steal == None {
		return Ref{}, false
	}

	var victim *Voice
	var best float64
	for _, v := range p.slots {
		if v.state != Real || v.priority > requesterPriority {
			continue
		}
		if v.priority == requesterPriority && v.audibility >= requesterAudibility {
			continue
		}

		score := p.stealScore(v)
		if victim == nil || score < best || (score == best && v.priority < victim.priority) {
			victim, best = v, score
		}
	}
	if victim == nil {
		return Ref{}, false
	}
	return victim.Ref(), true
}

// stealScore ranks steal candidates; lower scores are stolen first.
func (p *Pool) stealScore(v *Voice) float64 {
	if p.steal == Oldest {
		return v.startTime
	}
	return v.audibility
}
