package scheduler

type Phase int32

const (
	Idle Phase = iota
	FetchingCandidates
	Probing
	Swapping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case FetchingCandidates:
		return "fetching_candidates"
	case Probing:
		return "probing"
	case Swapping:
		return "swapping"
	}
	return "unknown"
}
