package swap

import "fmt"

type Step string

const (
	StepWrap    Step = "WRAP"
	StepApprove Step = "APPROVE"
	StepSign    Step = "SIGN"
	StepSendTx  Step = "SEND_TX"
)

// stepOrder is the only order steps ever run in.
var stepOrder = []Step{StepWrap, StepApprove, StepSign, StepSendTx}

// StepStatus is "" until the step starts.
type StepStatus string

const (
	StatusUndefined StepStatus = ""
	StatusPending   StepStatus = "pending"
	StatusLoading   StepStatus = "loading"
	StatusSuccess   StepStatus = "success"
	StatusFailed    StepStatus = "failed"
)

// ApplicableSteps returns the steps a swap runs: WRAP only for a native from
// token, APPROVE only without sufficient allowance, SIGN and SEND_TX always.
func ApplicableSteps(fromNative, approved bool) []Step {
	out := make([]Step, 0, len(stepOrder))
	for _, s := range stepOrder {
		switch s {
		case StepWrap:
			if !fromNative {
				continue
			}
		case StepApprove:
			if approved {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// Steps is the step machine of one session: the applicable steps, the one
// currently running and the status of each.
type Steps struct {
	Applicable []Step              `json:"applicable"`
	Current    Step                `json:"current,omitempty"`
	Status     map[Step]StepStatus `json:"status"`
}

func NewSteps(applicable []Step) Steps {
	return Steps{Applicable: append([]Step(nil), applicable...), Status: map[Step]StepStatus{}}
}

func (s Steps) Has(step Step) bool {
	for _, a := range s.Applicable {
		if a == step {
			return true
		}
	}
	return false
}

func (s Steps) StatusOf(step Step) StepStatus {
	return s.Status[step]
}

// Begin moves step from undefined to loading and makes it current.
func (s *Steps) Begin(step Step) error {
	if !s.Has(step) {
		return fmt.Errorf("step %s is not applicable", step)
	}
	if st := s.Status[step]; st != StatusUndefined && st != StatusPending {
		return fmt.Errorf("step %s cannot start from %q", step, st)
	}
	for _, a := range s.Applicable {
		if a == step {
			break
		}
		if s.Status[a] != StatusSuccess {
			return fmt.Errorf("step %s cannot start before %s succeeds", step, a)
		}
	}
	if s.Status == nil {
		s.Status = map[Step]StepStatus{}
	}
	s.Current = step
	s.Status[step] = StatusLoading
	return nil
}

// Finish settles a loading step.
func (s *Steps) Finish(step Step, ok bool) error {
	if s.Status[step] != StatusLoading {
		return fmt.Errorf("step %s is not running", step)
	}
	if ok {
		s.Status[step] = StatusSuccess
	} else {
		s.Status[step] = StatusFailed
	}
	return nil
}

func (s Steps) clone() Steps {
	out := Steps{Applicable: append([]Step(nil), s.Applicable...), Current: s.Current, Status: make(map[Step]StepStatus, len(s.Status))}
	for k, v := range s.Status {
		out.Status[k] = v
	}
	return out
}
