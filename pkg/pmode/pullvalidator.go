package pmode

import (
	"sort"
	"strings"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

// PullProcessStatus is one diagnostic outcome of pull configuration
// validation. A value type, produced by the validator and consumed for
// diagnostics only.
type PullProcessStatus string

const (
	OneMatchingProcess       PullProcessStatus = "ONE_MATCHING_PROCESS"
	NoProcesses              PullProcessStatus = "NO_PROCESSES"
	TooManyProcesses         PullProcessStatus = "TOO_MANY_PROCESSES"
	NoProcessLeg             PullProcessStatus = "NO_PROCESS_LEG"
	MoreThanOneLegForSameMpc PullProcessStatus = "MORE_THAN_ONE_LEG_FOR_THE_SAME_MPC"
	TooManyResponder         PullProcessStatus = "TOO_MANY_RESPONDER"
	NoResponder              PullProcessStatus = "NO_RESPONDER"
	InvalidMep               PullProcessStatus = "INVALID_MEP"
	InvalidSoapMessage       PullProcessStatus = "INVALID_SOAP_MESSAGE"
)

// pullStatusText is the fixed human-readable string contributed by each
// failing status to the validation error message.
var pullStatusText = map[PullProcessStatus]string{
	OneMatchingProcess:       "valid",
	NoProcesses:              "No process was found for the configuration",
	TooManyProcesses:         "More than one process matches the configuration",
	NoProcessLeg:             "No leg configuration found",
	MoreThanOneLegForSameMpc: "More than one leg for the same mpc",
	TooManyResponder:         "Pull process should have only one initiator party configured",
	NoResponder:              "No initiator party configured for pull process",
	InvalidMep:               "Invalid mep for pull process, one-way expected",
	InvalidSoapMessage:       "Invalid soap message",
}

// Description returns the fixed diagnostic text of a status.
func (s PullProcessStatus) Description() string {
	if text, ok := pullStatusText[s]; ok {
		return text
	}
	return string(s)
}

// PullProcessStatusSet is the union of statuses produced by one validation.
type PullProcessStatusSet map[PullProcessStatus]struct{}

func (set PullProcessStatusSet) add(s PullProcessStatus) {
	set[s] = struct{}{}
}

// Contains reports membership.
func (set PullProcessStatusSet) Contains(s PullProcessStatus) bool {
	_, ok := set[s]
	return ok
}

// Valid reports whether the set is exactly {ONE_MATCHING_PROCESS} — the
// only passing result.
func (set PullProcessStatusSet) Valid() bool {
	return len(set) == 1 && set.Contains(OneMatchingProcess)
}

// Statuses returns the members in stable order.
func (set PullProcessStatusSet) Statuses() []PullProcessStatus {
	out := make([]PullProcessStatus, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PullProcessValidator certifies that a set of candidate pull processes
// contains exactly one well-formed configuration. It is deliberately
// pessimistic: any ambiguity is rejected, never guessed.
type PullProcessValidator struct {
	cfg *Configuration
}

// NewPullProcessValidator creates a validator over a loaded configuration.
func NewPullProcessValidator(cfg *Configuration) *PullProcessValidator {
	return &PullProcessValidator{cfg: cfg}
}

// Validate classifies the candidate processes. Cardinality is checked
// first; for a singleton candidate the four structural checks each
// contribute their status to the set independently. The returned error is
// nil iff the set is exactly {ONE_MATCHING_PROCESS}.
func (v *PullProcessValidator) Validate(processes []*Process) (PullProcessStatusSet, error) {
	set := make(PullProcessStatusSet)

	switch {
	case len(processes) == 0:
		set.add(NoProcesses)
	case len(processes) > 1:
		set.add(TooManyProcesses)
	default:
		p := processes[0]
		set.add(v.checkMpcUniqueness(p))
		set.add(checkLegPresence(p))
		set.add(checkResponderCardinality(p))
		set.add(checkMep(p))
	}

	if set.Valid() {
		return set, nil
	}
	return set, v.asError(set)
}

// checkMpcUniqueness verifies every qualified MPC is used by at most one
// leg of the process.
func (v *PullProcessValidator) checkMpcUniqueness(p *Process) PullProcessStatus {
	seen := make(map[string]bool)
	for _, legName := range p.Legs {
		leg, err := v.cfg.GetLegConfiguration(legName)
		if err != nil {
			continue
		}
		mpc := leg.QualifiedMpc()
		if seen[mpc] {
			return MoreThanOneLegForSameMpc
		}
		seen[mpc] = true
	}
	return OneMatchingProcess
}

func checkLegPresence(p *Process) PullProcessStatus {
	if len(p.Legs) == 0 {
		return NoProcessLeg
	}
	return OneMatchingProcess
}

// checkResponderCardinality requires exactly one configured initiator
// party: the pull responder is the initiator of the underlying message.
func checkResponderCardinality(p *Process) PullProcessStatus {
	switch {
	case len(p.Initiators) == 0 && !p.DynamicInitiator:
		return NoResponder
	case len(p.Initiators) > 1:
		return TooManyResponder
	default:
		return OneMatchingProcess
	}
}

func checkMep(p *Process) PullProcessStatus {
	if p.Mep != MepOneWay {
		return InvalidMep
	}
	return OneMatchingProcess
}

func (v *PullProcessValidator) asError(set PullProcessStatusSet) error {
	var parts []string
	for _, s := range set.Statuses() {
		if s == OneMatchingProcess {
			continue
		}
		parts = append(parts, s.Description())
	}
	return ebms.NewConfigurationError("pull configuration invalid: %s", strings.Join(parts, "; "))
}
