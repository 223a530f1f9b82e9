package pmode

import (
	"errors"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

var (
	// ErrNoMatchingLeg is returned when no process/leg matches the context.
	ErrNoMatchingLeg = errors.New("no matching leg")
	// ErrAmbiguousLeg is returned when agreement ranking still leaves more
	// than one matching leg.
	ErrAmbiguousLeg = errors.New("ambiguous leg resolution")
)

// LegResolver finds the leg configuration governing a message.
type LegResolver struct {
	cfg *Configuration
}

// NewLegResolver creates a resolver over a loaded configuration.
func NewLegResolver(cfg *Configuration) *LegResolver {
	return &LegResolver{cfg: cfg}
}

// candidate is one leg match with its agreement rank.
type candidate struct {
	process *Process
	leg     *LegConfiguration
	exact   bool // agreement matched by name, not by wildcard
}

// Resolve selects the leg whose owning process matches the context: the
// process must own the named leg (or, without a leg hint, a leg bound to
// the context's service and action), its initiator set must contain the
// sender, its responder set the receiver, and its agreement must match the
// context's agreement by name or be absent (the wildcard). An exact
// agreement match outranks the wildcard; if more than one leg still
// matches, the configuration is ambiguous and resolution fails rather than
// guessing.
func (r *LegResolver) Resolve(pc ProcessingContext) (*LegConfiguration, *Process, error) {
	var candidates []candidate

	for _, proc := range r.cfg.processes {
		if !matchParties(proc, pc.SenderParty, pc.ReceiverParty) {
			continue
		}

		exact, ok := matchAgreement(proc, pc.Agreement)
		if !ok {
			continue
		}

		for _, legName := range proc.Legs {
			leg := r.cfg.legs[legName]
			if pc.Leg != "" {
				if legName != pc.Leg {
					continue
				}
			} else if leg.Service != pc.Service || leg.Action != pc.Action {
				continue
			}
			candidates = append(candidates, candidate{process: proc, leg: leg, exact: exact})
		}
	}

	if len(candidates) == 0 {
		return nil, nil, ebms.NewConfigurationErrorFrom(ErrNoMatchingLeg,
			"no matching leg found for context [%s]", pc.PModeKey())
	}

	// Exact agreement matches outrank wildcard matches.
	var exact, wildcard []candidate
	for _, c := range candidates {
		if c.exact {
			exact = append(exact, c)
		} else {
			wildcard = append(wildcard, c)
		}
	}
	best := wildcard
	if len(exact) > 0 {
		best = exact
	}

	if len(best) > 1 {
		return nil, nil, ebms.NewConfigurationErrorFrom(ErrAmbiguousLeg,
			"ambiguous leg resolution for context [%s]: %d legs match", pc.PModeKey(), len(best))
	}

	return best[0].leg, best[0].process, nil
}

// matchParties tests the party orientation of a process against a message
// flowing sender -> receiver. In a push exchange the message sender is the
// process initiator. In a pull exchange the roles invert: the puller
// initiates the exchange, so the message sender sits on the responder
// side.
func matchParties(p *Process, sender, receiver string) bool {
	if p.IsPull() {
		return p.HasResponder(sender) && p.HasInitiator(receiver)
	}
	return p.HasInitiator(sender) && p.HasResponder(receiver)
}

// matchAgreement reports whether the process accepts the submission's
// agreement, and whether the match is exact. A process without an agreement
// is the wildcard: it accepts anything. A process naming an agreement only
// accepts a submission naming the same one.
func matchAgreement(p *Process, agreement string) (exact, ok bool) {
	if p.Agreement == "" {
		return false, true
	}
	return true, p.Agreement == agreement
}
