package pmode

import (
	"fmt"
	"strings"
)

// pModeKeySeparator joins the six segments of a P-Mode key:
// sender:receiver:service:action:agreement:leg
const pModeKeySeparator = ":"

// ProcessingContext carries the message identity attributes used to resolve
// the exchange configuration governing one message.
type ProcessingContext struct {
	SenderParty   string
	ReceiverParty string
	Service       string
	Action        string
	Agreement     string // empty means no agreement supplied
	Leg           string // leg name hint, empty before resolution
}

// PModeKey renders the composite key identifying a Process/Leg combination.
func (c ProcessingContext) PModeKey() string {
	agreement := c.Agreement
	if agreement == "" {
		agreement = AgreementEmpty
	}
	return strings.Join([]string{
		c.SenderParty, c.ReceiverParty, c.Service, c.Action, agreement, c.Leg,
	}, pModeKeySeparator)
}

// ParsePModeKey splits a composite P-Mode key back into a context.
func ParsePModeKey(key string) (ProcessingContext, error) {
	parts := strings.Split(key, pModeKeySeparator)
	if len(parts) != 6 {
		return ProcessingContext{}, fmt.Errorf("invalid pMode key [%s]: expected 6 segments, got %d", key, len(parts))
	}
	agreement := parts[4]
	if agreement == AgreementEmpty {
		agreement = ""
	}
	return ProcessingContext{
		SenderParty:   parts[0],
		ReceiverParty: parts[1],
		Service:       parts[2],
		Action:        parts[3],
		Agreement:     agreement,
		Leg:           parts[5],
	}, nil
}

// Configuration is the parsed exchange configuration. It is built once at
// load time and read-only afterwards: all lookups go through indexes keyed
// by stable names, never through object graph traversal.
type Configuration struct {
	// Party is the name of the local gateway party.
	Party string

	parties     map[string]*Party
	partiesByID map[string]*Party // identifier value -> party
	services    map[string]*Service
	legs        map[string]*LegConfiguration
	processes   map[string]*Process

	mpcs []string
}

// NewConfiguration assembles a configuration from its parts and builds the
// lookup indexes. It validates referential integrity: every leg, party and
// service referenced by a process must exist.
func NewConfiguration(localParty string, parties []*Party, services []*Service, legs []*LegConfiguration, processes []*Process) (*Configuration, error) {
	cfg := &Configuration{
		Party:       localParty,
		parties:     make(map[string]*Party, len(parties)),
		partiesByID: make(map[string]*Party),
		services:    make(map[string]*Service, len(services)),
		legs:        make(map[string]*LegConfiguration, len(legs)),
		processes:   make(map[string]*Process, len(processes)),
	}

	for _, p := range parties {
		if _, ok := cfg.parties[p.Name]; ok {
			return nil, fmt.Errorf("duplicate party [%s]", p.Name)
		}
		cfg.parties[p.Name] = p
		for _, id := range p.Identifiers {
			cfg.partiesByID[id.Value] = p
		}
	}
	for _, s := range services {
		cfg.services[s.Name] = s
	}

	seenMpc := make(map[string]bool)
	for _, l := range legs {
		if _, ok := cfg.legs[l.Name]; ok {
			return nil, fmt.Errorf("duplicate leg [%s]", l.Name)
		}
		if l.ReceptionAwareness.RetryCount < 0 {
			return nil, fmt.Errorf("leg [%s]: retry count must not be negative", l.Name)
		}
		if _, ok := cfg.services[l.Service]; !ok {
			return nil, fmt.Errorf("leg [%s] references unknown service [%s]", l.Name, l.Service)
		}
		cfg.legs[l.Name] = l
		if mpc := l.QualifiedMpc(); !seenMpc[mpc] {
			seenMpc[mpc] = true
			cfg.mpcs = append(cfg.mpcs, mpc)
		}
	}

	for _, p := range processes {
		if _, ok := cfg.processes[p.Name]; ok {
			return nil, fmt.Errorf("duplicate process [%s]", p.Name)
		}
		for _, leg := range p.Legs {
			if _, ok := cfg.legs[leg]; !ok {
				return nil, fmt.Errorf("process [%s] references unknown leg [%s]", p.Name, leg)
			}
		}
		for _, party := range append(append([]string{}, p.Initiators...), p.Responders...) {
			if _, ok := cfg.parties[party]; !ok {
				return nil, fmt.Errorf("process [%s] references unknown party [%s]", p.Name, party)
			}
		}
		cfg.processes[p.Name] = p
	}

	if localParty != "" {
		if _, ok := cfg.parties[localParty]; !ok {
			return nil, fmt.Errorf("local party [%s] is not declared", localParty)
		}
	}

	return cfg, nil
}

// GetParty looks up a party by name.
func (c *Configuration) GetParty(name string) (*Party, error) {
	p, ok := c.parties[name]
	if !ok {
		return nil, fmt.Errorf("no party found for name [%s]", name)
	}
	return p, nil
}

// GetPartyByIdentifier looks up a party by one of its identifier values.
func (c *Configuration) GetPartyByIdentifier(value string) (*Party, error) {
	p, ok := c.partiesByID[value]
	if !ok {
		return nil, fmt.Errorf("no party found for identifier [%s]", value)
	}
	return p, nil
}

// GetService looks up a service by name.
func (c *Configuration) GetService(name string) (*Service, error) {
	s, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("no service found for name [%s]", name)
	}
	return s, nil
}

// GetLegConfiguration looks up a leg by name.
func (c *Configuration) GetLegConfiguration(name string) (*LegConfiguration, error) {
	l, ok := c.legs[name]
	if !ok {
		return nil, fmt.Errorf("no leg configuration found for name [%s]", name)
	}
	return l, nil
}

// GetSenderParty returns the sender party of a P-Mode key.
func (c *Configuration) GetSenderParty(pModeKey string) (*Party, error) {
	pc, err := ParsePModeKey(pModeKey)
	if err != nil {
		return nil, err
	}
	return c.GetParty(pc.SenderParty)
}

// GetReceiverParty returns the receiver party of a P-Mode key.
func (c *Configuration) GetReceiverParty(pModeKey string) (*Party, error) {
	pc, err := ParsePModeKey(pModeKey)
	if err != nil {
		return nil, err
	}
	return c.GetParty(pc.ReceiverParty)
}

// GetMpcList returns every MPC named by a leg, protocol default included
// when a leg falls back to it.
func (c *Configuration) GetMpcList() []string {
	out := make([]string, len(c.mpcs))
	copy(out, c.mpcs)
	return out
}

// Processes returns all configured processes.
func (c *Configuration) Processes() []*Process {
	out := make([]*Process, 0, len(c.processes))
	for _, p := range c.processes {
		out = append(out, p)
	}
	return out
}

// FindProcessesByContext returns the processes whose party sets and legs
// match the given context. The agreement is not considered here; agreement
// ranking belongs to leg resolution.
func (c *Configuration) FindProcessesByContext(pc ProcessingContext) []*Process {
	var out []*Process
	for _, p := range c.processes {
		if !p.HasInitiator(pc.SenderParty) || !p.HasResponder(pc.ReceiverParty) {
			continue
		}
		if pc.Leg != "" && !p.HasLeg(pc.Leg) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FindPullProcessesByMpc returns the pull-bound processes owning a leg
// whose qualified MPC equals mpc.
func (c *Configuration) FindPullProcessesByMpc(mpc string) []*Process {
	var out []*Process
	for _, p := range c.processes {
		if !p.IsPull() {
			continue
		}
		for _, legName := range p.Legs {
			if leg, ok := c.legs[legName]; ok && leg.QualifiedMpc() == mpc {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// FindPullProcessesByInitiator returns the pull-bound processes whose
// initiator set contains the given party.
func (c *Configuration) FindPullProcessesByInitiator(partyName string) []*Process {
	var out []*Process
	for _, p := range c.processes {
		if p.IsPull() && p.HasInitiator(partyName) {
			out = append(out, p)
		}
	}
	return out
}
