package pmode

import (
	"time"
)

// Message exchange pattern URIs
const (
	MepOneWay = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay"
	MepTwoWay = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/twoWay"
)

// MEP binding URIs
const (
	BindingPush        = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/push"
	BindingPull        = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pull"
	BindingPushAndPush = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pushAndPush"
)

// DefaultMpc is the message partition channel assigned when neither the leg
// nor a party-specific override names one.
const DefaultMpc = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultMPC"

// AgreementEmpty is the wildcard sentinel distinguishing "no agreement
// configured on this process" (which matches any submission agreement) from
// a process naming a concrete agreement.
const AgreementEmpty = "agreementEmpty"

// PartyIdentifier is one typed identifier of a trading partner.
type PartyIdentifier struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

// Party is a trading partner. Immutable once loaded from configuration.
type Party struct {
	Name        string            `yaml:"name"`
	Identifiers []PartyIdentifier `yaml:"identifiers"`
	Endpoint    string            `yaml:"endpoint"`
}

// Role describes the role a party plays in a process.
type Role struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Service identifies the business service addressed by a leg.
type Service struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

// PropertyType is the closed set of datatypes a declared message property
// may take.
type PropertyType string

const (
	PropertyString  PropertyType = "string"
	PropertyInt     PropertyType = "int"
	PropertyBoolean PropertyType = "boolean"
)

// PropertyDefinition declares one message property a leg accepts.
type PropertyDefinition struct {
	Name     string       `yaml:"name"`
	Key      string       `yaml:"key"`
	Datatype PropertyType `yaml:"datatype"`
	Required bool         `yaml:"required"`
}

// PropertySet is the property profile of a leg. An empty set disables
// property validation for that leg.
type PropertySet struct {
	Properties []PropertyDefinition `yaml:"properties"`
}

// Find returns the definition of a named property, or nil.
func (s PropertySet) Find(name string) *PropertyDefinition {
	for i := range s.Properties {
		if s.Properties[i].Name == name {
			return &s.Properties[i]
		}
	}
	return nil
}

// Empty reports whether the profile declares no properties.
func (s PropertySet) Empty() bool { return len(s.Properties) == 0 }

// PayloadProfile constrains the payload parts of a leg.
type PayloadProfile struct {
	MaxSize  int64 `yaml:"maxSize"`
	Compress bool  `yaml:"compress"`
}

// ErrorHandling configures producer notification on delivery errors.
type ErrorHandling struct {
	ReportAsResponse               bool `yaml:"reportAsResponse"`
	ProcessErrorNotifyProducer     bool `yaml:"processErrorNotifyProducer"`
	DeliveryFailuresNotifyProducer bool `yaml:"deliveryFailuresNotifyProducer"`
	MissingReceiptNotifyProducer   bool `yaml:"missingReceiptNotifyProducer"`
}

// ReceptionAwareness carries the reliability parameters of a leg.
// RetryCount is the number of retries after the original attempt, so the
// total attempt budget is RetryCount+1.
type ReceptionAwareness struct {
	RetryCount   int           `yaml:"retryCount"`
	RetryTimeout time.Duration `yaml:"retryTimeout"`
}

// LegConfiguration is the lowest-level configuration unit: one exchange
// direction bound to a service/action with its reliability parameters.
// The leg name is the join key used by processes and by resolution.
type LegConfiguration struct {
	Name               string             `yaml:"name"`
	Service            string             `yaml:"service"` // service name reference
	Action             string             `yaml:"action"`
	DefaultMpc         string             `yaml:"defaultMpc"`
	ReceptionAwareness ReceptionAwareness `yaml:"receptionAwareness"`
	PropertySet        PropertySet        `yaml:"propertySet"`
	PayloadProfile     PayloadProfile     `yaml:"payloadProfile"`
	ErrorHandling      ErrorHandling      `yaml:"errorHandling"`

	// MpcOverrides maps a counterpart party name to the MPC used for that
	// party instead of DefaultMpc.
	MpcOverrides map[string]string `yaml:"mpcOverrides"`
}

// QualifiedMpc returns the leg's default MPC, falling back to the protocol
// default when none is configured.
func (l *LegConfiguration) QualifiedMpc() string {
	if l.DefaultMpc != "" {
		return l.DefaultMpc
	}
	return DefaultMpc
}

// MpcFor returns the MPC used for messages exchanged with the given
// counterpart party: per-party override, then the leg default, then the
// protocol default.
func (l *LegConfiguration) MpcFor(partyName string) string {
	if mpc, ok := l.MpcOverrides[partyName]; ok && mpc != "" {
		return mpc
	}
	return l.QualifiedMpc()
}

// Process groups initiator and responder parties with the legs governing
// their exchanges.
type Process struct {
	Name       string `yaml:"name"`
	Mep        string `yaml:"mep"`
	MepBinding string `yaml:"binding"`

	Agreement     string `yaml:"agreement"` // agreement name, empty for wildcard
	InitiatorRole Role   `yaml:"initiatorRole"`
	ResponderRole Role   `yaml:"responderRole"`

	// DynamicInitiator/DynamicResponder relax the membership test to accept
	// any party on that side.
	DynamicInitiator bool     `yaml:"dynamicInitiator"`
	DynamicResponder bool     `yaml:"dynamicResponder"`
	Initiators       []string `yaml:"initiators"` // party names, unordered
	Responders       []string `yaml:"responders"`

	Legs []string `yaml:"legs"` // leg names
}

// IsPull reports whether the process is bound to the one-way pull MEP.
func (p *Process) IsPull() bool {
	return p.MepBinding == BindingPull
}

// HasInitiator tests membership of a party in the initiator set by name.
func (p *Process) HasInitiator(name string) bool {
	if p.DynamicInitiator {
		return true
	}
	return containsName(p.Initiators, name)
}

// HasResponder tests membership of a party in the responder set by name.
func (p *Process) HasResponder(name string) bool {
	if p.DynamicResponder {
		return true
	}
	return containsName(p.Responders, name)
}

// HasLeg reports whether the process owns a leg with the given name.
func (p *Process) HasLeg(name string) bool {
	return containsName(p.Legs, name)
}

// AgreementName returns the process agreement name or the wildcard sentinel
// when no agreement is configured.
func (p *Process) AgreementName() string {
	if p.Agreement == "" {
		return AgreementEmpty
	}
	return p.Agreement
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
