package submission

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
	"github.com/sirosfoundation/go-as4-gateway/pkg/pmode"
)

// MaxMessageIDLength is the ebMS3 bound on MessageId and RefToMessageId.
const MaxMessageIDLength = 255

// DefaultMessageIDPattern accepts printable US-ASCII, the safe subset for
// ids that travel in XML attributes and MIME headers.
const DefaultMessageIDPattern = `^[\x20-\x7E]*$`

// validateMessageID checks length and format of a message identifier.
// Length violations are EBMS:0003, format violations EBMS:0001.
func validateMessageID(id, field string, pattern *regexp.Regexp) error {
	if len(id) > MaxMessageIDLength {
		return ebms.NewProtocolError(ebms.ErrorValueInconsistent,
			fmt.Sprintf("%s exceeds %d characters", field, MaxMessageIDLength))
	}
	if pattern != nil && !pattern.MatchString(id) {
		return ebms.NewProtocolError(ebms.ErrorValueNotRecognized,
			fmt.Sprintf("%s does not match the configured message id pattern", field))
	}
	return nil
}

// validateParties checks the party and role gates: sender and receiver
// must differ, the sender must be the local gateway identity, and the
// submitted roles must agree with the resolved process.
func validateParties(sub *ebms.Submission, localParty string, process *pmode.Process) error {
	if sub.FromParty == sub.ToParty {
		return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
			"sender and receiver party are identical")
	}
	if sub.FromParty != localParty {
		return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
			fmt.Sprintf("sender party %q is not the local gateway party %q", sub.FromParty, localParty))
	}
	if sub.FromRole != "" && sub.ToRole != "" && sub.FromRole == sub.ToRole {
		return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
			"sender and receiver role are identical")
	}

	senderIsInitiator := process.DynamicInitiator
	for _, name := range process.Initiators {
		if name == sub.FromParty {
			senderIsInitiator = true
		}
	}
	expectedFrom, expectedTo := process.InitiatorRole, process.ResponderRole
	if !senderIsInitiator {
		expectedFrom, expectedTo = process.ResponderRole, process.InitiatorRole
	}
	if sub.FromRole != "" && sub.FromRole != expectedFrom.Value {
		return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
			fmt.Sprintf("sender role %q does not match configured role %q", sub.FromRole, expectedFrom.Value))
	}
	if sub.ToRole != "" && sub.ToRole != expectedTo.Value {
		return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
			fmt.Sprintf("receiver role %q does not match configured role %q", sub.ToRole, expectedTo.Value))
	}
	return nil
}

// validatePayloads rejects parts carrying the system-managed compression
// property and parts over the leg's size bound.
func validatePayloads(sub *ebms.Submission, profile pmode.PayloadProfile) error {
	for i := range sub.Payloads {
		p := &sub.Payloads[i]
		if _, ok := p.Properties[ebms.CompressionProperty]; ok {
			return ebms.NewProtocolError(ebms.ErrorValueInconsistent,
				fmt.Sprintf("payload %s carries the reserved %s property", p.ContentID, ebms.CompressionProperty))
		}
		if profile.MaxSize > 0 && int64(len(p.Data)) > profile.MaxSize {
			return ebms.NewProtocolError(ebms.ErrorValueInconsistent,
				fmt.Sprintf("payload %s exceeds the profile maximum of %d bytes", p.ContentID, profile.MaxSize))
		}
	}
	return nil
}

// validateProperties enforces the leg's property profile. An empty profile
// disables the check.
func validateProperties(sub *ebms.Submission, profile pmode.PropertySet) error {
	if profile.Empty() {
		return nil
	}

	for _, prop := range sub.MessageProperties {
		def := profile.Find(prop.Name)
		if def == nil {
			return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
				fmt.Sprintf("message property %q is not declared in the leg profile", prop.Name))
		}
		if err := validatePropertyValue(def, prop.Value); err != nil {
			return err
		}
	}

	for _, def := range profile.Properties {
		if !def.Required {
			continue
		}
		if _, ok := sub.Property(def.Name); !ok {
			return ebms.NewProtocolError(ebms.ErrorProcessingModeMismatch,
				fmt.Sprintf("required message property %q is missing", def.Name))
		}
	}
	return nil
}

func validatePropertyValue(def *pmode.PropertyDefinition, value string) error {
	switch def.Datatype {
	case pmode.PropertyString, "":
		return nil
	case pmode.PropertyInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return ebms.NewProtocolError(ebms.ErrorValueInconsistent,
				fmt.Sprintf("message property %q is not a valid integer", def.Name))
		}
		return nil
	case pmode.PropertyBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return ebms.NewProtocolError(ebms.ErrorValueInconsistent,
				fmt.Sprintf("message property %q is not a valid boolean", def.Name))
		}
		return nil
	default:
		return ebms.NewConfigurationError("property %q declares unknown datatype %q", def.Name, def.Datatype)
	}
}
