package ebms

// CompressionProperty is the part property carrying the payload compression
// MIME type. It is system-managed: submissions carrying it are rejected.
const CompressionProperty = "CompressionType"

// MimeTypeProperty is the part property carrying the original MIME type of a
// compressed payload part.
const MimeTypeProperty = "MimeType"

// Submission describes one outbound business message handed to the gateway
// by a backend connector. The gateway assigns identity, resolves the
// exchange configuration and takes over delivery from there.
type Submission struct {
	MessageID      string
	RefToMessageID string
	ConversationID string

	FromParty string
	FromRole  string
	ToParty   string
	ToRole    string

	Service   string
	Action    string
	Agreement string

	MessageProperties []MessageProperty
	Payloads          []Payload
}

// MessageProperty is a named header-level property of a user message.
type MessageProperty struct {
	Name  string
	Value string
	Type  string
}

// Payload is one payload part of a user message.
type Payload struct {
	ContentID   string
	ContentType string
	Data        []byte
	Properties  map[string]string
}

// Property returns the value of a named message property and whether it is set.
func (s *Submission) Property(name string) (string, bool) {
	for _, p := range s.MessageProperties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
