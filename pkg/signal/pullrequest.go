// Package signal builds and parses the ebMS3 signal messages the pull
// coordination needs: the PullRequest signal and the minimal response
// classification (user message, error signal, or empty-MPC warning). It
// deliberately covers only those elements; full envelope (de)serialization
// and security live outside the gateway core.
package signal

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as4-gateway/pkg/ebms"
)

// Namespace URIs
const (
	NamespaceSOAP = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceEbMS = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
)

// BuildPullRequest renders a SOAP envelope carrying an eb:PullRequest
// signal for the given MPC. The signal's MessageId is returned alongside
// the serialized envelope.
func BuildPullRequest(mpc string, now time.Time) ([]byte, string, error) {
	messageID := uuid.NewString() + "@signal"

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("env:Envelope")
	env.CreateAttr("xmlns:env", NamespaceSOAP)
	env.CreateAttr("xmlns:eb", NamespaceEbMS)

	header := env.CreateElement("env:Header")
	messaging := header.CreateElement("eb:Messaging")
	signalMessage := messaging.CreateElement("eb:SignalMessage")

	info := signalMessage.CreateElement("eb:MessageInfo")
	info.CreateElement("eb:Timestamp").SetText(now.UTC().Format(time.RFC3339))
	info.CreateElement("eb:MessageId").SetText(messageID)

	pullRequest := signalMessage.CreateElement("eb:PullRequest")
	pullRequest.CreateAttr("mpc", mpc)

	env.CreateElement("env:Body")

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("serializing pull request: %w", err)
	}
	return out, messageID, nil
}

// ParsePullRequest extracts the MPC and signal MessageId of an incoming
// PullRequest envelope.
func ParsePullRequest(data []byte) (mpc, messageID string, err error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", "", ebms.NewProtocolErrorFrom(ebms.ErrorInvalidHeader, "unparseable pull request envelope", err)
	}

	pullRequest := doc.FindElement("//SignalMessage/PullRequest")
	if pullRequest == nil {
		return "", "", ebms.NewProtocolError(ebms.ErrorInvalidHeader, "envelope carries no eb:PullRequest signal")
	}
	mpc = pullRequest.SelectAttrValue("mpc", "")

	if id := doc.FindElement("//SignalMessage/MessageInfo/MessageId"); id != nil {
		messageID = id.Text()
	}
	return mpc, messageID, nil
}

// Response is the classification of a pull response envelope.
type Response struct {
	// HasUserMessage is true when the responder returned a business message.
	HasUserMessage bool
	// MessageID is the id of the returned user message, when present.
	MessageID string
	// RefToMessageID is the id the response refers to, when present.
	RefToMessageID string
	// ErrorCode is the ebMS error code of an error signal, when present.
	ErrorCode string
	// EmptyMpc is true when the responder reported an empty partition
	// channel (EBMS:0006 warning).
	EmptyMpc bool
}

// ParseResponse classifies a pull response envelope. A malformed envelope
// is reported as an INVALID_SOAP_MESSAGE-class protocol error.
func ParseResponse(data []byte) (*Response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, ebms.NewProtocolErrorFrom(ebms.ErrorInvalidHeader, "unparseable pull response envelope", err)
	}

	messaging := doc.FindElement("//Messaging")
	if messaging == nil {
		return nil, ebms.NewProtocolError(ebms.ErrorInvalidHeader, "pull response has no eb:Messaging header")
	}

	resp := &Response{}

	if userMessage := messaging.FindElement(".//UserMessage"); userMessage != nil {
		resp.HasUserMessage = true
		if id := userMessage.FindElement(".//MessageInfo/MessageId"); id != nil {
			resp.MessageID = id.Text()
		}
		if ref := userMessage.FindElement(".//MessageInfo/RefToMessageId"); ref != nil {
			resp.RefToMessageID = ref.Text()
		}
		return resp, nil
	}

	if errElem := messaging.FindElement(".//SignalMessage/Error"); errElem != nil {
		resp.ErrorCode = errElem.SelectAttrValue("errorCode", "")
		resp.EmptyMpc = resp.ErrorCode == ebms.ErrorEmptyMessagePartition.Code
		if ref := errElem.SelectAttrValue("refToMessageInError", ""); ref != "" {
			resp.RefToMessageID = ref
		}
		return resp, nil
	}

	// A bare receipt or empty response: treat as an empty channel.
	resp.EmptyMpc = true
	return resp, nil
}

// BuildEmptyMpcWarning renders the EBMS:0006 warning signal a responder
// returns when the requested partition channel holds no message.
func BuildEmptyMpcWarning(refToMessageID string, now time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("env:Envelope")
	env.CreateAttr("xmlns:env", NamespaceSOAP)
	env.CreateAttr("xmlns:eb", NamespaceEbMS)

	header := env.CreateElement("env:Header")
	messaging := header.CreateElement("eb:Messaging")
	signalMessage := messaging.CreateElement("eb:SignalMessage")

	info := signalMessage.CreateElement("eb:MessageInfo")
	info.CreateElement("eb:Timestamp").SetText(now.UTC().Format(time.RFC3339))
	info.CreateElement("eb:MessageId").SetText(uuid.NewString() + "@signal")
	if refToMessageID != "" {
		info.CreateElement("eb:RefToMessageId").SetText(refToMessageID)
	}

	errElem := signalMessage.CreateElement("eb:Error")
	errElem.CreateAttr("errorCode", ebms.ErrorEmptyMessagePartition.Code)
	errElem.CreateAttr("severity", ebms.ErrorEmptyMessagePartition.Severity)
	errElem.CreateAttr("shortDescription", ebms.ErrorEmptyMessagePartition.ShortDescription)
	if refToMessageID != "" {
		errElem.CreateAttr("refToMessageInError", refToMessageID)
	}

	env.CreateElement("env:Body")

	doc.Indent(2)
	return doc.WriteToBytes()
}
