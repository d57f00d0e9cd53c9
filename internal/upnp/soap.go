package upnp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const (
	soapEnvelopeNS  = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncodingNS  = "http://schemas.xmlsoap.org/soap/encoding/"
	soapContentType = `text/xml; charset="utf-8"`
	soapActionHdr   = "SOAPACTION"
)

var (
	// ErrNoResponse means the device answered without a usable action response.
	ErrNoResponse = errors.New("no response from device")
	// ErrServiceNotFound means the description declares no matching service endpoint.
	ErrServiceNotFound = errors.New("service not found in device description")
)

// Argument is one named action argument. Order is preserved on the wire.
type Argument struct {
	Name  string
	Value string
}

// Response is a parsed action response.
type Response struct {
	Action    string
	Arguments map[string]string
	Raw       []byte
}

// ActionError reports a failed action. Code is the UPnP error code when the
// device returned a fault, otherwise the HTTP status or zero for transport errors.
type ActionError struct {
	Action  string
	Code    int
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("unable to send action %s (%d: %s)", e.Action, e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// buildEnvelope renders the SOAP request body for action.
func buildEnvelope(action, serviceType string, args []Argument) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="` + soapEnvelopeNS + `" s:encodingStyle="` + soapEncodingNS + `">`)
	b.WriteString(`<s:Body>`)
	b.WriteString(`<u:` + action + ` xmlns:u="`)
	xml.EscapeText(&b, []byte(serviceType))
	b.WriteString(`">`)
	for _, arg := range args {
		b.WriteString("<" + arg.Name + ">")
		xml.EscapeText(&b, []byte(arg.Value))
		b.WriteString("</" + arg.Name + ">")
	}
	b.WriteString(`</u:` + action + `>`)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.Bytes()
}

func soapAction(action, serviceType string) string {
	return `"` + serviceType + "#" + action + `"`
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault    *soapFault    `xml:"Fault"`
	Elements []soapElement `xml:",any"`
}

type soapElement struct {
	XMLName  xml.Name
	Children []soapValue `xml:",any"`
}

type soapValue struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		UPnPError struct {
			Code        int    `xml:"errorCode"`
			Description string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// parseResponse decodes a SOAP response body. A fault becomes an
// *ActionError; a body without an action response becomes ErrNoResponse.
func parseResponse(action string, body []byte) (*Response, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ActionError{Action: action, Message: "empty response", Err: ErrNoResponse}
	}

	var env soapEnvelope
	if err := newDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, &ActionError{Action: action, Message: err.Error(), Err: ErrNoResponse}
	}

	if f := env.Body.Fault; f != nil {
		msg := strings.TrimSpace(f.Detail.UPnPError.Description)
		if msg == "" {
			msg = strings.TrimSpace(f.String)
		}
		return nil, &ActionError{Action: action, Code: f.Detail.UPnPError.Code, Message: msg}
	}

	for _, el := range env.Body.Elements {
		if el.XMLName.Local != action+"Response" {
			continue
		}
		resp := &Response{Action: action, Arguments: make(map[string]string, len(el.Children)), Raw: body}
		for _, v := range el.Children {
			resp.Arguments[v.XMLName.Local] = v.Value
		}
		return resp, nil
	}

	return nil, &ActionError{Action: action, Message: "missing " + action + "Response element", Err: ErrNoResponse}
}
