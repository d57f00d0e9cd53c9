package upnp

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const descriptionTemplate = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  %s
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Living Room TV</friendlyName>
    <manufacturer>Acme</manufacturer>
    <UDN>uuid:1234</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <controlURL>/upnp/control/rc</controlURL>
        <eventSubURL>/upnp/event/rc</eventSubURL>
        <SCPDURL>/rc.xml</SCPDURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:Embedded:1</deviceType>
        <friendlyName>Transport</friendlyName>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
            <controlURL>%s</controlURL>
            <eventSubURL>/upnp/event/avt</eventSubURL>
            <SCPDURL>/avt.xml</SCPDURL>
          </service>
          <service>
            <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
            <controlURL>/upnp/control/cm</controlURL>
            <eventSubURL>/upnp/event/cm</eventSubURL>
            <SCPDURL>/cm.xml</SCPDURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

type recordedAction struct {
	Name       string
	SOAPAction string
	Args       map[string]string
	Order      []string
}

// fakeRenderer serves a device description and answers SOAP actions.
type fakeRenderer struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	actions     []recordedAction
	faults      map[string]int
	empty       map[string]bool
	urlBase     string
	controlPath string
	userAgents  []string

	descStatus    int
	controlStatus int
	descHits      int
}

func newFakeRenderer(t *testing.T) *fakeRenderer {
	t.Helper()
	f := &fakeRenderer{
		t:           t,
		faults:      map[string]int{},
		empty:       map[string]bool{},
		controlPath: "/upnp/control/avt",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/desc.xml", f.serveDescription)
	mux.HandleFunc("/upnp/control/", f.serveControl)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRenderer) DescriptionURL() string {
	return f.server.URL + "/desc.xml"
}

func (f *fakeRenderer) serveDescription(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.descHits++
	f.userAgents = append(f.userAgents, r.Header.Get("User-Agent"))
	if f.descStatus != 0 {
		status := f.descStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	base := ""
	if f.urlBase != "" {
		base = "<URLBase>" + f.urlBase + "</URLBase>"
	}
	control := f.controlPath
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, descriptionTemplate, base, control)
}

func (f *fakeRenderer) serveControl(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := f.record(r.Header.Get("SOAPACTION"), body)

	f.mu.Lock()
	code, fault := f.faults[action.Name]
	empty := f.empty[action.Name]
	status := f.controlStatus
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	switch {
	case empty:
		w.WriteHeader(http.StatusOK)
	case fault:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>
<faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>
<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>%d</errorCode><errorDescription>Transition not available</errorDescription></UPnPError></detail>
</s:Fault></s:Body></s:Envelope>`, code)
	default:
		extra := ""
		if action.Name == "GetTransportInfo" {
			extra = "<CurrentTransportState>PLAYING</CurrentTransportState><CurrentTransportStatus>OK</CurrentTransportStatus><CurrentSpeed>1</CurrentSpeed>"
		}
		fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><u:%sResponse xmlns:u="%s">%s</u:%sResponse></s:Body></s:Envelope>`,
			action.Name, AVTransportServiceType, extra, action.Name)
	}
}

func (f *fakeRenderer) record(soapAction string, body []byte) recordedAction {
	var env struct {
		Body struct {
			Action struct {
				XMLName xml.Name
				Args    []struct {
					XMLName xml.Name
					Value   string `xml:",chardata"`
				} `xml:",any"`
			} `xml:",any"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &env); err != nil {
		f.t.Errorf("fake renderer: bad envelope: %v", err)
	}

	action := recordedAction{
		Name:       env.Body.Action.XMLName.Local,
		SOAPAction: strings.Trim(soapAction, `"`),
		Args:       map[string]string{},
	}
	for _, a := range env.Body.Action.Args {
		action.Args[a.XMLName.Local] = a.Value
		action.Order = append(action.Order, a.XMLName.Local)
	}

	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.mu.Unlock()
	return action
}

func (f *fakeRenderer) Actions() []recordedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedAction(nil), f.actions...)
}

func (f *fakeRenderer) ActionNames() []string {
	var names []string
	for _, a := range f.Actions() {
		names = append(names, a.Name)
	}
	return names
}

func (f *fakeRenderer) Fault(action string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[action] = code
}

func (f *fakeRenderer) Empty(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.empty[action] = true
}

// FailDescription answers description requests with status.
func (f *fakeRenderer) FailDescription(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descStatus = status
}

// FailControl answers every action with status and no body.
func (f *fakeRenderer) FailControl(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlStatus = status
}

func (f *fakeRenderer) DescriptionHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descHits
}
