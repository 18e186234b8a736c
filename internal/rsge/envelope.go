package rsge

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS      = "http://rs.ge/service"
)

// SOAPAction header values
const (
	actionAuthenticate = "AuthenticateService"
	actionVerifyTIN    = "VerifyTIN"
	actionSubmit       = "SubmitDeclaration"
)

type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Payload any
	} `xml:"soap:Body"`
}

type authenticateRequest struct {
	XMLName  xml.Name `xml:"http://rs.ge/service AuthenticateService"`
	Username string   `xml:"username"`
	Password string   `xml:"password"`
}

type verifyTINRequest struct {
	XMLName xml.Name `xml:"http://rs.ge/service VerifyTIN"`
	TIN     string   `xml:"tin"`
}

type submitRequest struct {
	XMLName     xml.Name         `xml:"http://rs.ge/service SubmitDeclaration"`
	Token       string           `xml:"token"`
	Declaration declarationBlock `xml:"declaration"`
}

type declarationBlock struct {
	Type      string `xml:"type"`
	TIN       string `xml:"tin"`
	Month     int    `xml:"period>month"`
	Year      int    `xml:"period>year"`
	TaxAmount string `xml:"taxAmount"`
	FormData  string `xml:"formData"`
}

func marshalEnvelope(payload any) ([]byte, error) {
	env := envelope{SoapNS: soapEnvelopeNS}
	env.Body.Payload = payload

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// findElement returns the text of the first element named local anywhere in
// the document. Responses are matched by element name only since the
// wrapping response element differs between service versions.
func findElement(data []byte, local string) (string, bool, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return "", false, err
		}
		return strings.TrimSpace(text), true, nil
	}
}
