package protocol

import (
	"encoding/xml"
	"strings"
	"time"
)

// SAML1 命名空间
const (
	SAML1AssertionNamespace = "urn:oasis:names:tc:SAML:1.0:assertion"
	SAML1ProtocolNamespace  = "urn:oasis:names:tc:SAML:1.0:protocol"
	SAML2ProtocolNamespace  = "urn:oasis:names:tc:SAML:2.0:protocol"
	SAML2AssertionNamespace = "urn:oasis:names:tc:SAML:2.0:assertion"
)

// ParseSAMLArtifact 从 samlValidate 的 SOAP 请求体中提取票据
// 票据位于 samlp:Request 的 AssertionArtifact 元素
func ParseSAMLArtifact(body []byte) string {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	inArtifact := false
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "AssertionArtifact" {
				inArtifact = true
			}
		case xml.CharData:
			if inArtifact {
				if ticket := strings.TrimSpace(string(t)); ticket != "" {
					return ticket
				}
			}
		case xml.EndElement:
			if t.Name.Local == "AssertionArtifact" {
				inArtifact = false
			}
		}
	}
}

// samlInstant SAML 时间戳格式
func samlInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SAML1Success samlValidate 成功响应：SOAP 包裹的 SAML 1.1 断言
// issuer 为本服务标识，recipient 为验证方服务地址
func SAML1Success(s *Success, issuer, recipient, responseID, assertionID string, now time.Time) string {
	notBefore := samlInstant(now)
	notOnOrAfter := samlInstant(now.Add(5 * time.Minute))

	var b strings.Builder
	b.WriteString(soapHeader)
	b.WriteString(`<Response xmlns="` + SAML1ProtocolNamespace + `" xmlns:saml="` + SAML1AssertionNamespace + `"`)
	b.WriteString(` IssueInstant="` + samlInstant(now) + `" MajorVersion="1" MinorVersion="1"`)
	b.WriteString(` Recipient="` + xmlEscape(recipient) + `" ResponseID="` + xmlEscape(responseID) + `">`)
	b.WriteString(`<Status><StatusCode Value="samlp:Success"></StatusCode></Status>`)
	b.WriteString(`<saml:Assertion AssertionID="` + xmlEscape(assertionID) + `" IssueInstant="` + samlInstant(now) + `"`)
	b.WriteString(` Issuer="` + xmlEscape(issuer) + `" MajorVersion="1" MinorVersion="1">`)
	b.WriteString(`<saml:Conditions NotBefore="` + notBefore + `" NotOnOrAfter="` + notOnOrAfter + `">`)
	b.WriteString(`<saml:AudienceRestrictionCondition><saml:Audience>` + xmlEscape(recipient) + `</saml:Audience></saml:AudienceRestrictionCondition>`)
	b.WriteString(`</saml:Conditions>`)
	b.WriteString(`<saml:AuthenticationStatement AuthenticationInstant="` + samlInstant(now) + `"`)
	b.WriteString(` AuthenticationMethod="urn:oasis:names:tc:SAML:1.0:am:password">`)
	b.WriteString(samlSubject(s.User))
	b.WriteString(`</saml:AuthenticationStatement>`)
	if len(s.Attributes) > 0 {
		b.WriteString(`<saml:AttributeStatement>`)
		b.WriteString(samlSubject(s.User))
		for _, name := range sortedKeys(s.Attributes) {
			b.WriteString(`<saml:Attribute AttributeName="` + xmlEscape(name) + `" AttributeNamespace="` + CASNamespace + `">`)
			for _, value := range s.Attributes[name] {
				b.WriteString(`<saml:AttributeValue>` + xmlEscape(value) + `</saml:AttributeValue>`)
			}
			b.WriteString(`</saml:Attribute>`)
		}
		b.WriteString(`</saml:AttributeStatement>`)
	}
	b.WriteString(`</saml:Assertion>`)
	b.WriteString(`</Response>`)
	b.WriteString(soapFooter)
	return b.String()
}

// SAML1Failure samlValidate 失败响应
func SAML1Failure(f *Failure, responseID string, now time.Time) string {
	var b strings.Builder
	b.WriteString(soapHeader)
	b.WriteString(`<Response xmlns="` + SAML1ProtocolNamespace + `"`)
	b.WriteString(` IssueInstant="` + samlInstant(now) + `" MajorVersion="1" MinorVersion="1"`)
	b.WriteString(` ResponseID="` + xmlEscape(responseID) + `">`)
	b.WriteString(`<Status><StatusCode Value="samlp:RequestDenied"></StatusCode>`)
	b.WriteString(`<StatusMessage>` + xmlEscape(f.Code+": "+f.Description) + `</StatusMessage></Status>`)
	b.WriteString(`</Response>`)
	b.WriteString(soapFooter)
	return b.String()
}

const (
	soapHeader = `<?xml version="1.0" encoding="UTF-8"?><SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"><SOAP-ENV:Header/><SOAP-ENV:Body>`
	soapFooter = `</SOAP-ENV:Body></SOAP-ENV:Envelope>`
)

func samlSubject(user string) string {
	return `<saml:Subject><saml:NameIdentifier>` + xmlEscape(user) + `</saml:NameIdentifier>` +
		`<saml:SubjectConfirmation><saml:ConfirmationMethod>urn:oasis:names:tc:SAML:1.0:cm:artifact</saml:ConfirmationMethod></saml:SubjectConfirmation>` +
		`</saml:Subject>`
}

// LogoutRequest 单点登出的后端通道通知报文
// sessionIndex 为服务当初收到的 ST 标识
func LogoutRequest(requestID, sessionIndex string, now time.Time) string {
	var b strings.Builder
	b.WriteString(`<samlp:LogoutRequest xmlns:samlp="` + SAML2ProtocolNamespace + `"`)
	b.WriteString(` xmlns:saml="` + SAML2AssertionNamespace + `"`)
	b.WriteString(` ID="` + xmlEscape(requestID) + `" Version="2.0" IssueInstant="` + samlInstant(now) + `">`)
	b.WriteString(`<saml:NameID>@NOT_USED@</saml:NameID>`)
	b.WriteString(`<samlp:SessionIndex>` + xmlEscape(sessionIndex) + `</samlp:SessionIndex>`)
	b.WriteString(`</samlp:LogoutRequest>`)
	return b.String()
}
