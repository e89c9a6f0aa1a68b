// Package protocol CAS 协议响应编码
// 响应格式面向存量客户端，必须逐字节兼容，全部以 HTTP 200 返回
package protocol

import (
	"encoding/json"
	"sort"
	"strings"
)

// CASNamespace CAS XML 命名空间
const CASNamespace = "http://www.yale.edu/tp/cas"

// 协议失败码
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidTicket        = "INVALID_TICKET"
	CodeInvalidTicketSpec    = "INVALID_TICKET_SPEC"
	CodeInvalidService       = "INVALID_SERVICE"
	CodeUnauthorizedService  = "UNAUTHORIZED_SERVICE"
	CodeUnauthorizedProxy    = "UNAUTHORIZED_SERVICE_PROXY"
	CodeInvalidProxyCallback = "INVALID_PROXY_CALLBACK"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Success 验证成功响应的载荷
type Success struct {
	User       string
	Attributes map[string][]string
	PGTIOU     string   // PGT 回调成功时返回的关联标识
	Proxies    []string // 代理链，最近的代理在前
}

// Failure 验证失败响应的载荷
type Failure struct {
	Code        string
	Description string
}

// CAS1Success CAS 1.0 成功响应：yes + 用户名，各占一行
func CAS1Success(user string) string {
	return "yes\n" + user + "\n"
}

// CAS1Failure CAS 1.0 失败响应：固定 no + 空行
func CAS1Failure() string {
	return "no\n\n"
}

// xmlEscape XML 文本转义
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// sortedKeys 属性键排序，保证响应字节稳定
func sortedKeys(attrs map[string][]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CASSuccess CAS 2.0/3.0 XML 成功响应
// 两代端点均释放 cas:attributes 属性块，与现代 CAS 服务端行为一致
func CASSuccess(s *Success) string {
	var b strings.Builder
	b.WriteString(`<cas:serviceResponse xmlns:cas="` + CASNamespace + "\">\n")
	b.WriteString("    <cas:authenticationSuccess>\n")
	b.WriteString("        <cas:user>" + xmlEscape(s.User) + "</cas:user>\n")
	if len(s.Attributes) > 0 {
		b.WriteString("        <cas:attributes>\n")
		for _, name := range sortedKeys(s.Attributes) {
			for _, value := range s.Attributes[name] {
				b.WriteString("            <cas:" + name + ">" + xmlEscape(value) + "</cas:" + name + ">\n")
			}
		}
		b.WriteString("        </cas:attributes>\n")
	}
	if s.PGTIOU != "" {
		b.WriteString("        <cas:proxyGrantingTicket>" + xmlEscape(s.PGTIOU) + "</cas:proxyGrantingTicket>\n")
	}
	if len(s.Proxies) > 0 {
		b.WriteString("        <cas:proxies>\n")
		for _, proxy := range s.Proxies {
			b.WriteString("            <cas:proxy>" + xmlEscape(proxy) + "</cas:proxy>\n")
		}
		b.WriteString("        </cas:proxies>\n")
	}
	b.WriteString("    </cas:authenticationSuccess>\n")
	b.WriteString("</cas:serviceResponse>\n")
	return b.String()
}

// CASFailure CAS 2.0/3.0 XML 失败响应，code 属性携带失败类型
func CASFailure(f *Failure) string {
	var b strings.Builder
	b.WriteString(`<cas:serviceResponse xmlns:cas="` + CASNamespace + "\">\n")
	b.WriteString(`    <cas:authenticationFailure code="` + xmlEscape(f.Code) + `">`)
	b.WriteString(xmlEscape(f.Description))
	b.WriteString("</cas:authenticationFailure>\n")
	b.WriteString("</cas:serviceResponse>\n")
	return b.String()
}

// ProxySuccess /proxy 端点的 PT 签发成功响应
func ProxySuccess(ticketID string) string {
	var b strings.Builder
	b.WriteString(`<cas:serviceResponse xmlns:cas="` + CASNamespace + "\">\n")
	b.WriteString("    <cas:proxySuccess>\n")
	b.WriteString("        <cas:proxyTicket>" + xmlEscape(ticketID) + "</cas:proxyTicket>\n")
	b.WriteString("    </cas:proxySuccess>\n")
	b.WriteString("</cas:serviceResponse>\n")
	return b.String()
}

// ProxyFailure /proxy 端点的 PT 签发失败响应
func ProxyFailure(f *Failure) string {
	var b strings.Builder
	b.WriteString(`<cas:serviceResponse xmlns:cas="` + CASNamespace + "\">\n")
	b.WriteString(`    <cas:proxyFailure code="` + xmlEscape(f.Code) + `">`)
	b.WriteString(xmlEscape(f.Description))
	b.WriteString("</cas:proxyFailure>\n")
	b.WriteString("</cas:serviceResponse>\n")
	return b.String()
}

// jsonServiceResponse JSON 格式的响应外层
type jsonServiceResponse struct {
	ServiceResponse interface{} `json:"serviceResponse"`
}

type jsonSuccessBody struct {
	AuthenticationSuccess jsonSuccess `json:"authenticationSuccess"`
}

type jsonSuccess struct {
	User                string              `json:"user"`
	Attributes          map[string][]string `json:"attributes,omitempty"`
	ProxyGrantingTicket string              `json:"proxyGrantingTicket,omitempty"`
	Proxies             []string            `json:"proxies,omitempty"`
}

type jsonFailureBody struct {
	AuthenticationFailure jsonFailure `json:"authenticationFailure"`
}

type jsonFailure struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// JSONSuccess JSON 格式成功响应（format=JSON）
func JSONSuccess(s *Success) string {
	data, _ := json.Marshal(jsonServiceResponse{
		ServiceResponse: jsonSuccessBody{
			AuthenticationSuccess: jsonSuccess{
				User:                s.User,
				Attributes:          s.Attributes,
				ProxyGrantingTicket: s.PGTIOU,
				Proxies:             s.Proxies,
			},
		},
	})
	return string(data)
}

// JSONFailure JSON 格式失败响应
func JSONFailure(f *Failure) string {
	data, _ := json.Marshal(jsonServiceResponse{
		ServiceResponse: jsonFailureBody{
			AuthenticationFailure: jsonFailure{
				Code:        f.Code,
				Description: f.Description,
			},
		},
	})
	return string(data)
}
