package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCAS1(t *testing.T) {
	// CAS 1.0 纯文本响应，存量客户端按行解析，必须逐字节一致
	assert.Equal(t, "yes\ncasuser\n", CAS1Success("casuser"))
	assert.Equal(t, "no\n\n", CAS1Failure())
}

func TestCASSuccess_NoAttributes(t *testing.T) {
	got := CASSuccess(&Success{User: "casuser"})

	// 无可释放属性时省略属性块
	want := "<cas:serviceResponse xmlns:cas=\"http://www.yale.edu/tp/cas\">\n" +
		"    <cas:authenticationSuccess>\n" +
		"        <cas:user>casuser</cas:user>\n" +
		"    </cas:authenticationSuccess>\n" +
		"</cas:serviceResponse>\n"
	assert.Equal(t, want, got)
}

func TestCASSuccess(t *testing.T) {
	got := CASSuccess(&Success{
		User: "casuser",
		Attributes: map[string][]string{
			"memberOf": {"staff", "admin"},
			"email":    {"casuser@example.org"},
		},
	})

	// 属性按名称排序，多值属性逐条输出
	want := "<cas:serviceResponse xmlns:cas=\"http://www.yale.edu/tp/cas\">\n" +
		"    <cas:authenticationSuccess>\n" +
		"        <cas:user>casuser</cas:user>\n" +
		"        <cas:attributes>\n" +
		"            <cas:email>casuser@example.org</cas:email>\n" +
		"            <cas:memberOf>staff</cas:memberOf>\n" +
		"            <cas:memberOf>admin</cas:memberOf>\n" +
		"        </cas:attributes>\n" +
		"    </cas:authenticationSuccess>\n" +
		"</cas:serviceResponse>\n"
	assert.Equal(t, want, got)
}

func TestCASSuccess_ProxyBlocks(t *testing.T) {
	got := CASSuccess(&Success{
		User:    "casuser",
		PGTIOU:  "PGTIOU-ABC",
		Proxies: []string{"https://near.example.org/cb", "https://far.example.org/cb"},
	})

	want := "<cas:serviceResponse xmlns:cas=\"http://www.yale.edu/tp/cas\">\n" +
		"    <cas:authenticationSuccess>\n" +
		"        <cas:user>casuser</cas:user>\n" +
		"        <cas:proxyGrantingTicket>PGTIOU-ABC</cas:proxyGrantingTicket>\n" +
		"        <cas:proxies>\n" +
		"            <cas:proxy>https://near.example.org/cb</cas:proxy>\n" +
		"            <cas:proxy>https://far.example.org/cb</cas:proxy>\n" +
		"        </cas:proxies>\n" +
		"    </cas:authenticationSuccess>\n" +
		"</cas:serviceResponse>\n"
	assert.Equal(t, want, got)
}

func TestCASFailure(t *testing.T) {
	got := CASFailure(&Failure{
		Code:        CodeInvalidTicket,
		Description: "Ticket 'ST-XYZ' not recognized",
	})

	want := "<cas:serviceResponse xmlns:cas=\"http://www.yale.edu/tp/cas\">\n" +
		"    <cas:authenticationFailure code=\"INVALID_TICKET\">Ticket &apos;ST-XYZ&apos; not recognized</cas:authenticationFailure>\n" +
		"</cas:serviceResponse>\n"
	assert.Equal(t, want, got)
}

func TestProxyEnvelopes(t *testing.T) {
	success := ProxySuccess("PT-123")
	assert.Contains(t, success, "<cas:proxySuccess>")
	assert.Contains(t, success, "<cas:proxyTicket>PT-123</cas:proxyTicket>")

	failure := ProxyFailure(&Failure{Code: CodeInvalidRequest, Description: "pgt and targetService required"})
	assert.Contains(t, failure, `<cas:proxyFailure code="INVALID_REQUEST">`)
	assert.Contains(t, failure, "pgt and targetService required")
}

func TestXMLEscape(t *testing.T) {
	got := CASSuccess(&Success{
		User:       `o'brien <&> "q"`,
		Attributes: map[string][]string{"note": {"a<b"}},
	})
	assert.Contains(t, got, "<cas:user>o&apos;brien &lt;&amp;&gt; &quot;q&quot;</cas:user>")
	assert.Contains(t, got, "<cas:note>a&lt;b</cas:note>")
}

func TestJSONResponses(t *testing.T) {
	var parsed map[string]map[string]map[string]interface{}

	success := JSONSuccess(&Success{
		User:       "casuser",
		Attributes: map[string][]string{"email": {"casuser@example.org"}},
		PGTIOU:     "PGTIOU-ABC",
	})
	require.NoError(t, json.Unmarshal([]byte(success), &parsed))
	body := parsed["serviceResponse"]["authenticationSuccess"]
	assert.Equal(t, "casuser", body["user"])
	assert.Equal(t, "PGTIOU-ABC", body["proxyGrantingTicket"])

	failure := JSONFailure(&Failure{Code: CodeInvalidTicket, Description: "not recognized"})
	require.NoError(t, json.Unmarshal([]byte(failure), &parsed))
	body = parsed["serviceResponse"]["authenticationFailure"]
	assert.Equal(t, "INVALID_TICKET", body["code"])
	assert.Equal(t, "not recognized", body["description"])
}
