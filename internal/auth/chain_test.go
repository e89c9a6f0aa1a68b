package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeHandler 固定结果的测试处理器
type fakeHandler struct {
	name   string
	result *Result
	err    error
}

func (h *fakeHandler) Name() string              { return h.name }
func (h *fakeHandler) Supports(Credential) bool  { return true }
func (h *fakeHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	if h.err != nil {
		return nil, h.err
	}
	r := *h.result
	r.Handler = h.name
	return &r, nil
}

func testCred() Credential {
	return UsernamePassword{Username: "casuser", Password: "Mellon"}
}

func TestChain_AnySuccess_FirstWins(t *testing.T) {
	chain := NewChain(PolicyAnySuccess, zap.NewNop(),
		&fakeHandler{name: "FIRST", result: &Result{Principal: "casuser"}},
		&fakeHandler{name: "SECOND", result: &Result{Principal: "other"}},
	)

	authn, err := chain.Authenticate(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "casuser", authn.Principal)
	assert.Equal(t, "FIRST", authn.Method)
	assert.Equal(t, []string{"FIRST"}, authn.Handlers)
	assert.Equal(t, ClassPassword, authn.CredentialClass)
}

func TestChain_AnySuccess_FallsThrough(t *testing.T) {
	chain := NewChain(PolicyAnySuccess, zap.NewNop(),
		&fakeHandler{name: "FAILING", err: ErrInvalidCredentials},
		&fakeHandler{name: "WORKING", result: &Result{Principal: "casuser"}},
	)

	authn, err := chain.Authenticate(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "WORKING", authn.Method)
}

// 失败聚合保留最具体的失败类型，不坍缩为笼统错误
func TestChain_FailureSpecificity(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want error
	}{
		{"锁定优先于密码错误", []error{ErrInvalidCredentials, ErrAccountLocked}, ErrAccountLocked},
		{"顺序无关", []error{ErrAccountLocked, ErrInvalidCredentials}, ErrAccountLocked},
		{"禁用优先于不存在", []error{ErrAccountNotFound, ErrAccountDisabled}, ErrAccountDisabled},
		{"必须改密最具体", []error{ErrAccountLocked, ErrMustChangePassword, ErrInvalidCredentials}, ErrMustChangePassword},
		{"过期优先于锁定", []error{ErrCredentialExpired, ErrAccountLocked}, ErrCredentialExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := make([]Handler, 0, len(tt.errs))
			for i, err := range tt.errs {
				handlers = append(handlers, &fakeHandler{name: string(rune('A' + i)), err: err})
			}
			chain := NewChain(PolicyAnySuccess, zap.NewNop(), handlers...)

			_, err := chain.Authenticate(context.Background(), testCred())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestChain_AllAgree(t *testing.T) {
	chain := NewChain(PolicyAllAgree, zap.NewNop(),
		&fakeHandler{name: "FIRST", result: &Result{Principal: "casuser",
			Attributes: map[string][]string{"email": {"casuser@example.org"}}}},
		&fakeHandler{name: "SECOND", result: &Result{Principal: "casuser",
			Attributes: map[string][]string{"displayName": {"CAS User"}}}},
	)

	authn, err := chain.Authenticate(context.Background(), testCred())
	require.NoError(t, err)
	// 所有成功处理器都记入，属性合并
	assert.Equal(t, []string{"FIRST", "SECOND"}, authn.Handlers)
	assert.Equal(t, []string{"casuser@example.org"}, authn.Attributes["email"])
	assert.Equal(t, []string{"CAS User"}, authn.Attributes["displayName"])
}

func TestChain_AllAgree_OneFailureFailsAll(t *testing.T) {
	chain := NewChain(PolicyAllAgree, zap.NewNop(),
		&fakeHandler{name: "FIRST", result: &Result{Principal: "casuser"}},
		&fakeHandler{name: "SECOND", err: ErrInvalidCredentials},
	)

	_, err := chain.Authenticate(context.Background(), testCred())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChain_UnsupportedCredential(t *testing.T) {
	chain := NewChain(PolicyAnySuccess, zap.NewNop(), NewStaticHandler(nil))

	_, err := chain.Authenticate(context.Background(), TrustedHeader{Principal: "casuser"})
	assert.ErrorIs(t, err, ErrUnsupportedCredential)
}

func TestStaticHandler(t *testing.T) {
	h := NewStaticHandler(map[string]string{"casuser": "Mellon"})
	ctx := context.Background()

	result, err := h.Authenticate(ctx, UsernamePassword{Username: "casuser", Password: "Mellon"})
	require.NoError(t, err)
	assert.Equal(t, "casuser", result.Principal)
	assert.Equal(t, StaticHandlerName, result.Handler)

	_, err = h.Authenticate(ctx, UsernamePassword{Username: "casuser", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.Authenticate(ctx, UsernamePassword{Username: "nobody", Password: "Mellon"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestHeaderHandler(t *testing.T) {
	h := NewHeaderHandler()
	ctx := context.Background()

	result, err := h.Authenticate(ctx, TrustedHeader{
		Principal:  "casuser",
		Attributes: map[string][]string{"memberOf": {"staff"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "casuser", result.Principal)
	assert.Equal(t, []string{"staff"}, result.Attributes["memberOf"])

	_, err = h.Authenticate(ctx, TrustedHeader{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
