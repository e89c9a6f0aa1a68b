package service

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pu-ac-cn/cas-backend/internal/ticket"
)

// 生成注册服务范围内的随机服务 URL
func genServiceURL() gopter.Gen {
	return gen.OneConstOf(
		"https://app.example.org",
		"https://app.example.org/callback",
		"https://app.example.org/auth/cas",
		"https://app.example.org/deep/path?next=%2Fhome",
	)
}

// Property: ST 单次使用
// *For any* 服务 URL，签发的 ST 首次验证成功，第二次验证失败
func TestProperty_ST_SingleUse(t *testing.T) {
	svc, _, _, cleanup := setupCAS(t)
	defer cleanup()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ST 单次使用：首次验证成功，第二次失败", prop.ForAll(
		func(serviceURL string) bool {
			tgt := login(t, svc)

			st, err := svc.GrantServiceTicket(ctx, tgt.ID, serviceURL,
				GrantOptions{FreshLogin: true})
			if err != nil {
				return false
			}

			assertion, err := svc.Validate(ctx, st.ID, serviceURL, ValidateOptions{})
			if err != nil || assertion.Principal != "casuser" {
				return false
			}

			_, err = svc.Validate(ctx, st.ID, serviceURL, ValidateOptions{})
			return errors.Is(err, ticket.ErrTicketConsumed)
		},
		genServiceURL(),
	))

	properties.TestingRun(t)
}

// Property: 服务绑定
// *For any* 两个不同的服务 URL，为 A 签发的 ST 在 B 处验证必然失败
func TestProperty_ST_ServiceBinding(t *testing.T) {
	svc, _, _, cleanup := setupCAS(t)
	defer cleanup()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("服务绑定：票据只在签发时的服务处有效", prop.ForAll(
		func(serviceA, serviceB string) bool {
			if serviceA == serviceB {
				return true
			}
			tgt := login(t, svc)

			st, err := svc.GrantServiceTicket(ctx, tgt.ID, serviceA,
				GrantOptions{FreshLogin: true})
			if err != nil {
				return false
			}

			_, err = svc.Validate(ctx, st.ID, serviceB, ValidateOptions{})
			return errors.Is(err, ErrServiceMismatch)
		},
		genServiceURL(),
		genServiceURL(),
	))

	properties.TestingRun(t)
}

// Property: 登出级联
// *For any* 会话持有的若干 ST，登出后全部失效
func TestProperty_Logout_Cascade(t *testing.T) {
	svc, _, registry, cleanup := setupCAS(t)
	defer cleanup()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("登出级联：销毁 TGT 后所有子票据不存在", prop.ForAll(
		func(count int) bool {
			tgt := login(t, svc)

			var stIDs []string
			for i := 0; i < count; i++ {
				st, err := svc.GrantServiceTicket(ctx, tgt.ID, appService,
					GrantOptions{FreshLogin: true})
				if err != nil {
					return false
				}
				stIDs = append(stIDs, st.ID)
			}

			if _, err := svc.Logout(ctx, tgt.ID); err != nil {
				return false
			}

			if _, err := svc.GetTGT(ctx, tgt.ID); !errors.Is(err, ticket.ErrTicketNotFound) {
				return false
			}
			for _, id := range stIDs {
				if _, err := registry.Get(ctx, id, ""); !errors.Is(err, ticket.ErrTicketNotFound) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
