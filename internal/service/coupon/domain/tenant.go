// internal/service/coupon/domain/tenant.go
package domain

import (
	"regexp"
	"time"
)

// Tenant 是一个相互隔离的客户组织，所有优惠券和问卷数据都按租户分区。
type Tenant struct {
	ID        string
	Slug      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// TenantContext 是解析后的租户句柄，显式地传给每一次数据访问。
type TenantContext struct {
	TenantID string
	Slug     string
}

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,62}[a-z0-9])?$`)

// ValidSlug 报告 slug 是否满足小写字母、数字和连字符的格式。
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Role 是成员在租户内的角色，数值越大权限越高。
type Role int

const (
	RoleNone Role = iota
	RoleStaff
	RoleAdmin
	RoleOwner
)

// ParseRole 解析 JWT 中的角色字符串，未知值返回 RoleNone。
func ParseRole(s string) Role {
	switch s {
	case "staff":
		return RoleStaff
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleStaff:
		return "staff"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// AtLeast 报告 r 是否不低于 min。
func (r Role) AtLeast(min Role) bool {
	return r >= min
}
