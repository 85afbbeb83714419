// internal/service/coupon/domain/status.go
package domain

import "fmt"

// Status 定义了已发放优惠券的生命周期状态。
type Status string

const (
	StatusIssued   Status = "issued"   // 已发放，仍有可用次数
	StatusRedeemed Status = "redeemed" // 可用次数已用完
	StatusRevoked  Status = "revoked"  // 被管理员撤销（终态）
	StatusExpired  Status = "expired"  // 已过期（终态）
	// StatusCancelled 只会由管理后台写入，校验/核销路径从不产生它。
	StatusCancelled Status = "cancelled"
)

// AllStatuses 列出所有状态，新增状态时必须同步加入，测试会逐个检查分类函数。
var AllStatuses = []Status{StatusIssued, StatusRedeemed, StatusRevoked, StatusExpired, StatusCancelled}

// ParseStatus 校验外部传入的状态字符串。
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, err := st.traits(); err != nil {
		return "", Invalid(err.Error())
	}
	return st, nil
}

type statusTraits struct {
	terminal bool   // 终态不会再被校验/核销路径改变
	usable   bool   // 允许通过校验
	reason   string // 不可用时返回给用户的提示
}

// traits 是所有状态分类的唯一来源，每个状态都必须有显式分支。
func (s Status) traits() (statusTraits, error) {
	switch s {
	case StatusIssued:
		return statusTraits{usable: true}, nil
	case StatusRedeemed:
		return statusTraits{reason: MsgAlreadyUsed}, nil
	case StatusRevoked:
		return statusTraits{terminal: true, reason: MsgRevoked}, nil
	case StatusExpired:
		return statusTraits{terminal: true, reason: MsgExpired}, nil
	case StatusCancelled:
		return statusTraits{terminal: true, reason: MsgCancelled}, nil
	default:
		return statusTraits{}, fmt.Errorf("unknown coupon status %q", string(s))
	}
}

// Valid 报告 s 是否为已知状态。
func (s Status) Valid() bool {
	_, err := s.traits()
	return err == nil
}

// IsTerminal 报告状态是否为终态。未知状态按终态处理，避免被误核销。
func (s Status) IsTerminal() bool {
	t, err := s.traits()
	return err != nil || t.terminal
}

// rejection 返回状态本身导致校验失败的原因，可用时返回空串。
func (s Status) rejection() string {
	t, err := s.traits()
	if err != nil {
		return MsgUnknownStatus
	}
	if t.usable {
		return ""
	}
	return t.reason
}
