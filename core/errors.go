package core

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - 交互校验错误：VALIDATION（未知交互类型、非法请求）
//   - 信号不可用：UNAVAILABLE（冷启动用户 / 新物品，由 Blender 内部消化）
//   - 依赖超时：TIMEOUT（商品目录 / 缓存存储不可达，降级到热门兜底）
//   - 训练发散：DIVERGENCE（丢弃候选快照，继续服务旧版本）
type DomainError struct {
	Code    string // 错误代码（如 "VALIDATION", "TIMEOUT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "interaction", "model"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeValidation   = "VALIDATION"    // 输入校验失败
	ErrorCodeUnavailable  = "UNAVAILABLE"   // 信号不可用（冷启动）
	ErrorCodeTimeout      = "TIMEOUT"       // 外部依赖超时
	ErrorCodeDivergence   = "DIVERGENCE"    // 训练发散
	ErrorCodeNotFound     = "NOT_FOUND"     // 资源不存在
	ErrorCodeDuplicate    = "DUPLICATE"     // 重复事件（幂等去重）
	ErrorCodeNotSupported = "NOT_SUPPORTED" // 后端不支持该操作
)

// 模块名称常量
const (
	ModuleInteraction = "interaction" // 交互存储模块
	ModuleModel       = "model"       // 模型训练模块
	ModuleCache       = "cache"       // 结果缓存模块
	ModuleExperiment  = "experiment"  // 实验路由模块
	ModuleCatalog     = "catalog"     // 商品目录模块
	ModuleStore       = "store"       // 存储模块
	ModuleMetrics     = "metrics"     // 指标模块
	ModuleService     = "service"     // 服务编排模块
)

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsValidation 检查错误是否为校验失败
func IsValidation(err error) bool { return hasCode(err, ErrorCodeValidation) }

// IsUnavailable 检查错误是否为信号不可用
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsTimeout 检查错误是否为依赖超时
func IsTimeout(err error) bool { return hasCode(err, ErrorCodeTimeout) }

// IsDivergence 检查错误是否为训练发散
func IsDivergence(err error) bool { return hasCode(err, ErrorCodeDivergence) }

// IsNotFound 检查错误是否为资源不存在
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsDuplicate 检查错误是否为重复事件
func IsDuplicate(err error) bool { return hasCode(err, ErrorCodeDuplicate) }
