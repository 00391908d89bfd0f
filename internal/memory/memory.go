package memory

import (
	"context"
	"time"

	xerrors "Aura-Agent/internal/errors"
)

// Fact 是持久化关系记忆中的一条记录。事实只追加、从不原地修改：
// 同一 subject/predicate 的新事实覆盖旧事实的语义由"最新优先"的查询
// 顺序实现，历史始终可以回溯。
type Fact struct {
	ID         string  `json:"id"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// Filter 描述事实查询条件。空字段不参与过滤。
type Filter struct {
	Subject   string
	Predicate string
	Limit     int
}

const defaultQueryLimit = 20

func (f *Filter) applyDefaults() {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
}

// FactStore 抽象持久事实存储。实现必须在进程重启后保留数据；
// 存储缺失或损坏时构造函数立刻失败，绝不静默启动为空库。
type FactStore interface {
	Assert(ctx context.Context, fact *Fact) error
	Query(ctx context.Context, filter Filter) ([]Fact, error)
	Close() error
}

// WorkingContext 是短交互窗口内的临时键值记忆。过期采用读时惰性清理，
// 实现可以额外做周期压缩，但不要求每条目一个定时器。
type WorkingContext interface {
	Remember(ctx context.Context, key, value string, ttl time.Duration) error
	Recall(ctx context.Context, key string) (string, bool, error)
	Forget(ctx context.Context, key string) error
	Close() error
}

func matchesFilter(fact Fact, filter Filter) bool {
	if filter.Subject != "" && fact.Subject != filter.Subject {
		return false
	}
	if filter.Predicate != "" && fact.Predicate != filter.Predicate {
		return false
	}
	return true
}

func validateFact(fact *Fact) error {
	if fact == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "fact 不能为空")
	}
	if fact.Subject == "" || fact.Predicate == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "fact 需要 subject 与 predicate")
	}
	if fact.Confidence < 0 || fact.Confidence > 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "confidence 必须位于 [0,1]")
	}
	return nil
}
