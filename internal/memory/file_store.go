package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "Aura-Agent/internal/errors"
)

// FileFactStore 以追加写 JSONL 文件持久化事实，适合单机部署。
// 启动时整文件回放；任何一行损坏都视为存储损坏并拒绝启动，
// 绝不静默启动为空库。
type FileFactStore struct {
	mu       sync.RWMutex
	dataFile string
	facts    []Fact
}

// NewFileFactStore 打开（或创建）事实日志并回放历史。
func NewFileFactStore(dataDir string) (*FileFactStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "创建数据目录失败")
	}
	store := &FileFactStore{dataFile: filepath.Join(dataDir, "facts.log")}
	if err := store.replay(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileFactStore) replay() error {
	file, err := os.Open(s.dataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "打开事实日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fact Fact
		if err := json.Unmarshal(raw, &fact); err != nil {
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err,
				fmt.Sprintf("事实日志第 %d 行损坏", line))
		}
		s.facts = append(s.facts, fact)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "回放事实日志失败")
	}
	return nil
}

// Assert 追加一条事实。写盘成功后才会进入内存索引。
func (s *FileFactStore) Assert(_ context.Context, fact *Fact) error {
	if err := validateFact(fact); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt == 0 {
		fact.CreatedAt = time.Now().Unix()
	}

	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "打开事实日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(fact)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化事实失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入事实日志失败")
	}

	s.facts = append(s.facts, *fact)
	return nil
}

// Query 返回匹配的事实，按写入时间倒序（最新优先）。
func (s *FileFactStore) Query(_ context.Context, filter Filter) ([]Fact, error) {
	filter.applyDefaults()

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Fact, 0, filter.Limit)
	for i := len(s.facts) - 1; i >= 0; i-- {
		if !matchesFilter(s.facts[i], filter) {
			continue
		}
		results = append(results, s.facts[i])
		if len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Close 对文件存储无需操作，日志按次打开关闭。
func (s *FileFactStore) Close() error {
	return nil
}

var _ FactStore = (*FileFactStore)(nil)
