// Package failures keeps a per-page record of pages that failed, so a later
// run can report them or retranslate just those pages.
package failures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pdf-page-translator/internal/pdf"
)

// FileName is the failure log's name inside the work directory.
const FileName = "failures.json"

// Stage 出错阶段
type Stage string

const (
	StageExtract   Stage = "extract"   // 提取阶段
	StageTranslate Stage = "translate" // 翻译阶段
	StageRender    Stage = "render"    // 渲染阶段
	StageAssemble  Stage = "assemble"  // 合并阶段
	StageUnknown   Stage = "unknown"
)

// Record 失败记录
type Record struct {
	Page       int       `json:"page"`        // 1-based 页码，0 表示与页无关（如合并）
	Stage      Stage     `json:"stage"`       // 出错阶段
	Code       string    `json:"code"`        // 错误代码
	ErrorMsg   string    `json:"error_msg"`   // 错误信息
	Timestamp  time.Time `json:"timestamp"`   // 错误发生时间
	CanRetry   bool      `json:"can_retry"`   // 是否可以重试
	RetryCount int       `json:"retry_count"` // 重试次数
	LastRetry  time.Time `json:"last_retry"`  // 最后重试时间
}

// Manager 失败记录管理器
type Manager struct {
	path    string
	mu      sync.RWMutex
	records map[int]*Record // key: page
}

// NewManager loads (or starts) the failure log in workDir.
func NewManager(workDir string) (*Manager, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	m := &Manager{
		path:    filepath.Join(workDir, FileName),
		records: make(map[int]*Record),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// StageOf maps an error to the stage that produced it.
func StageOf(err error) Stage {
	switch {
	case pdf.IsExtractionError(err):
		return StageExtract
	case pdf.IsTranslationError(err):
		return StageTranslate
	case pdf.IsRenderError(err):
		return StageRender
	case pdf.IsAssemblyError(err):
		return StageAssemble
	}
	return StageUnknown
}

// RecordFailure 记录页面失败
func (m *Manager) RecordFailure(page int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stage := StageOf(err)
	record := &Record{
		Page:      page,
		Stage:     stage,
		Code:      string(pdf.CodeOf(err)),
		ErrorMsg:  err.Error(),
		Timestamp: time.Now(),
		// a bad source page fails the same way every time
		CanRetry: stage != StageExtract,
	}

	// 如果已存在，保留重试次数
	if existing, ok := m.records[page]; ok {
		record.RetryCount = existing.RetryCount
		record.LastRetry = existing.LastRetry
	}

	m.records[page] = record
	return m.save()
}

// IncrementRetry 增加重试次数
func (m *Manager) IncrementRetry(page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[page]; ok {
		record.RetryCount++
		record.LastRetry = time.Now()
		return m.save()
	}
	return fmt.Errorf("failure record not found: page %d", page)
}

// Remove 移除失败记录（页面成功后）
func (m *Manager) Remove(page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[page]; !ok {
		return nil
	}
	delete(m.records, page)
	return m.save()
}

// List returns copies of all records ordered by page.
func (m *Manager) List() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Page < records[j].Page })
	return records
}

// Get 获取特定页的失败记录
func (m *Manager) Get(page int) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[page]
	if !ok {
		return nil, false
	}
	recordCopy := *record
	return &recordCopy, true
}

// RetryablePages returns the pages whose failure may succeed on another try.
func (m *Manager) RetryablePages() []int {
	var pages []int
	for _, record := range m.List() {
		if record.CanRetry && record.Page > 0 {
			pages = append(pages, record.Page)
		}
	}
	return pages
}

// ClearAll 清除所有失败记录
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[int]*Record)
	return m.save()
}

// Path returns the failure log path.
func (m *Manager) Path() string {
	return m.path
}

// FormatPages renders page numbers the way --pages accepts them, e.g. "5,6".
func FormatPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// GetStageDisplayName 获取阶段的显示名称
func GetStageDisplayName(stage Stage) string {
	switch stage {
	case StageExtract:
		return "text extraction"
	case StageTranslate:
		return "translation"
	case StageRender:
		return "rendering"
	case StageAssemble:
		return "assembly"
	default:
		return string(stage)
	}
}

// load 从文件加载失败记录
func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read failures file: %w", err)
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal failures: %w", err)
	}
	for _, record := range records {
		m.records[record.Page] = record
	}
	return nil
}

// save 保存失败记录到文件（调用方持有锁）
func (m *Manager) save() error {
	records := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Page < records[j].Page })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write failures file: %w", err)
	}
	return nil
}
