package generation

import (
	"maps"
	"sort"
	"time"
)

// TaskState 是一个生成任务的进度快照.
// 同一页码至多出现在 Generated 与 Failed 之一.
type TaskState struct {
	TaskID    string         `json:"task_id"`
	UserID    string         `json:"user_id,omitempty"`
	Generated map[int]string `json:"generated"`
	Failed    map[int]string `json:"failed"`
	// CoverImage 是封面图片的文件名，为空表示尚无封面.
	CoverImage    string    `json:"cover_image,omitempty"`
	FullOutline   string    `json:"full_outline,omitempty"`
	UserTopic     string    `json:"user_topic,omitempty"`
	Keyword       string    `json:"keyword,omitempty"`
	ExpiryStarted bool      `json:"expiry_started"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewTaskState 创建空任务状态.
func NewTaskState(taskID string) *TaskState {
	now := time.Now()
	return &TaskState{
		TaskID:    taskID,
		Generated: make(map[int]string),
		Failed:    make(map[int]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone 返回深拷贝.
func (s *TaskState) Clone() *TaskState {
	c := *s
	c.Generated = maps.Clone(s.Generated)
	c.Failed = maps.Clone(s.Failed)
	if c.Generated == nil {
		c.Generated = make(map[int]string)
	}
	if c.Failed == nil {
		c.Failed = make(map[int]string)
	}
	return &c
}

// MarkGenerated 记录页码成功并移出失败集合.
func (s *TaskState) MarkGenerated(index int, ref string) {
	delete(s.Failed, index)
	s.Generated[index] = ref
}

// MarkFailed 记录页码失败并移出成功集合.
func (s *TaskState) MarkFailed(index int, message string) {
	delete(s.Generated, index)
	s.Failed[index] = message
}

// HasCover 报告封面是否已生成.
func (s *TaskState) HasCover() bool {
	return s.CoverImage != ""
}

// FailedIndices 返回升序的失败页码.
func (s *TaskState) FailedIndices() []int {
	return sortedKeys(s.Failed)
}

// GeneratedIndices 返回升序的成功页码.
func (s *TaskState) GeneratedIndices() []int {
	return sortedKeys(s.Generated)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
