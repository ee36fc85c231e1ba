// internal/workflow/definition.go
package workflow

import (
	"fmt"
	"strings"

	"github.com/Corphon/BookForge/internal/models"
)

// Kind 步骤期望的输出形态
type Kind string

const (
	KindOptions       Kind = "options"
	KindOutline       Kind = "outline"
	KindChapterDraft  Kind = "chapter_draft"
	KindChapterReview Kind = "chapter_review"
	KindFreeText      Kind = "free_text"
)

func (k Kind) valid() bool {
	switch k {
	case KindOptions, KindOutline, KindChapterDraft, KindChapterReview, KindFreeText:
		return true
	}
	return false
}

// Role 引擎据此识别有特殊推进规则的步骤
type Role string

const (
	RoleNone            Role = ""
	RoleFormatSelection Role = "format_selection"
	RoleChapterCount    Role = "chapter_count"
	RoleDraftingEntry   Role = "drafting_entry"
	RoleChapterSlot     Role = "chapter_slot"
	RoleReviewMarker    Role = "final_review_marker"
	RolePostDrafting    Role = "post_drafting"
	RoleCoverSelection  Role = "cover_selection"
)

// PhaseRoleDrafting 标记章节占位步骤插入的阶段
const PhaseRoleDrafting = "drafting"

// UserAction 用户在某一步可以做出的回应类别
type UserAction string

const (
	ActionSelectOption   UserAction = "select_option"
	ActionRequestChanges UserAction = "request_changes"
	ActionApprove        UserAction = "approve"
	ActionRegenerate     UserAction = "regenerate"
	ActionFreeText       UserAction = "free_text"
)

// Step 工作流中的一个步骤（启动后不可变）
type Step struct {
	ID       string       `json:"id" yaml:"id"`
	Title    string       `json:"title" yaml:"title"`
	Kind     Kind         `json:"kind" yaml:"kind"`
	Role     Role         `json:"role,omitempty" yaml:"role,omitempty"`
	StateKey string       `json:"stateKey,omitempty" yaml:"stateKey,omitempty"`
	ListKey  string       `json:"listKey,omitempty" yaml:"listKey,omitempty"`
	Actions  []UserAction `json:"actions,omitempty" yaml:"actions,omitempty"`

	// 以下字段在扁平化或插入时填充
	Phase         string `json:"phase" yaml:"-"`
	ChapterNumber int    `json:"chapterNumber,omitempty" yaml:"-"`
}

// Allows 判断该步骤是否接受某类用户回应；未声明时全部接受
func (s Step) Allows(action UserAction) bool {
	if len(s.Actions) == 0 {
		return true
	}
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// IsList 列表型步骤（关键词、分类）
func (s Step) IsList() bool {
	return s.ListKey != ""
}

func (s Step) clone() Step {
	s.Actions = append([]UserAction(nil), s.Actions...)
	return s
}

// Phase 一组按顺序执行的步骤
type Phase struct {
	Name  string `json:"name" yaml:"name"`
	Role  string `json:"role,omitempty" yaml:"role,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Track 某种书籍格式对应的工作流变体
type Track struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Unit    string   `json:"unit" yaml:"unit"`
	Match   []string `json:"match,omitempty" yaml:"match,omitempty"`
	Default bool     `json:"default,omitempty" yaml:"default,omitempty"`
	Phases  []Phase  `json:"phases" yaml:"phases"`
}

// Clone 深拷贝
func (t Track) Clone() Track {
	clone := t
	clone.Match = append([]string(nil), t.Match...)
	clone.Phases = make([]Phase, len(t.Phases))
	for i, phase := range t.Phases {
		steps := make([]Step, len(phase.Steps))
		for j, step := range phase.Steps {
			steps[j] = step.clone()
		}
		clone.Phases[i] = Phase{Name: phase.Name, Role: phase.Role, Steps: steps}
	}
	return clone
}

// StepCount 各阶段步骤数之和
func (t Track) StepCount() int {
	total := 0
	for _, phase := range t.Phases {
		total += len(phase.Steps)
	}
	return total
}

// Validate 检查单个 track 的自洽性
func (t Track) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("workflow: track id is required")
	}
	if len(t.Phases) == 0 {
		return fmt.Errorf("track %s: at least one phase is required", t.ID)
	}

	seen := map[string]struct{}{}
	roles := map[Role]int{}
	draftingPhases := 0
	for pi, phase := range t.Phases {
		if phase.Name == "" {
			return fmt.Errorf("track %s phase[%d]: name is required", t.ID, pi)
		}
		if phase.Role == PhaseRoleDrafting {
			draftingPhases++
		}
		for si, step := range phase.Steps {
			if step.ID == "" || step.Title == "" {
				return fmt.Errorf("track %s phase %q step[%d]: id and title are required", t.ID, phase.Name, si)
			}
			if _, dup := seen[step.ID]; dup {
				return fmt.Errorf("track %s: duplicate step id %s", t.ID, step.ID)
			}
			seen[step.ID] = struct{}{}
			if !step.Kind.valid() {
				return fmt.Errorf("track %s step %s: unknown kind %q", t.ID, step.ID, step.Kind)
			}
			if step.StateKey != "" && !models.IsKnownKey(models.StateKey(step.StateKey)) {
				return fmt.Errorf("track %s step %s: unknown state key %q", t.ID, step.ID, step.StateKey)
			}
			if step.ListKey != "" && !models.IsKnownKey(models.StateKey(step.ListKey)) {
				return fmt.Errorf("track %s step %s: unknown list key %q", t.ID, step.ID, step.ListKey)
			}
			if step.Role != RoleNone {
				roles[step.Role]++
			}
		}
	}

	if first := t.Phases[0].Steps; len(first) == 0 || first[0].Role != RoleFormatSelection {
		return fmt.Errorf("track %s: first step must be the format selection step", t.ID)
	}
	if draftingPhases != 1 {
		return fmt.Errorf("track %s: exactly one drafting phase is required, got %d", t.ID, draftingPhases)
	}
	for _, role := range []Role{RoleFormatSelection, RoleChapterCount, RoleDraftingEntry, RolePostDrafting} {
		if roles[role] != 1 {
			return fmt.Errorf("track %s: expected exactly one %s step, got %d", t.ID, role, roles[role])
		}
	}
	return nil
}

// Catalog 全部 track
type Catalog struct {
	Version int     `json:"version" yaml:"version"`
	Tracks  []Track `json:"tracks" yaml:"tracks"`
}

// Validate 检查 track 唯一且恰好有一个默认 track
func (c Catalog) Validate() error {
	if len(c.Tracks) == 0 {
		return fmt.Errorf("workflow: at least one track is required")
	}
	seen := map[string]struct{}{}
	defaults := 0
	for _, track := range c.Tracks {
		if _, dup := seen[track.ID]; dup {
			return fmt.Errorf("workflow: duplicate track id %s", track.ID)
		}
		seen[track.ID] = struct{}{}
		if track.Default {
			defaults++
		}
		if err := track.Validate(); err != nil {
			return err
		}
	}
	if defaults != 1 {
		return fmt.Errorf("workflow: exactly one default track is required, got %d", defaults)
	}
	return nil
}

// Normalized 克隆并补全默认值，然后校验
func (c Catalog) Normalized() (Catalog, error) {
	clone := Catalog{Version: c.Version, Tracks: make([]Track, len(c.Tracks))}
	for i, track := range c.Tracks {
		t := track.Clone()
		if t.Unit == "" {
			t.Unit = "Chapter"
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		for j := range t.Match {
			t.Match[j] = strings.ToLower(strings.TrimSpace(t.Match[j]))
		}
		clone.Tracks[i] = t
	}
	if err := clone.Validate(); err != nil {
		return Catalog{}, err
	}
	return clone, nil
}

// Track 按 id 查找
func (c Catalog) Track(id string) (Track, bool) {
	for _, track := range c.Tracks {
		if track.ID == id {
			return track.Clone(), true
		}
	}
	return Track{}, false
}

// DefaultTrack 未匹配任何格式时使用的 track
func (c Catalog) DefaultTrack() Track {
	for _, track := range c.Tracks {
		if track.Default {
			return track.Clone()
		}
	}
	return c.Tracks[0].Clone()
}

// TrackForFormat 根据用户选择的格式文本挑选 track
func (c Catalog) TrackForFormat(format string) Track {
	lower := strings.ToLower(format)
	for _, track := range c.Tracks {
		for _, keyword := range track.Match {
			if keyword != "" && strings.Contains(lower, keyword) {
				return track.Clone()
			}
		}
	}
	return c.DefaultTrack()
}
