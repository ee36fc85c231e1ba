// internal/workflow/sequence.go
package workflow

import (
	"fmt"
)

// SlotID 第 n 个章节占位步骤的 id
func SlotID(n int) string {
	return fmt.Sprintf("chapter_%d_drafted", n)
}

// Flatten 把 track 的各阶段线性化为游标可索引的序列
func Flatten(track Track) []Step {
	seq := make([]Step, 0, track.StepCount())
	for _, phase := range track.Phases {
		for _, step := range phase.Steps {
			s := step.clone()
			s.Phase = phase.Name
			seq = append(seq, s)
		}
	}
	return seq
}

// InjectChapterSlots 在写作阶段最前面插入 count 个 "Chapter N Drafted" 步骤。
// 已存在的占位步骤会先被移除，因此重复调用结果一致。
func InjectChapterSlots(track Track, count int) (Track, error) {
	if count < 1 {
		return Track{}, fmt.Errorf("workflow: chapter count must be positive, got %d", count)
	}
	out := track.Clone()
	for i, phase := range out.Phases {
		if phase.Role != PhaseRoleDrafting {
			continue
		}
		kept := make([]Step, 0, len(phase.Steps))
		for _, step := range phase.Steps {
			if step.Role != RoleChapterSlot {
				kept = append(kept, step)
			}
		}
		slots := make([]Step, 0, count+len(kept))
		for n := 1; n <= count; n++ {
			slots = append(slots, Step{
				ID:            SlotID(n),
				Title:         fmt.Sprintf("%s %d Drafted", out.Unit, n),
				Kind:          KindChapterDraft,
				Role:          RoleChapterSlot,
				Actions:       []UserAction{ActionApprove, ActionRegenerate, ActionRequestChanges},
				ChapterNumber: n,
			})
		}
		out.Phases[i].Steps = append(slots, kept...)
		return out, nil
	}
	return Track{}, fmt.Errorf("workflow: track %s has no drafting phase", track.ID)
}

// IndexOf 按 id 查找步骤位置，找不到返回 -1
func IndexOf(seq []Step, id string) int {
	for i, step := range seq {
		if step.ID == id {
			return i
		}
	}
	return -1
}

// IndexOfRole 第一个具有该角色的步骤位置，找不到返回 -1
func IndexOfRole(seq []Step, role Role) int {
	for i, step := range seq {
		if step.Role == role {
			return i
		}
	}
	return -1
}
