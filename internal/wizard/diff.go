// internal/wizard/diff.go
package wizard

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SummarizeRevision 用字符级 diff 概括一次修订的改动量
func SummarizeRevision(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	inserted, deleted := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			deleted += len([]rune(d.Text))
		}
	}
	if inserted == 0 && deleted == 0 {
		return "Revision summary: no changes to the text."
	}

	base := len([]rune(before))
	if base == 0 {
		return fmt.Sprintf("Revision summary: %d characters written.", inserted)
	}
	changed := dmp.DiffLevenshtein(diffs) * 100 / base
	if changed > 100 {
		changed = 100
	}
	return fmt.Sprintf("Revision summary: +%d / -%d characters (~%d%% of the chapter changed).", inserted, deleted, changed)
}
