// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package wanikani

// SRS stages form a fixed ladder from 0 (unstarted lesson) to 9 (burned).
const (
	StageUnstarted = 0
	StageGuru      = 5
	StageBurned    = 9
)

// SRSCategory groups SRS stages into the buckets shown to the user.
type SRSCategory int

const (
	CategoryInitiate SRSCategory = iota
	CategoryApprentice
	CategoryGuru
	CategoryMaster
	CategoryEnlightened
	CategoryBurned

	NumSRSCategories = 6
)

func (c SRSCategory) String() string {
	switch c {
	case CategoryInitiate:
		return "initiate"
	case CategoryApprentice:
		return "apprentice"
	case CategoryGuru:
		return "guru"
	case CategoryMaster:
		return "master"
	case CategoryEnlightened:
		return "enlightened"
	case CategoryBurned:
		return "burned"
	default:
		return "unknown"
	}
}

// CategoryForStage maps an SRS stage to its category bucket.
func CategoryForStage(stage int) SRSCategory {
	switch {
	case stage <= 0:
		return CategoryInitiate
	case stage <= 4:
		return CategoryApprentice
	case stage <= 6:
		return CategoryGuru
	case stage == 7:
		return CategoryMaster
	case stage == 8:
		return CategoryEnlightened
	default:
		return CategoryBurned
	}
}

// NextStage returns the stage after one completed lesson or review. Lessons
// and fully correct reviews move up one stage; a review with any wrong
// answer moves down one, floored at 0. The ladder is capped at burned.
func NextStage(stage int, isLesson, anyWrong bool) int {
	if isLesson || !anyWrong {
		if stage >= StageBurned {
			return StageBurned
		}
		return stage + 1
	}
	if stage <= 0 {
		return 0
	}
	return stage - 1
}
