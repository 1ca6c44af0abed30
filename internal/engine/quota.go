package engine

import (
	"errors"
	"fmt"
)

// TagQuota bounds how many tags a run may commit.
//
// Programs with periodic timers and no timeout never run out of events; a
// quota turns such a run into a bounded one. The environment counts every
// commit and makes the commit that exhausts the quota the stop tag, so the
// run still ends cleanly with its shutdown reactions.
type TagQuota struct {
	maxTags int // 0 means unlimited
	current int
}

// NewTagQuota creates a quota allowing maxTags commits. Zero or negative
// means unlimited.
func NewTagQuota(maxTags int) *TagQuota {
	if maxTags < 0 {
		maxTags = 0
	}
	return &TagQuota{maxTags: maxTags}
}

// Check counts one commit and returns TagsExceededError once the quota has
// been used up.
func (q *TagQuota) Check(runID string) error {
	q.current++
	if q.maxTags > 0 && q.current > q.maxTags {
		return &TagsExceededError{
			RunID: runID,
			Tags:  q.current,
			Limit: q.maxTags,
		}
	}
	return nil
}

// Current returns the number of commits counted so far.
func (q *TagQuota) Current() int {
	return q.current
}

// Exhausted reports whether the limit has been reached.
func (q *TagQuota) Exhausted() bool {
	return q.maxTags > 0 && q.current >= q.maxTags
}

// MaxTags returns the limit, 0 for unlimited.
func (q *TagQuota) MaxTags() int {
	return q.maxTags
}

// TagsExceededError reports a run that committed more tags than its quota.
type TagsExceededError struct {
	RunID string
	Tags  int
	Limit int
}

// Error implements the error interface.
func (e *TagsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded tag quota: %d tags > %d limit", e.RunID, e.Tags, e.Limit)
}

// IsTagsExceededError returns true if the error is a TagsExceededError.
func IsTagsExceededError(err error) bool {
	var te *TagsExceededError
	return errors.As(err, &te)
}
