package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/tag"
)

func TestKind_RoundTripsThroughName(t *testing.T) {
	for k := range kindNames {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestRecorder_FilterAndTags(t *testing.T) {
	r := NewRecorder()
	r.Record(Record{Kind: ReactionStarts, Subject: "A.r", Tag: tag.New(0, 0)})
	r.Record(Record{Kind: ReactionEnds, Subject: "A.r", Tag: tag.New(0, 0)})
	r.Record(Record{Kind: ReactionStarts, Subject: "A.r", Tag: tag.New(100, 0)})
	r.Record(Record{Kind: ReactionStarts, Subject: "B.r", Tag: tag.New(100, 1)})

	assert.Len(t, r.Records(), 4)
	assert.Len(t, r.Filter(ReactionStarts), 3)
	assert.Equal(t, map[string][]tag.Tag{
		"A.r": {tag.New(0, 0), tag.New(100, 0)},
		"B.r": {tag.New(100, 1)},
	}, r.Tags(ReactionStarts))
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Record(Record{Kind: WorkerWaitStarts, Worker: w})
			}
		}(w)
	}
	wg.Wait()
	assert.Len(t, r.Records(), 400)
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, b, Nop{}}
	m.Record(Record{Kind: ScheduleCalled})
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}
