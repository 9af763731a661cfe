package journal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

type verdict struct {
	ID     string `json:"id"`
	Action string `json:"action_taken"`
}

func TestJournal_AppendAndVerify(t *testing.T) {
	store := NewMemoryStore()
	j, err := Open(store)
	require.NoError(t, err)
	assert.Empty(t, j.Head())

	first, err := j.Append("e-1", "attendance.verdict.recorded", at, verdict{ID: "v-1", Action: "none"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Empty(t, first.PrevHash)

	second, err := j.Append("e-2", "attendance.verdict.recorded", at.Add(time.Minute), verdict{ID: "v-2", Action: "blocked"})
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.PrevHash)
	assert.Equal(t, second.Checksum, j.Head())

	n, err := j.Verify()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJournal_DetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	j, err := Open(store)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := j.Append(fmt.Sprintf("e-%d", i), "attendance.verdict.recorded", at, verdict{ID: fmt.Sprintf("v-%d", i), Action: "blocked"})
		require.NoError(t, err)
	}

	lines, err := store.ReadAll()
	require.NoError(t, err)
	var e Entry
	require.NoError(t, json.Unmarshal(lines[1], &e))
	e.Payload = json.RawMessage(`{"id":"v-2","action_taken":"none"}`)
	forged, err := json.Marshal(e)
	require.NoError(t, err)
	store.Replace(1, forged)

	n, err := j.Verify()
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.Equal(t, 1, n)
}

func TestJournal_FileStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "verdicts.jsonl")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	j, err := Open(store)
	require.NoError(t, err)
	_, err = j.Append("e-1", "attendance.verdict.recorded", at, verdict{ID: "v-1"})
	require.NoError(t, err)
	head := j.Head()

	reopenedStore, err := NewFileStore(path)
	require.NoError(t, err)
	reopened, err := Open(reopenedStore)
	require.NoError(t, err)
	assert.Equal(t, head, reopened.Head())

	entry, err := reopened.Append("e-2", "attendance.review.added", at, map[string]string{"decision": "false_positive"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Sequence)
	assert.Equal(t, head, entry.PrevHash)

	n, err := reopened.Verify()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJournal_ConcurrentAppendsStayChained(t *testing.T) {
	j, err := Open(NewMemoryStore())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := j.Append(fmt.Sprintf("e-%d", i), "attendance.verdict.recorded", at, verdict{ID: fmt.Sprintf("v-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := j.Verify()
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
