package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendChainsFromGenesis(t *testing.T) {
	l := openTemp(t)

	id, err := l.Append("clarity", "register", "kernelA", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	entries := l.Search(Filters{}, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	assert.NotEmpty(t, entries[0].Hash)
}

func TestAppendRejectsEmptyActor(t *testing.T) {
	l := openTemp(t)
	_, err := l.Append("", "register", "kernelA", nil, nil)
	assert.Error(t, err)
}

func TestHashChainLinksSuccessiveEntries(t *testing.T) {
	l := openTemp(t)

	_, err := l.Append("clarity", "register", "kernelA", nil, nil)
	require.NoError(t, err)
	_, err = l.Append("clarity", "status", "kernelA", nil, nil)
	require.NoError(t, err)

	entries := l.Search(Filters{}, 0)
	require.Len(t, entries, 2)
	// entries[0] is newest (status), entries[1] is oldest (register)
	assert.Equal(t, entries[1].Hash, entries[0].PrevHash)
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	l := openTemp(t)

	_, err := l.Append("clarity", "register", "kernelA", nil, nil)
	require.NoError(t, err)
	_, err = l.Append("clarity", "status", "kernelA", nil, nil)
	require.NoError(t, err)

	report := l.VerifyIntegrity()
	assert.True(t, report.Valid)

	l.entries[0].Action = "tampered"
	report = l.VerifyIntegrity()
	assert.False(t, report.Valid)
	assert.Equal(t, l.entries[0].ID, report.FirstBadID)
}

func TestSearchFiltersAndOrdersNewestFirst(t *testing.T) {
	l := openTemp(t)

	_, _ = l.Append("clarity", "register", "kernelA", nil, nil)
	_, _ = l.Append("governance", "decide", "proposal-1", nil, nil)
	_, _ = l.Append("clarity", "status", "kernelA", nil, nil)

	results := l.Search(Filters{Actor: "clarity"}, 0)
	require.Len(t, results, 2)
	assert.Equal(t, "status", results[0].Action)
	assert.Equal(t, "register", results[1].Action)
}

func TestSearchRespectsLimit(t *testing.T) {
	l := openTemp(t)
	for i := 0; i < 5; i++ {
		_, _ = l.Append("clarity", "status", "kernelA", nil, nil)
	}
	results := l.Search(Filters{}, 2)
	assert.Len(t, results, 2)
}

func TestReplayRebuildsChainTip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append("clarity", "register", "kernelA", nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len())
	id, err := reopened.Append("clarity", "status", "kernelA", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	report := reopened.VerifyIntegrity()
	assert.True(t, report.Valid)
}

func TestAppendFailsAfterFileRemovedUnderneath(t *testing.T) {
	// Closing the file handle simulates an unrecoverable persistence
	// failure; Append must fail and must not advance nextID.
	l := openTemp(t)
	_, err := l.Append("clarity", "register", "kernelA", nil, nil)
	require.NoError(t, err)

	require.NoError(t, l.file.Close())
	_, err = l.Append("clarity", "status", "kernelA", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, l.Len(), "failed append must not be committed")

	_ = os.Remove(l.path) // cleanup handled by t.TempDir anyway
}
