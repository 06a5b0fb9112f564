package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/interfaces/scheduler"
)

func TestParseUserIDs(t *testing.T) {
	ids, err := parseUserIDs("1, 2,,3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	_, err = parseUserIDs("1,abc")
	assert.Error(t, err)

	_, err = parseUserIDs("0")
	assert.Error(t, err)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{{"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"}, {"sync"}, {"consent-status"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSyncCommand_RequiresTarget(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"sync"})

	err := root.Execute()
	assert.EqualError(t, err, "must specify --user-id or --all")
}

func TestConsentStatusCommand_RejectsBadIDs(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"consent-status", "--user-id=x"})

	err := root.Execute()
	assert.Error(t, err)
}

type countedJob struct {
	n   int
	err error
}

func (j countedJob) Execute(ctx context.Context) error { return j.err }
func (j countedJob) UserID() string                    { return "1" }
func (j countedJob) Description() string               { return fmt.Sprintf("job %d", j.n) }

func TestResultCollector_DrainsWhileJobsAreQueued(t *testing.T) {
	results := make(chan scheduler.JobResult, 1)
	pool := scheduler.NewWorkerPool(scheduler.PoolConfig{Workers: 2, QueueSize: 2, Results: results})
	pool.Start()
	collector := collectResults(results)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		var err error
		if i == 3 {
			err = errors.New("provider down")
		}
		require.NoError(t, pool.SubmitWait(ctx, countedJob{n: i, err: err}))
	}

	pool.Shutdown()
	ok, failed := collector.wait()
	assert.Equal(t, 19, ok)
	assert.Equal(t, 1, failed)
}
