package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caligo-app/caligo/internal/detect"
	"github.com/caligo-app/caligo/internal/registry"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/pkg/types"
)

type fakeDetector struct {
	name     string
	entities []*types.Entity
	err      error
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Detect(ctx context.Context, text string) ([]*types.Entity, error) {
	return f.entities, f.err
}

func waitForStatus(t *testing.T, r *Runner, id string, want Status) *Job {
	t.Helper()
	var got *Job
	require.Eventually(t, func() bool {
		job, err := r.Get(id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestRunner_CompletesAndIngests(t *testing.T) {
	sessions := session.NewManager(time.Minute, time.Hour)
	sess := sessions.Create("doc.txt", "Jean Dupont, tel 0601020304")

	d := &fakeDetector{name: "pattern", entities: []*types.Entity{
		{Text: "0601020304", Type: types.EntityPhone, Source: types.SourcePattern,
			Confidence: 0.98, HasOffsets: true, StartOffset: 17, EndOffset: 27},
		{Text: "Jean Dupont", Type: types.EntityPerson, Source: types.SourceModel,
			Confidence: 0.95, HasOffsets: true, StartOffset: 0, EndOffset: 11},
	}}

	r := NewRunner(sessions, []detect.Detector{d}, 1)
	defer r.Stop()

	job, err := r.Submit(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, job.SessionID)

	done := waitForStatus(t, r, job.ID, StatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 2, done.Found)
	assert.Equal(t, 2, len(sess.ListEntities(registry.Filter{})))
}

func TestRunner_FailsOnDetectorError(t *testing.T) {
	sessions := session.NewManager(time.Minute, time.Hour)
	sess := sessions.Create("doc.txt", "texte")

	d := &fakeDetector{name: "pattern", err: errors.New("boom")}
	r := NewRunner(sessions, []detect.Detector{d}, 1)
	defer r.Stop()

	job, err := r.Submit(sess.ID)
	require.NoError(t, err)

	failed := waitForStatus(t, r, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "boom")
}

func TestRunner_ModelOutageDegradesRun(t *testing.T) {
	sessions := session.NewManager(time.Minute, time.Hour)
	sess := sessions.Create("doc.txt", "Tel 0601020304")

	pattern := &fakeDetector{name: "pattern", entities: []*types.Entity{
		{Text: "0601020304", Type: types.EntityPhone, Source: types.SourcePattern,
			Confidence: 0.98, HasOffsets: true, StartOffset: 4, EndOffset: 14},
	}}
	model := &fakeDetector{name: "model", err: detect.ErrModelUnavailable}

	r := NewRunner(sessions, []detect.Detector{pattern, model}, 1)
	defer r.Stop()

	job, err := r.Submit(sess.ID)
	require.NoError(t, err)

	done := waitForStatus(t, r, job.ID, StatusCompleted)
	assert.Equal(t, 1, done.Found, "the regex pass still lands when the model is down")
}

func TestRunner_SubmitUnknownSession(t *testing.T) {
	sessions := session.NewManager(time.Minute, time.Hour)
	r := NewRunner(sessions, nil, 1)
	defer r.Stop()

	_, err := r.Submit("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRunner_ProgressCallback(t *testing.T) {
	sessions := session.NewManager(time.Minute, time.Hour)
	sess := sessions.Create("doc.txt", "texte")

	var mu sync.Mutex
	var seen []Status
	r := NewRunner(sessions, []detect.Detector{&fakeDetector{name: "pattern"}}, 1,
		WithProgressFunc(func(j Job) {
			mu.Lock()
			seen = append(seen, j.Status)
			mu.Unlock()
		}))
	defer r.Stop()

	job, err := r.Submit(sess.ID)
	require.NoError(t, err)
	waitForStatus(t, r, job.ID, StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, StatusPending)
	assert.Contains(t, seen, StatusRunning)
	assert.Contains(t, seen, StatusCompleted)
}

func TestRunner_GetUnknownJob(t *testing.T) {
	r := NewRunner(session.NewManager(time.Minute, time.Hour), nil, 1)
	defer r.Stop()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
