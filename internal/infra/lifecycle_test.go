package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/wait"
	"github.com/rustyrazorblade/edl/internal/wait/waittest"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

func TestEMRWaitForReady(t *testing.T) {
	clusters := &fakeClusters{states: map[string][]string{
		"j-1": {emrStarting, emrBootstrapping, emrWaiting},
	}}
	clock := waittest.NewStepClock()
	rec := &output.Recorder{}
	l := NewEMRLifecycle(clusters, testOptions(clock, rec)...)

	id, err := l.Create(context.Background(), types.EMRClusterConfig{Name: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "j-NEW", id)

	state, err := l.WaitForReady(context.Background(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, emrWaiting, state.State)
	assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, clock.Waits)
	assert.True(t, rec.Contains("Ready: EMR cluster j-1 (master.example)"))
}

func TestEMRWaitForReadyFails(t *testing.T) {
	clusters := &fakeClusters{states: map[string][]string{
		"j-1": {emrStarting, emrTerminatedWithErrors},
	}}
	l := NewEMRLifecycle(clusters, testOptions(waittest.NewStepClock(), &output.Recorder{})...)

	state, err := l.WaitForReady(context.Background(), "j-1")
	var stateErr *wait.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, emrTerminatedWithErrors, stateErr.Status)
	assert.Contains(t, err.Error(), "bootstrap failure")
	assert.Equal(t, emrTerminatedWithErrors, state.State)
}

func TestEMRWaitForReadyTimesOut(t *testing.T) {
	clusters := &fakeClusters{states: map[string][]string{"j-1": {emrStarting}}}
	settings := DefaultSettings()
	settings.EMRTimeout = time.Minute
	l := NewEMRLifecycle(clusters, append(testOptions(waittest.NewStepClock(), &output.Recorder{}), WithSettings(settings))...)

	_, err := l.WaitForReady(context.Background(), "j-1")
	assert.ErrorIs(t, err, provider.ErrTimeout)
	assert.Contains(t, err.Error(), "elapsed 1m0s")
}

func TestEMRTerminate(t *testing.T) {
	clusters := &fakeClusters{states: map[string][]string{
		"j-1": {emrTerminating, emrTerminated},
		"j-2": {emrTerminatedWithErrors},
	}}
	rec := &output.Recorder{}
	l := NewEMRLifecycle(clusters, testOptions(waittest.NewStepClock(), rec)...)

	require.NoError(t, l.Terminate(context.Background(), "j-1", "j-2", "j-gone"))
	require.NoError(t, l.WaitForTerminated(context.Background(), "j-1", "j-2", "j-gone"))
	assert.Equal(t, []string{"j-1", "j-2", "j-gone"}, clusters.terminated)
	assert.True(t, rec.Contains("Terminated EMR cluster(s) j-1, j-2, j-gone"))

	require.NoError(t, l.WaitForTerminated(context.Background()))
}

func TestEMRFinished(t *testing.T) {
	assert.True(t, EMRFinished(emrTerminated))
	assert.True(t, EMRFinished(emrTerminatedWithErrors))
	assert.False(t, EMRFinished(emrTerminating))
	assert.False(t, EMRFinished(emrWaiting))
}

func TestOpenSearchWaitForReady(t *testing.T) {
	search := &fakeSearch{domains: map[string][]*types.DomainState{
		"logs": {
			{Name: "logs", Processing: true},
			{Name: "logs", Created: true, Processing: true},
			{Name: "logs", Created: true, Endpoint: "vpc-logs.es.amazonaws.com"},
		},
	}}
	clock := waittest.NewStepClock()
	rec := &output.Recorder{}
	l := NewOpenSearchLifecycle(search, testOptions(clock, rec)...)

	d, err := l.WaitForReady(context.Background(), "logs")
	require.NoError(t, err)
	assert.Equal(t, "vpc-logs.es.amazonaws.com", d.Endpoint)
	assert.Len(t, clock.Waits, 2)
	assert.True(t, rec.Contains("https://vpc-logs.es.amazonaws.com"))
}

func TestOpenSearchWaitForReadyDeletedMeanwhile(t *testing.T) {
	search := &fakeSearch{domains: map[string][]*types.DomainState{
		"logs": {{Name: "logs", Processing: true}, nil},
	}}
	l := NewOpenSearchLifecycle(search, testOptions(waittest.NewStepClock(), &output.Recorder{})...)

	_, err := l.WaitForReady(context.Background(), "logs")
	var stateErr *wait.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "deleted", stateErr.Status)
}

func TestOpenSearchTerminate(t *testing.T) {
	search := &fakeSearch{domains: map[string][]*types.DomainState{
		"logs": {{Name: "logs", Deleted: true}, nil},
	}}
	l := NewOpenSearchLifecycle(search, testOptions(waittest.NewStepClock(), &output.Recorder{})...)

	require.NoError(t, l.Terminate(context.Background(), "logs"))
	require.NoError(t, l.WaitForTerminated(context.Background(), "logs"))
	assert.Equal(t, []string{"logs"}, search.deleted)
}

func TestFindDomainsInVPC(t *testing.T) {
	search := &fakeSearch{domains: map[string][]*types.DomainState{
		"logs":    {{Name: "logs", SubnetIDs: []string{"subnet-2"}}},
		"other":   {{Name: "other", SubnetIDs: []string{"subnet-9"}}},
		"leaving": {{Name: "leaving", Deleted: true, SubnetIDs: []string{"subnet-1"}}},
		"public":  {{Name: "public"}},
	}}
	l := NewOpenSearchLifecycle(search, testOptions(waittest.NewStepClock(), &output.Recorder{})...)

	found, err := l.FindDomainsInVPC(context.Background(), []string{"subnet-1", "subnet-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, found)

	found, err = l.FindDomainsInVPC(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

type imageStates []string

func (s *imageStates) ImageState(context.Context, string) (string, error) {
	state := (*s)[0]
	if len(*s) > 1 {
		*s = (*s)[1:]
	}
	return state, nil
}

func TestWaitForImage(t *testing.T) {
	clock := waittest.NewStepClock()
	states := &imageStates{"pending", "pending", "available"}
	require.NoError(t, WaitForImage(context.Background(), states, "ami-1", WithClock(clock), WithLogger(quietLogger())))
	assert.Len(t, clock.Waits, 2)

	states = &imageStates{"pending", "failed"}
	err := WaitForImage(context.Background(), states, "ami-2", WithClock(waittest.NewStepClock()), WithLogger(quietLogger()))
	var stateErr *wait.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "failed", stateErr.Status)
}
