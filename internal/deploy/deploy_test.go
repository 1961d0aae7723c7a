package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/fingerprint"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/state"
	"github.com/picklr-io/sitepush/providers/null"
)

// deployOnly hides the Pruner capability of the wrapped backend.
type deployOnly struct {
	provider.Backend
}

// flaky fails every Deploy while err is set.
type flaky struct {
	*null.Provider
	err error
}

func (f *flaky) Deploy(ctx context.Context, baseDir string, paths []string) error {
	if f.err != nil {
		return provider.Failed("upload", f.err)
	}
	return f.Provider.Deploy(ctx, baseDir, paths)
}

// mirroring publishes the given paths and then drops every published path
// that no longer exists under baseDir, like a sync with delete.
type mirroring struct {
	published map[string]bool
	calls     int
}

func (m *mirroring) Name() string { return "mirroring" }

func (m *mirroring) Deploy(ctx context.Context, baseDir string, paths []string) error {
	m.calls++
	for _, p := range paths {
		m.published[p] = true
	}
	for p := range m.published {
		if _, err := os.Stat(filepath.Join(baseDir, filepath.FromSlash(p))); os.IsNotExist(err) {
			delete(m.published, p)
		}
	}
	return nil
}

type fixture struct {
	root    string
	store   *state.FileStore
	backend *null.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root:    root,
		store:   state.NewFileStore(filepath.Join(root, config.DefaultStateFile)),
		backend: null.New(),
	}
}

func (f *fixture) deployer(backend provider.Backend) *Deployer {
	return &Deployer{
		Detector: fingerprint.NewDetector(2, config.DefaultStateFile, config.DefaultStateFile+".lock", config.DefaultStateFile+".tmp"),
		Store:    f.store,
		Backend:  backend,
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.root, filepath.FromSlash(rel))))
}

func (f *fixture) saved(t *testing.T) fingerprint.Map {
	t.Helper()
	m, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return m
}

func TestRun_ThreeRunScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.txt", "alpha")
	f.write(t, "b.txt", "beta")
	res, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Changed)
	assert.Equal(t, 2, res.Deployed)
	assert.Equal(t, 2, res.Total)

	f.write(t, "a.txt", "alpha v2")
	backend := null.New()
	res, err = f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Changed)
	assert.Equal(t, []string{"a.txt"}, backend.Deployed())

	f.remove(t, "b.txt")
	f.write(t, "c.txt", "gamma")
	backend = null.New()
	res, err = f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, res.Changed)
	assert.Equal(t, []string{"b.txt"}, res.Deleted)
	assert.Equal(t, []string{"c.txt"}, backend.Deployed())
	assert.Empty(t, backend.Pruned(), "deletions are reported, not pruned, by default")

	saved := f.saved(t)
	assert.Equal(t, []string{"a.txt", "c.txt"}, saved.Paths())
}

func TestRun_ModifiedFileOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "X")
	f.write(t, "b.txt", "Y")

	res, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Changed)
	assert.Len(t, f.saved(t), 2)

	second := null.New()
	res, err = f.deployer(second).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.True(t, res.Skipped)
	assert.Empty(t, second.Deployed())

	f.write(t, "b.txt", "Z")
	third := null.New()
	res, err = f.deployer(third).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, res.Changed)
	assert.Equal(t, []string{"b.txt"}, third.Deployed())
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "index.html", "<h1>hi</h1>")

	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)
	before, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)

	backend := null.New()
	res, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Changed)
	assert.Empty(t, backend.Deployed())

	after, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_StateFileIsNeverDeployed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "index.html", "x")

	_, err := f.deployer(f.backend).Run(context.Background(), f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, f.backend.Deployed())
	assert.NotContains(t, f.saved(t), config.DefaultStateFile)
}

func TestRun_FailureDoesNotSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "A")

	backend := &flaky{Provider: null.New(), err: errors.New("connection reset")}
	_, err := f.deployer(backend).Run(ctx, f.root)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrDeployFailed)

	_, statErr := os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(statErr), "state must not be written after a failed deploy")

	backend.err = nil
	res, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Changed, "the failed file is retried on the next run")
	assert.Equal(t, []string{"a.txt"}, backend.Deployed())
}

func TestRun_FailureKeepsPreviousRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "A")
	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)
	before := f.saved(t)

	f.write(t, "a.txt", "A2")
	_, err = f.deployer(&flaky{Provider: null.New(), err: errors.New("timeout")}).Run(ctx, f.root)
	require.Error(t, err)
	assert.Equal(t, before, f.saved(t))
}

func TestRun_ChangeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, rel := range []string{"index.html", "about.html", "posts/one.html", "posts/two.html"} {
		f.write(t, rel, rel)
	}
	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)

	f.write(t, "posts/two.html", "edited")
	backend := null.New()
	res, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts/two.html"}, res.Changed)
	assert.Equal(t, []string{"posts/two.html"}, backend.Deployed())
	assert.Equal(t, 4, res.Total)
}

func TestRun_DeletionOnlyRecordsForgottenPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "A")
	f.write(t, "b.txt", "B")
	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)

	f.remove(t, "b.txt")
	backend := null.New()
	res, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []string{"b.txt"}, res.Deleted)
	assert.Empty(t, backend.Deployed())
	assert.Equal(t, []string{"a.txt"}, f.saved(t).Paths())
}

func TestRun_DeletionOnlyLeavesMirroredObjectUntilNextChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backend := &mirroring{published: map[string]bool{}}
	f.write(t, "a.txt", "A")
	f.write(t, "b.txt", "B")
	_, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)

	f.remove(t, "b.txt")
	res, err := f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, backend.calls, "deletions alone never reach the backend")
	assert.True(t, backend.published["b.txt"], "deleted file stays published")
	assert.Equal(t, []string{"a.txt"}, f.saved(t).Paths())

	f.write(t, "a.txt", "A2")
	res, err = f.deployer(backend).Run(ctx, f.root)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"a.txt"}, res.Changed)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, map[string]bool{"a.txt": true}, backend.published)
}

func TestRun_Prune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "A")
	f.write(t, "b.txt", "B")
	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)

	f.remove(t, "b.txt")
	backend := null.New()
	d := f.deployer(backend)
	d.Prune = true
	res, err := d.Run(ctx, f.root)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Pruned)
	assert.Equal(t, []string{"b.txt"}, backend.Pruned())
	assert.Empty(t, backend.Deployed())
}

func TestRun_PruneRequiresPruner(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")

	d := f.deployer(deployOnly{f.backend})
	d.Prune = true
	_, err := d.Run(context.Background(), f.root)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.True(t, IsConfigError(err))
	assert.Empty(t, f.backend.Deployed())

	_, statErr := os.Stat(f.store.Path() + ".lock")
	assert.True(t, os.IsNotExist(statErr), "no lock is taken before configuration is checked")
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")

	d := f.deployer(f.backend)
	d.DryRun = true
	res, err := d.Run(context.Background(), f.root)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, []string{"a.txt"}, res.Changed)
	assert.Empty(t, f.backend.Deployed())

	_, statErr := os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_Force(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "A")
	f.write(t, "b.txt", "B")
	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.NoError(t, err)

	backend := null.New()
	d := f.deployer(backend)
	d.Force = true
	res, err := d.Run(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Changed)
	assert.Equal(t, []string{"a.txt", "b.txt"}, backend.Deployed())
}

func TestRun_LockHeld(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")
	ctx := context.Background()

	require.NoError(t, f.store.Lock(ctx))
	defer f.store.Unlock(ctx)

	_, err := f.deployer(f.backend).Run(ctx, f.root)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrLocked)
	assert.Empty(t, f.backend.Deployed())
}

func TestRun_ReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")

	_, err := f.deployer(f.backend).Run(context.Background(), f.root)
	require.NoError(t, err)
	_, statErr := os.Stat(f.store.Path() + ".lock")
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")
	f.write(t, config.DefaultStateFile, "{not json")

	_, err := f.deployer(f.backend).Run(context.Background(), f.root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt fingerprint record")
	assert.Empty(t, f.backend.Deployed())
}

func TestRun_Events(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")

	var events []Event
	d := f.deployer(f.backend)
	d.Events = func(e Event) { events = append(events, e) }
	_, err := d.Run(context.Background(), f.root)
	require.NoError(t, err)

	var got []string
	for _, e := range events {
		got = append(got, e.Stage+":"+e.Status)
	}
	assert.Equal(t, []string{
		"detect:started", "detect:completed",
		"deploy:started", "deploy:completed",
		"save:started", "save:completed",
	}, got)
}

func TestRun_EventsReportFailure(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "A")

	var failed []Event
	d := f.deployer(&flaky{Provider: null.New(), err: errors.New("boom")})
	d.Events = func(e Event) {
		if e.Status == StatusFailed {
			failed = append(failed, e)
		}
	}
	_, err := d.Run(context.Background(), f.root)
	require.Error(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, StageDeploy, failed[0].Stage)
	assert.Equal(t, 1, failed[0].Count)
	assert.ErrorIs(t, failed[0].Error, provider.ErrDeployFailed)
}

func TestRun_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	d := &Deployer{
		Detector: fingerprint.NewDetector(1),
		Store:    state.NewFileStore(filepath.Join(t.TempDir(), config.DefaultStateFile)),
		Backend:  null.New(),
	}
	_, err := d.Run(context.Background(), root)
	require.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	_, err := FromConfig(context.Background(), cfg, provider.Deps{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	cfg.Output.Directory = t.TempDir()
	cfg.CDN.Type = config.TypeNull
	cfg.Deploy.PruneDeleted = true
	d, err := FromConfig(context.Background(), cfg, provider.Deps{})
	require.NoError(t, err)
	assert.Equal(t, "null", d.Backend.Name())
	assert.True(t, d.Prune)
	assert.Equal(t, cfg.StatePath(), d.Store.Location())
	assert.Equal(t, cfg.ExcludedPaths(), d.Detector.Exclude)
}
