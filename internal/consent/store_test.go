package consent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/errors"
)

var errDiskFull = errors.NewStd("disk full")

// flakyKV fails writes for selected keys and can fail every read.
type flakyKV struct {
	*MemoryKV
	mu        sync.Mutex
	failSet   map[string]bool
	failReads bool
}

func newFlakyKV(failKeys ...string) *flakyKV {
	f := &flakyKV{MemoryKV: NewMemoryKV(), failSet: make(map[string]bool)}
	for _, k := range failKeys {
		f.failSet[k] = true
	}
	return f
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	fail := f.failSet[key]
	f.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failReads {
		return "", false, errDiskFull
	}
	return f.MemoryKV.Get(ctx, key)
}

func ptr[T any](v T) *T { return &v }

func TestLoadOnFirstRunReturnsDefaults(t *testing.T) {
	t.Parallel()

	s := NewStore(NewMemoryKV())
	prefs, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), prefs)
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, CategoryKey(ModelTraining), "yes please"))
	require.NoError(t, kv.Set(ctx, CategoryKey(LocationData), "true"))
	require.NoError(t, kv.Set(ctx, CategoryKey(BasicIdentification), "false"))
	require.NoError(t, kv.Set(ctx, KeyTheme, "sepia"))
	require.NoError(t, kv.Set(ctx, KeyNotifications, "{not json"))

	prefs, err := NewStore(kv).Load(ctx)
	require.NoError(t, err)

	assert.False(t, prefs.Consents[ModelTraining])
	assert.True(t, prefs.Consents[LocationData])
	assert.True(t, prefs.Consents[BasicIdentification], "mandatory category is re-asserted on load")
	assert.Equal(t, ThemeSystem, prefs.Theme)
	assert.Equal(t, DefaultNotificationSettings(), prefs.Notifications)
}

func TestLoadBackendFailureStillReturnsDefaults(t *testing.T) {
	t.Parallel()

	kv := newFlakyKV()
	kv.failReads = true

	prefs, err := NewStore(kv).Load(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	assert.Equal(t, DefaultPreferences(), prefs)
}

func TestSetCategoryMandatoryIsImmutable(t *testing.T) {
	t.Parallel()

	for _, value := range []bool{false, true} {
		s := NewStore(NewMemoryKV())
		err := s.SetCategory(t.Context(), BasicIdentification, value)

		var immutable *ImmutableCategoryError
		require.ErrorAs(t, err, &immutable)
		assert.Equal(t, BasicIdentification, immutable.Category)
		assert.True(t, IsPermitted(s.Consents(), BasicIdentification))
	}
}

func TestSetCategoryRejectsUnknown(t *testing.T) {
	t.Parallel()

	kv := NewMemoryKV()
	s := NewStore(kv)
	err := s.SetCategory(t.Context(), "voice_samples", true)

	var invalid *InvalidPreferenceError
	require.ErrorAs(t, err, &invalid)

	keys, _ := kv.Keys(t.Context(), KeyPrefix)
	assert.Empty(t, keys)
}

func TestSetCategoryFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()

	s := NewStore(newFlakyKV(CategoryKey(ModelTraining)))
	err := s.SetCategory(t.Context(), ModelTraining, true)
	require.ErrorIs(t, err, errDiskFull)
	assert.False(t, s.Consents()[ModelTraining])
}

func TestSetManyRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	kv := NewMemoryKV()
	s := NewStore(kv)
	require.NoError(t, s.SetMany(ctx, PartialPreferences{
		Consents:         Map{ModelTraining: true, LocationData: true},
		Theme:            ptr(ThemeDark),
		ConsentCompleted: ptr(true),
	}))

	prefs, err := NewStore(kv).Load(ctx)
	require.NoError(t, err)

	want := DefaultPreferences()
	want.Consents[ModelTraining] = true
	want.Consents[LocationData] = true
	want.Theme = ThemeDark
	want.ConsentCompleted = true
	assert.Equal(t, want, prefs)
}

func TestSetManyReportsFailedKeysWithoutRollback(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	kv := newFlakyKV(CategoryKey(LocationData), KeyNotifications)
	s := NewStore(kv)
	err := s.SetMany(ctx, PartialPreferences{
		Consents: Map{
			BasicIdentification: false,
			ModelTraining:       true,
			LocationData:        true,
			"unknown_category":  true,
		},
		Theme:         ptr(ThemeLight),
		Notifications: &NotificationSettings{Enabled: false},
	})

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{
		CategoryKey(BasicIdentification),
		CategoryKey(LocationData),
		CategoryKey("unknown_category"),
		KeyNotifications,
	}, partial.FailedKeys())
	assert.ElementsMatch(t, []string{CategoryKey(ModelTraining), KeyTheme}, partial.Applied)
	assert.ErrorIs(t, err, errDiskFull)

	var immutable *ImmutableCategoryError
	assert.ErrorAs(t, err, &immutable)

	prefs, loadErr := NewStore(kv).Load(ctx)
	require.NoError(t, loadErr)
	assert.True(t, prefs.Consents[ModelTraining], "applied keys are not rolled back")
	assert.False(t, prefs.Consents[LocationData])
	assert.Equal(t, ThemeLight, prefs.Theme)
	assert.Equal(t, DefaultNotificationSettings(), prefs.Notifications)
}

func TestResetRemovesNamespaceAndKeepsMandatory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "other-app:key", "kept"))
	s := NewStore(kv)
	require.NoError(t, s.SetMany(ctx, PartialPreferences{
		Consents:         Map{ModelTraining: true, AdvancedSensors: true},
		Theme:            ptr(ThemeDark),
		Notifications:    &NotificationSettings{Tips: true},
		ConsentCompleted: ptr(true),
	}))

	require.NoError(t, s.Reset(ctx))

	keys, err := kv.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{CategoryKey(BasicIdentification)}, keys)

	v, ok, err := kv.Get(ctx, "other-app:key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", v)

	assert.Equal(t, DefaultPreferences(), s.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore(NewMemoryKV())
	snap := s.Snapshot()
	snap.Consents[ModelTraining] = true
	assert.False(t, s.Consents()[ModelTraining])
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	path := filepath.Join(t.TempDir(), "prefs.json")
	kv, err := OpenFileKV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	s := NewStore(kv)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			c := []Category{ModelTraining, EXIFMetadata, LocationData, AdvancedSensors}[i%4]
			assert.NoError(t, s.SetCategory(ctx, c, i%2 == 0))
		})
	}
	wg.Wait()

	reopened, err := OpenFileKV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	prefs, err := NewStore(reopened).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Consents(), prefs.Consents, "memory and disk agree after concurrent writes")
}

func TestFileKVSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	kv, err := OpenFileKV(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, KeyTheme, "dark"))
	require.NoError(t, kv.Set(ctx, CategoryKey(ModelTraining), "true"))
	require.NoError(t, kv.Delete(ctx, CategoryKey(ModelTraining)))
	require.NoError(t, kv.Close())

	reopened, err := OpenFileKV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	v, ok, err := reopened.Get(ctx, KeyTheme)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	keys, err := reopened.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyTheme}, keys)
}

func TestOpenFileKVRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]"), 0o600))

	_, err := OpenFileKV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt preferences file")
}

func TestFileKVHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	kv, err := OpenFileKV(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, kv.Set(ctx, KeyTheme, "dark"), context.Canceled)
}
