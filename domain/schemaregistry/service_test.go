package schemaregistry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[Key][]TypeSchema
	loads    int
	onLatest func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[Key][]TypeSchema)}
}

func (f *fakeStore) Latest(_ context.Context, key Key) (*TypeSchema, error) {
	if f.onLatest != nil {
		f.onLatest()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	rows := f.rows[key]
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[len(rows)-1]
	return &row, nil
}

func (f *fakeStore) Append(_ context.Context, key Key, build BuildFunc) (*TypeSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var prev *TypeSchema
	if rows := f.rows[key]; len(rows) > 0 {
		p := rows[len(rows)-1]
		prev = &p
	}
	next, err := build(prev)
	if err != nil {
		return nil, err
	}
	next.ID = uuid.New()
	next.ProjectID = key.ProjectID
	next.Kind = key.Kind
	next.TypeName = key.TypeName
	next.Version = 1
	if prev != nil {
		next.Version = prev.Version + 1
		next.SupersedesID = &prev.ID
	}
	f.rows[key] = append(f.rows[key], *next)
	return next, nil
}

func (f *fakeStore) ListActive(_ context.Context, projectID uuid.UUID, kind Kind) ([]TypeSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TypeSchema
	for k, rows := range f.rows {
		if k.ProjectID != projectID || (kind != "" && k.Kind != kind) {
			continue
		}
		if last := rows[len(rows)-1]; last.DeletedAt == nil {
			out = append(out, last)
		}
	}
	return out, nil
}

type recordingBus struct {
	mu   sync.Mutex
	keys []Key
}

func (b *recordingBus) Publish(_ context.Context, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, _ func(Key)) error {
	<-ctx.Done()
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name"]
}`

func TestGetValidatorNotFound(t *testing.T) {
	svc := NewService(newFakeStore(), nil, testLogger())
	_, err := svc.GetValidator(context.Background(), uuid.New(), KindObject, "Person")
	assert.ErrorIs(t, err, apperror.ErrSchemaNotFound)
	assert.True(t, IsNotFound(err))
}

func TestGetValidatorCachesUntilWrite(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	bus := &recordingBus{}
	svc := NewService(store, bus, testLogger())
	project := uuid.New()

	_, err := svc.Register(ctx, project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	v1, err := svc.GetValidator(ctx, project, KindObject, "Person")
	require.NoError(t, err)
	v1Again, err := svc.GetValidator(ctx, project, KindObject, "Person")
	require.NoError(t, err)
	assert.Same(t, v1, v1Again)
	assert.Equal(t, 1, store.loads)

	// A new version is visible on the very next lookup.
	_, err = svc.Register(ctx, project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(`{"type":"object"}`)})
	require.NoError(t, err)

	v2, err := svc.GetValidator(ctx, project, KindObject, "Person")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NoError(t, v2.Validate(map[string]any{"age": "not checked anymore"}))

	require.Len(t, bus.keys, 2)
	assert.Equal(t, Key{ProjectID: project, Kind: KindObject, TypeName: "Person"}, bus.keys[0])
}

func TestGetValidatorScopedByProject(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore(), nil, testLogger())
	a, b := uuid.New(), uuid.New()

	_, err := svc.Register(ctx, a, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	_, err = svc.GetValidator(ctx, b, KindObject, "Person")
	assert.ErrorIs(t, err, apperror.ErrSchemaNotFound)
}

func TestStaleLoadIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, nil, testLogger())
	project := uuid.New()
	key := Key{ProjectID: project, Kind: KindObject, TypeName: "Person"}

	_, err := svc.Register(ctx, project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(personSchema)})
	require.NoError(t, err)

	// Invalidate while the lookup is in flight, as a concurrent write would.
	store.onLatest = func() { svc.InvalidateLocal(key) }
	_, err = svc.GetValidator(ctx, project, KindObject, "Person")
	require.NoError(t, err)
	store.onLatest = nil

	svc.mu.RLock()
	_, cached := svc.cache[key]
	svc.mu.RUnlock()
	assert.False(t, cached)
}

func TestRegisterRejects(t *testing.T) {
	svc := NewService(newFakeStore(), nil, testLogger())
	project := uuid.New()

	tests := []struct {
		name string
		in   RegisterInput
		want *apperror.Error
	}{
		{"unknown kind", RegisterInput{Kind: "edge", TypeName: "x"}, apperror.ErrBadRequest},
		{"blank type", RegisterInput{Kind: KindObject, TypeName: "  "}, apperror.ErrBadRequest},
		{"multiplicity on object", RegisterInput{Kind: KindObject, TypeName: "x", Multiplicity: "one_to_one"}, apperror.ErrBadRequest},
		{"unknown multiplicity", RegisterInput{Kind: KindRelationship, TypeName: "x", Multiplicity: "some"}, apperror.ErrBadRequest},
		{"malformed schema", RegisterInput{Kind: KindObject, TypeName: "x", JSONSchema: json.RawMessage(`{not json`)}, apperror.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), project, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRelationshipMultiplicityDefaults(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore(), nil, testLogger())
	project := uuid.New()

	_, err := svc.Register(ctx, project, RegisterInput{Kind: KindRelationship, TypeName: "knows"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, project, RegisterInput{Kind: KindRelationship, TypeName: "married_to", Multiplicity: "one_to_one"})
	require.NoError(t, err)

	knows, err := svc.GetValidator(ctx, project, KindRelationship, "knows")
	require.NoError(t, err)
	assert.Equal(t, ManyToMany, knows.Multiplicity)

	married, err := svc.GetValidator(ctx, project, KindRelationship, "married_to")
	require.NoError(t, err)
	assert.True(t, married.Multiplicity.OnePerSrc())
	assert.True(t, married.Multiplicity.OnePerDst())
}

func TestDeleteTombstones(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore(), nil, testLogger())
	project := uuid.New()

	_, err := svc.Register(ctx, project, RegisterInput{Kind: KindObject, TypeName: "Person", JSONSchema: json.RawMessage(personSchema)})
	require.NoError(t, err)
	_, err = svc.GetValidator(ctx, project, KindObject, "Person")
	require.NoError(t, err)

	row, err := svc.Delete(ctx, project, KindObject, "Person")
	require.NoError(t, err)
	assert.Equal(t, 2, row.Version)
	assert.NotNil(t, row.DeletedAt)

	_, err = svc.GetValidator(ctx, project, KindObject, "Person")
	assert.ErrorIs(t, err, apperror.ErrSchemaNotFound)

	_, err = svc.Delete(ctx, project, KindObject, "Person")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	list, err := svc.List(ctx, project, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
