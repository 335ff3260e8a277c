//go:build integration

package graph

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
	"github.com/emergent-company/emergent.graph/internal/testutil"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

type recordedEvents struct {
	mu  sync.Mutex
	evs []events.ChangeEvent
}

func (r *recordedEvents) Emit(ev events.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Type
	}
	return out
}

type StoreSuite struct {
	testutil.BaseSuite
	svc     *Service
	schemas *schemaregistry.Service
	events  *recordedEvents
	auditor *Auditor
}

func TestStoreSuite(t *testing.T) {
	s := new(StoreSuite)
	s.SetDBSuffix("graph")
	suite.Run(t, s)
}

func (s *StoreSuite) SetupTest() {
	s.BaseSuite.SetupTest()
	log := s.Logger()
	repo := NewRepository(s.DB(), log)
	s.schemas = schemaregistry.NewService(schemaregistry.NewRepository(s.DB()), nil, log)
	s.events = &recordedEvents{}
	s.svc = NewService(repo, s.schemas, s.events, s.Config(), log)
	s.auditor = NewAuditor(repo, log)
}

func ptr[T any](v T) *T { return &v }

func (s *StoreSuite) person(key string, props map[string]any) *GraphObject {
	obj, err := s.svc.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{Type: "Person", Key: ptr(key), Properties: props})
	s.Require().NoError(err)
	return obj
}

func (s *StoreSuite) link(relType string, src, dst *GraphObject) *GraphRelationship {
	rel, _, err := s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: relType, SrcID: src.CanonicalID, DstID: dst.CanonicalID})
	s.Require().NoError(err)
	return rel
}

func (s *StoreSuite) registerPerson() {
	_, err := s.schemas.Register(s.Ctx, s.ProjectID, schemaregistry.RegisterInput{
		Kind:     schemaregistry.KindObject,
		TypeName: "Person",
		JSONSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"name": {"type": "string"}, "age": {"type": "integer", "minimum": 0}},
			"required": ["name"]
		}`),
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestCreateRoundTrip() {
	obj, err := s.svc.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{
		Type:       "Person",
		Key:        ptr("ada"),
		Properties: map[string]any{"name": "Ada", "age": 36, "tags": []string{"math"}},
		Labels:     []string{"vip", "author", "vip"},
	})
	s.Require().NoError(err)
	s.Equal(1, obj.Version)
	s.Equal(obj.ID, obj.CanonicalID)
	s.Nil(obj.SupersedesID)

	head, err := s.svc.GetObject(s.Ctx, s.ProjectID, obj.CanonicalID, false)
	s.Require().NoError(err)
	s.Equal(obj.Properties, head.Properties)
	s.Equal([]string{"author", "vip"}, head.Labels)
	s.Equal(obj.ContentHash, head.ContentHash)

	byKey, err := s.svc.GetObjectByKey(s.Ctx, s.ProjectID, "Person", "ada")
	s.Require().NoError(err)
	s.Equal(obj.ID, byKey.ID)

	_, err = s.svc.GetObject(s.Ctx, uuid.New(), obj.CanonicalID, false)
	s.ErrorIs(err, apperror.ErrNotFound, "other projects never see the object")

	s.Equal([]events.EventType{events.EventCreated}, s.events.types())
}

func (s *StoreSuite) TestVersionsAreContiguous() {
	obj := s.person("p", map[string]any{"name": "P"})
	for i := 0; i < 4; i++ {
		_, err := s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{Properties: map[string]any{"n": i}})
		s.Require().NoError(err)
	}
	_, err := s.svc.DeleteObject(s.Ctx, s.ProjectID, obj.CanonicalID)
	s.Require().NoError(err)
	_, err = s.svc.RestoreObject(s.Ctx, s.ProjectID, obj.CanonicalID)
	s.Require().NoError(err)

	versions, next, err := s.svc.ObjectHistory(s.Ctx, s.ProjectID, obj.CanonicalID, 0, 0)
	s.Require().NoError(err)
	s.Zero(next)
	s.Require().Len(versions, 7)
	for i, v := range versions {
		s.Equal(7-i, v.Version)
		if i+1 < len(versions) {
			s.Require().NotNil(v.SupersedesID)
			s.Equal(versions[i+1].ID, *v.SupersedesID)
		}
	}
	s.Equal(OpRestore, versions[0].ChangeSummary.Op)
	s.Equal(OpDelete, versions[1].ChangeSummary.Op)

	page, next, err := s.svc.ObjectHistory(s.Ctx, s.ProjectID, obj.CanonicalID, 0, 3)
	s.Require().NoError(err)
	s.Len(page, 3)
	s.Equal(5, next)
	page, _, err = s.svc.ObjectHistory(s.Ctx, s.ProjectID, obj.CanonicalID, next, 3)
	s.Require().NoError(err)
	s.Equal(4, page[0].Version)

	report, err := s.auditor.Run(s.Ctx, &s.ProjectID)
	s.Require().NoError(err)
	s.Empty(report.Defects)
}

func (s *StoreSuite) TestPatchSemantics() {
	obj := s.person("p", map[string]any{"name": "P", "age": 30, "city": "Oslo"})

	patched, err := s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{
		Properties: map[string]any{"age": 31, "city": nil},
		Labels:     LabelDelta{Add: []string{"x"}},
	})
	s.Require().NoError(err)
	s.Equal(2, patched.Version)
	s.Equal(map[string]any{"name": "P", "age": float64(31)}, patched.Properties)
	s.Equal([]string{"x"}, patched.Labels)
	s.Equal([]string{"age", "city"}, patched.ChangeSummary.Paths)

	same, err := s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{Properties: map[string]any{"age": 31}})
	s.Require().NoError(err)
	s.Equal(patched.ID, same.ID, "a no-op patch keeps the head")

	_, err = s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{
		Properties:      map[string]any{"age": 32},
		ExpectedVersion: ptr(1),
	})
	s.ErrorIs(err, apperror.ErrConflict)
}

func (s *StoreSuite) TestConcurrentPatchOneWinsOneConflicts() {
	obj := s.person("p", map[string]any{"name": "P"})

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{
				Properties:      map[string]any{"writer": i},
				ExpectedVersion: ptr(1),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case apperror.Code(err) == apperror.ErrConflict.Code:
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(1, conflicts)

	head, err := s.svc.GetObject(s.Ctx, s.ProjectID, obj.CanonicalID, false)
	s.Require().NoError(err)
	s.Equal(2, head.Version)
}

func (s *StoreSuite) TestConcurrentPatchesRebase() {
	obj := s.person("p", map[string]any{"name": "P"})

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{
				Properties: map[string]any{fmt.Sprintf("w%d", i): true},
			})
		}(i)
	}
	close(start)
	wg.Wait()
	for _, err := range errs {
		s.Require().NoError(err)
	}

	head, err := s.svc.GetObject(s.Ctx, s.ProjectID, obj.CanonicalID, false)
	s.Require().NoError(err)
	s.Equal(4, head.Version)
	s.Equal(map[string]any{"name": "P", "w0": true, "w1": true, "w2": true}, head.Properties)
}

func (s *StoreSuite) TestKeyLifecycle() {
	first := s.person("dup", nil)

	_, err := s.svc.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{Type: "Person", Key: ptr("dup")})
	s.ErrorIs(err, apperror.ErrDuplicateKey)

	_, err = s.svc.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{Type: "Company", Key: ptr("dup")})
	s.NoError(err, "keys are unique per type")

	_, err = s.svc.DeleteObject(s.Ctx, s.ProjectID, first.CanonicalID)
	s.Require().NoError(err)
	_, err = s.svc.GetObjectByKey(s.Ctx, s.ProjectID, "Person", "dup")
	s.ErrorIs(err, apperror.ErrNotFound)

	second := s.person("dup", nil)
	_, err = s.svc.RestoreObject(s.Ctx, s.ProjectID, first.CanonicalID)
	s.ErrorIs(err, apperror.ErrDuplicateKey)

	_, err = s.svc.DeleteObject(s.Ctx, s.ProjectID, second.CanonicalID)
	s.Require().NoError(err)
	restored, err := s.svc.RestoreObject(s.Ctx, s.ProjectID, first.CanonicalID)
	s.Require().NoError(err)
	s.Equal(3, restored.Version)

	_, err = s.svc.RestoreObject(s.Ctx, s.ProjectID, first.CanonicalID)
	s.ErrorIs(err, apperror.ErrBadRequest)
}

func (s *StoreSuite) TestTombstoneVisibility() {
	obj := s.person("t", nil)
	_, err := s.svc.DeleteObject(s.Ctx, s.ProjectID, obj.CanonicalID)
	s.Require().NoError(err)

	_, err = s.svc.GetObject(s.Ctx, s.ProjectID, obj.CanonicalID, false)
	s.ErrorIs(err, apperror.ErrNotFound)
	head, err := s.svc.GetObject(s.Ctx, s.ProjectID, obj.CanonicalID, true)
	s.Require().NoError(err)
	s.False(head.IsLive())

	_, err = s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{Properties: map[string]any{"x": 1}})
	s.ErrorIs(err, apperror.ErrBadRequest)
}

func (s *StoreSuite) TestSchemaValidation() {
	s.registerPerson()

	_, err := s.svc.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{Type: "Person", Properties: map[string]any{"age": 3}})
	s.ErrorIs(err, apperror.ErrValidation)

	obj := s.person("v", map[string]any{"name": "V"})
	_, err = s.svc.PatchObject(s.Ctx, s.ProjectID, obj.CanonicalID, PatchObjectInput{Properties: map[string]any{"age": -1}})
	s.ErrorIs(err, apperror.ErrValidation)

	cfg := s.Config()
	cfg.Graph.RequireSchema = true
	strict := NewService(NewRepository(s.DB(), s.Logger()), s.schemas, nil, cfg, s.Logger())
	_, err = strict.CreateObject(s.Ctx, s.ProjectID, CreateObjectInput{Type: "Unregistered"})
	s.ErrorIs(err, apperror.ErrSchemaNotFound)
}

func (s *StoreSuite) TestOneToOneMultiplicity() {
	_, err := s.schemas.Register(s.Ctx, s.ProjectID, schemaregistry.RegisterInput{
		Kind: schemaregistry.KindRelationship, TypeName: "married_to", Multiplicity: "one_to_one",
	})
	s.Require().NoError(err)

	a, b, c := s.person("a", nil), s.person("b", nil), s.person("c", nil)
	first := s.link("married_to", a, b)

	_, _, err = s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "married_to", SrcID: a.CanonicalID, DstID: c.CanonicalID})
	s.ErrorIs(err, apperror.ErrMultiplicityViolation)
	_, _, err = s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "married_to", SrcID: c.CanonicalID, DstID: b.CanonicalID})
	s.ErrorIs(err, apperror.ErrMultiplicityViolation)

	_, err = s.svc.DeleteRelationship(s.Ctx, s.ProjectID, first.CanonicalID)
	s.Require().NoError(err)
	second := s.link("married_to", a, c)

	_, err = s.svc.RestoreRelationship(s.Ctx, s.ProjectID, first.CanonicalID)
	s.ErrorIs(err, apperror.ErrMultiplicityViolation, "restoring would give a second partner")

	_, err = s.svc.PatchRelationship(s.Ctx, s.ProjectID, second.CanonicalID, PatchRelationshipInput{Properties: map[string]any{"since": 2020}})
	s.NoError(err, "a patch that keeps endpoints does not count itself")
}

func (s *StoreSuite) TestManyToOneMultiplicityUnderConcurrency() {
	_, err := s.schemas.Register(s.Ctx, s.ProjectID, schemaregistry.RegisterInput{
		Kind: schemaregistry.KindRelationship, TypeName: "works_at", Multiplicity: "many_to_one",
	})
	s.Require().NoError(err)

	person := s.person("worker", nil)
	companies := make([]*GraphObject, 4)
	for i := range companies {
		companies[i] = s.person(fmt.Sprintf("co%d", i), nil)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(companies))
	for i, co := range companies {
		wg.Add(1)
		go func(i int, co *GraphObject) {
			defer wg.Done()
			<-start
			_, _, errs[i] = s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "works_at", SrcID: person.CanonicalID, DstID: co.CanonicalID})
		}(i, co)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		s.ErrorIs(err, apperror.ErrMultiplicityViolation)
	}
	s.Equal(1, ok)
}

func (s *StoreSuite) TestRelationshipEndpointsMustBeLive() {
	a, b := s.person("a", nil), s.person("b", nil)
	_, err := s.svc.DeleteObject(s.Ctx, s.ProjectID, b.CanonicalID)
	s.Require().NoError(err)

	_, _, err = s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "knows", SrcID: a.CanonicalID, DstID: b.CanonicalID})
	s.ErrorIs(err, apperror.ErrDanglingReference)

	_, _, err = s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "knows", SrcID: a.CanonicalID, DstID: uuid.New()})
	s.ErrorIs(err, apperror.ErrDanglingReference)

	c := s.person("c", nil)
	rel := s.link("knows", a, c)
	_, err = s.svc.PatchRelationship(s.Ctx, s.ProjectID, rel.CanonicalID, PatchRelationshipInput{DstID: &b.CanonicalID})
	s.ErrorIs(err, apperror.ErrDanglingReference)
}

func (s *StoreSuite) TestRelationshipDedupeAndPatch() {
	a, b := s.person("a", nil), s.person("b", nil)
	first, created, err := s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "knows", SrcID: a.CanonicalID, DstID: b.CanonicalID, Properties: map[string]any{"since": 2001}})
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "knows", SrcID: a.CanonicalID, DstID: b.CanonicalID, Properties: map[string]any{"since": 2001}})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)

	patched, err := s.svc.PatchRelationship(s.Ctx, s.ProjectID, first.CanonicalID, PatchRelationshipInput{Weight: ptr(float32(0.5))})
	s.Require().NoError(err)
	s.Equal(2, patched.Version)
	s.Equal([]string{"weight"}, patched.ChangeSummary.Fields)

	history, _, err := s.svc.RelationshipHistory(s.Ctx, s.ProjectID, first.CanonicalID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(2, history[0].Version)
}

func (s *StoreSuite) TestPersonKnowsScenario() {
	a := s.person("p1", map[string]any{"name": "A", "age": 30})
	b := s.person("p2", map[string]any{"name": "B"})
	rel := s.link("knows", a, b)

	edges, err := s.svc.ListEdges(s.Ctx, s.ProjectID, a.CanonicalID, DirectionOut, nil, false)
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.Equal(rel.ID, edges[0].ID)

	_, err = s.svc.PatchObject(s.Ctx, s.ProjectID, a.CanonicalID, PatchObjectInput{Properties: map[string]any{"age": 31}})
	s.Require().NoError(err)

	head, err := s.svc.GetObject(s.Ctx, s.ProjectID, a.CanonicalID, false)
	s.Require().NoError(err)
	s.Equal(2, head.Version)

	history, _, err := s.svc.ObjectHistory(s.Ctx, s.ProjectID, a.CanonicalID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(2, history[0].Version)
	s.Equal(1, history[1].Version)

	edges, err = s.svc.ListEdges(s.Ctx, s.ProjectID, a.CanonicalID, DirectionOut, nil, false)
	s.Require().NoError(err)
	s.Len(edges, 1, "edges follow the canonical id across versions")
}

func (s *StoreSuite) TestTraversalDepthCap() {
	a, b, c, d := s.person("a", nil), s.person("b", nil), s.person("c", nil), s.person("d", nil)
	s.link("next", a, b)
	s.link("next", b, c)
	s.link("next", c, d)

	res, err := s.svc.Traverse(s.Ctx, TraverseParams{ProjectID: s.ProjectID, Roots: []uuid.UUID{a.CanonicalID}, MaxDepth: 2, Direction: DirectionOut})
	s.Require().NoError(err)
	ids := make([]uuid.UUID, len(res.Nodes))
	for i, n := range res.Nodes {
		ids[i] = n.ID
	}
	s.Equal([]uuid.UUID{a.CanonicalID, b.CanonicalID, c.CanonicalID}, ids)
	s.Equal(2, res.MaxDepthReached)
	s.False(res.Truncated)
}

func (s *StoreSuite) TestTraversalNodeCap() {
	hub := s.person("hub", nil)
	for i := 0; i < 9; i++ {
		s.link("has", hub, s.person(fmt.Sprintf("leaf%d", i), nil))
	}

	res, err := s.svc.Traverse(s.Ctx, TraverseParams{ProjectID: s.ProjectID, Roots: []uuid.UUID{hub.CanonicalID}, MaxDepth: 3, MaxNodes: 5})
	s.Require().NoError(err)
	s.LessOrEqual(len(res.Nodes), 5)
	s.True(res.Truncated)
}

func (s *StoreSuite) TestListFiltersAndCursor() {
	for i := 0; i < 5; i++ {
		s.person(fmt.Sprintf("l%d", i), map[string]any{"name": fmt.Sprintf("n%d", i), "age": 20 + i})
	}
	filters, err := ParseFilter(map[string]any{"age": map[string]any{"$gte": 21}})
	s.Require().NoError(err)

	var seen []string
	cursor := ""
	for {
		rows, next, err := s.svc.ListObjects(s.Ctx, ListParams{ProjectID: s.ProjectID, Types: []string{"Person"}, PropertyFilters: filters, Limit: 2, Cursor: cursor})
		s.Require().NoError(err)
		for _, r := range rows {
			seen = append(seen, *r.Key)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	s.ElementsMatch([]string{"l1", "l2", "l3", "l4"}, seen)
}

func (s *StoreSuite) TestLexicalSearch() {
	s.person("x", map[string]any{"name": "Grace Hopper", "bio": "compiler pioneer"})
	s.person("y", map[string]any{"name": "Alan Turing"})

	hits, err := s.svc.Search(s.Ctx, SearchParams{ProjectID: s.ProjectID, Query: "compiler"})
	s.Require().NoError(err)
	s.Require().NotEmpty(hits)
	s.Equal("x", *hits[0].Object.Key)

	_, err = s.svc.Search(s.Ctx, SearchParams{ProjectID: s.ProjectID})
	s.ErrorIs(err, apperror.ErrBadRequest)
	_, err = s.svc.Search(s.Ctx, SearchParams{ProjectID: s.ProjectID, Vector: []float32{1, 2}})
	s.ErrorIs(err, apperror.ErrBadRequest)
}

func (s *StoreSuite) TestUpsert() {
	obj, created, err := s.svc.UpsertObject(s.Ctx, s.ProjectID, UpsertObjectInput{Type: "Person", Key: "u", Properties: map[string]any{"name": "U"}})
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.svc.UpsertObject(s.Ctx, s.ProjectID, UpsertObjectInput{Type: "Person", Key: "u", Properties: map[string]any{"age": 5}})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(obj.CanonicalID, again.CanonicalID)
	s.Equal(2, again.Version)
	s.Equal(map[string]any{"name": "U", "age": float64(5)}, again.Properties)
}

func (s *StoreSuite) TestRelationshipSelfLoop() {
	a, b := s.person("a", nil), s.person("b", nil)

	_, _, err := s.svc.CreateRelationship(s.Ctx, s.ProjectID, CreateRelationshipInput{Type: "knows", SrcID: a.CanonicalID, DstID: a.CanonicalID})
	s.ErrorIs(err, apperror.ErrBadRequest)

	rel := s.link("knows", a, b)
	_, err = s.svc.PatchRelationship(s.Ctx, s.ProjectID, rel.CanonicalID, PatchRelationshipInput{DstID: &a.CanonicalID})
	s.ErrorIs(err, apperror.ErrBadRequest)
	_, err = s.svc.PatchRelationship(s.Ctx, s.ProjectID, rel.CanonicalID, PatchRelationshipInput{SrcID: &b.CanonicalID})
	s.ErrorIs(err, apperror.ErrBadRequest)

	head, err := s.svc.GetRelationship(s.Ctx, s.ProjectID, rel.CanonicalID, false)
	s.Require().NoError(err)
	s.Equal(1, head.Version)
}

func (s *StoreSuite) TestListRelationships() {
	a, b, c := s.person("a", nil), s.person("b", nil), s.person("c", nil)
	ab := s.link("knows", a, b)
	ac := s.link("knows", a, c)
	cb := s.link("likes", c, b)

	byType, next, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID, Types: []string{"knows"}})
	s.Require().NoError(err)
	s.Empty(next)
	s.ElementsMatch([]uuid.UUID{ab.CanonicalID, ac.CanonicalID}, relIDs(byType))

	bySrc, _, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID, SrcID: &c.CanonicalID})
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{cb.CanonicalID}, relIDs(bySrc))

	byDst, _, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID, DstID: &b.CanonicalID})
	s.Require().NoError(err)
	s.ElementsMatch([]uuid.UUID{ab.CanonicalID, cb.CanonicalID}, relIDs(byDst))

	// Patched relationships appear once, as their head.
	_, err = s.svc.PatchRelationship(s.Ctx, s.ProjectID, ab.CanonicalID, PatchRelationshipInput{Weight: ptr(float32(0.3))})
	s.Require().NoError(err)
	_, err = s.svc.DeleteRelationship(s.Ctx, s.ProjectID, ac.CanonicalID)
	s.Require().NoError(err)

	live, _, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID})
	s.Require().NoError(err)
	s.ElementsMatch([]uuid.UUID{ab.CanonicalID, cb.CanonicalID}, relIDs(live))
	for _, rel := range live {
		if rel.CanonicalID == ab.CanonicalID {
			s.Equal(2, rel.Version)
		}
	}

	all, _, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID, IncludeDeleted: true})
	s.Require().NoError(err)
	s.Len(all, 3)

	// Pages of one walk every head exactly once.
	var seen []uuid.UUID
	cursor := ""
	for {
		page, nextCursor, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: s.ProjectID, IncludeDeleted: true, Limit: 1, Cursor: cursor})
		s.Require().NoError(err)
		seen = append(seen, relIDs(page)...)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	s.ElementsMatch(relIDs(all), seen)

	other, _, err := s.svc.ListRelationships(s.Ctx, RelationshipListParams{ProjectID: uuid.New()})
	s.Require().NoError(err)
	s.Empty(other)
}

func relIDs(rels []*GraphRelationship) []uuid.UUID {
	out := make([]uuid.UUID, len(rels))
	for i, r := range rels {
		out[i] = r.CanonicalID
	}
	return out
}
