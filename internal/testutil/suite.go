package testutil

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/internal/config"
)

// BaseSuite gives integration suites a migrated database and a fresh
// project scope per test.
//
// Writes are committed for real so concurrent writers can race; isolation
// between tests comes from the per-test ProjectID, since every store query
// is scoped by project.
//
//	type StoreSuite struct {
//	    testutil.BaseSuite
//	}
//
//	func (s *StoreSuite) TestSomething() {
//	    obj, err := s.store.CreateObject(s.Ctx, s.ProjectID, ...)
//	}
type BaseSuite struct {
	suite.Suite
	TestDB    *TestDB
	Ctx       context.Context
	ProjectID uuid.UUID

	dbSuffix string
}

// SetDBSuffix names the suite's database. Call before BaseSuite.SetupSuite.
func (s *BaseSuite) SetDBSuffix(suffix string) {
	s.dbSuffix = suffix
}

// SetupSuite skips when no database is configured, otherwise clones one.
func (s *BaseSuite) SetupSuite() {
	if BaseURL() == "" {
		s.T().Skip("TEST_DATABASE_URL not set")
	}
	s.Ctx = context.Background()

	suffix := s.dbSuffix
	if suffix == "" {
		suffix = "suite"
	}
	db, err := SetupTestDB(s.Ctx, suffix)
	s.Require().NoError(err, "setup test database")
	s.TestDB = db
}

// TearDownSuite drops the suite database.
func (s *BaseSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// SetupTest allocates a new project scope.
func (s *BaseSuite) SetupTest() {
	s.ProjectID = uuid.New()
}

// DB returns the suite database.
func (s *BaseSuite) DB() bun.IDB {
	return s.TestDB.DB
}

// Config returns defaults suitable for store tests.
func (s *BaseSuite) Config() *config.Config {
	cfg := &config.Config{}
	cfg.Graph = config.GraphConfig{
		WriteRetries:       3,
		TraverseMaxDepth:   8,
		TraverseMaxNodes:   500,
		LexicalWeight:      0.5,
		VectorWeight:       0.5,
		VectorProbes:       10,
		EmbeddingDimension: 768,
	}
	cfg.RateLimit = config.RateLimitConfig{RPS: 1000, Burst: 1000}
	return cfg
}

// Logger discards output.
func (s *BaseSuite) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
