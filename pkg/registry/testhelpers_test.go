package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/parishworks/registratura/pkg/models"
)

// setupTestDB creates an in-memory SQLite database with a single connection,
// so concurrent callers share the same database and serialize.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

// testClock is a settable clock for engine options.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testStart = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db     *gorm.DB
	engine *Engine
	clock  *testClock
}

func setupTestEngine(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	clock := newTestClock(testStart)
	opts = append([]Option{
		WithClock(clock.Now),
		WithRetryBackOff(time.Millisecond, 5*time.Millisecond),
	}, opts...)

	return &testEnv{
		db:     db,
		engine: New(db, opts...),
		clock:  clock,
	}
}

func uintPtr(v uint) *uint {
	return &v
}

func stringPtr(s string) *string {
	return &s
}

func (e *testEnv) createConfiguration(t *testing.T, p CreateConfigurationParams) *models.RegisterConfiguration {
	t.Helper()

	if p.Name == "" {
		p.Name = "General register"
	}
	if p.StartingNumber == 0 {
		p.StartingNumber = 1
	}
	cfg, err := e.engine.Configurations.Create(context.Background(), p)
	require.NoError(t, err)
	return cfg
}

func (e *testEnv) createDocument(t *testing.T, parishID, configurationID uint, register bool) *models.Document {
	t.Helper()

	doc, err := e.engine.Documents.CreateDocument(context.Background(), CreateDocumentParams{
		ParishID:                parishID,
		DocumentType:            models.DocumentTypeIncoming,
		RegisterConfigurationID: configurationID,
		Fields:                  models.DocumentFields{Subject: "Baptism certificate request"},
		RegisterImmediately:     register,
	})
	require.NoError(t, err)
	return doc
}
