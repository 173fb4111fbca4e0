package datastore

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(&conf.DatabaseSettings{
		Driver: DriverSQLite,
		SQLite: conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "florai.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func testContribution(id, userID string, created time.Time) *Contribution {
	return &Contribution{
		ID:             id,
		UserID:         userID,
		ScientificName: "Monstera deliciosa",
		CommonName:     "Swiss cheese plant",
		IsHealthy:      true,
		ImagePath:      userID + "/" + id + ".jpg",
		ImageURL:       "/api/v2/media/plant-contributions/" + userID + "/" + id + ".jpg",
		CreatedAt:      created,
	}
}

func TestContributionsListedNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateContribution(ctx, testContribution(id, "user-1", base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, store.CreateContribution(ctx, testContribution("other", "user-2", base)))

	got, err := store.ListContributionsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, StatusPendingReview, got[0].Status)
	assert.False(t, got[0].HasLocation())

	empty, err := store.ListContributionsByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestContributionOptionalFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)

	c := testContribution("geo", "user-1", time.Now().UTC())
	c.Family = ptr("Araceae")
	c.Latitude = ptr(60.17)
	c.Longitude = ptr(24.94)
	c.Notes = ptr("north window")
	require.NoError(t, store.CreateContribution(ctx, c))

	got, err := store.ListContributionsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasLocation())
	assert.InDelta(t, 60.17, *got[0].Latitude, 1e-9)
	assert.Equal(t, "Araceae", *got[0].Family)
	assert.Nil(t, got[0].DiseaseInfo)
}

func TestCreateContributionDuplicateID(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)

	require.NoError(t, store.CreateContribution(ctx, testContribution("dup", "user-1", time.Now())))
	err := store.CreateContribution(ctx, testContribution("dup", "user-1", time.Now()))
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestCreateFeedback(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)

	require.NoError(t, store.CreateFeedback(ctx, &Feedback{
		ID:               "f-1",
		UserID:           "user-1",
		IdentificationID: "ident-9",
		IsCorrect:        false,
		CorrectSpecies:   ptr("Ficus lyrata"),
		DataUsageConsent: true,
	}))

	var count int64
	require.NoError(t, store.DB().Model(&Feedback{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	err := store.CreateFeedback(ctx, &Feedback{ID: "f-2"})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestGetConsentNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetConsent(t.Context(), "user-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertConsentAuditTrail(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)
	meta := AuditMeta{IPAddress: "203.0.113.7", UserAgent: "florai-test"}

	// First write audits every category as granted without a previous value.
	record, err := store.UpsertConsent(ctx, "user-1", consent.Map{
		consent.BasicIdentification: false,
		consent.ModelTraining:       true,
	}, meta)
	require.NoError(t, err)
	assert.True(t, record.BasicIdentification, "mandatory category is always stored as true")
	assert.True(t, record.ModelTraining)
	assert.False(t, record.LocationData)

	audit, err := store.ListConsentAudit(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, audit, len(consent.Categories()))
	for _, entry := range audit {
		assert.Equal(t, AuditGranted, entry.Action)
		assert.Nil(t, entry.PreviousValue)
		assert.Equal(t, "203.0.113.7", entry.IPAddress)
	}

	// Second write audits only the changes.
	_, err = store.UpsertConsent(ctx, "user-1", consent.Map{
		consent.ModelTraining: false,
		consent.LocationData:  true,
	}, meta)
	require.NoError(t, err)

	audit, err = store.ListConsentAudit(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	byType := map[string]ConsentAudit{audit[0].ConsentType: audit[0], audit[1].ConsentType: audit[1]}

	training := byType[string(consent.ModelTraining)]
	assert.Equal(t, AuditRevoked, training.Action)
	require.NotNil(t, training.PreviousValue)
	assert.True(t, *training.PreviousValue)
	assert.False(t, training.NewValue)

	location := byType[string(consent.LocationData)]
	assert.Equal(t, AuditGranted, location.Action)
	require.NotNil(t, location.PreviousValue)
	assert.False(t, *location.PreviousValue)

	// An identical write adds nothing.
	_, err = store.UpsertConsent(ctx, "user-1", consent.Map{consent.LocationData: true}, meta)
	require.NoError(t, err)
	audit, err = store.ListConsentAudit(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, audit, len(consent.Categories())+2)

	got, err := store.GetConsent(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, consent.Map{
		consent.BasicIdentification: true,
		consent.ModelTraining:       false,
		consent.EXIFMetadata:        false,
		consent.LocationData:        true,
		consent.AdvancedSensors:     false,
	}, got.ConsentMap())
}

func TestDeleteUserData(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := newTestStore(t)

	now := time.Now().UTC()
	require.NoError(t, store.CreateContribution(ctx, testContribution("c1", "user-1", now)))
	require.NoError(t, store.CreateContribution(ctx, testContribution("c2", "user-1", now)))
	require.NoError(t, store.CreateContribution(ctx, testContribution("keep", "user-2", now)))
	require.NoError(t, store.CreateFeedback(ctx, &Feedback{ID: "f1", UserID: "user-1", IdentificationID: "i", DataUsageConsent: true}))
	_, err := store.UpsertConsent(ctx, "user-1", consent.DefaultMap(), AuditMeta{})
	require.NoError(t, err)

	paths, err := store.DeleteUserData(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1/c1.jpg", "user-1/c2.jpg"}, paths)

	left, err := store.ListContributionsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = store.GetConsent(ctx, "user-1")
	require.ErrorIs(t, err, ErrNotFound)
	audit, err := store.ListConsentAudit(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, audit)

	others, err := store.ListContributionsByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestPing(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	require.NoError(t, store.Ping(t.Context()))
	assert.Equal(t, DriverSQLite, store.Driver())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(&conf.DatabaseSettings{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = Open(&conf.DatabaseSettings{Driver: DriverMySQL})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestMySQLDialectorDSN(t *testing.T) {
	t.Parallel()

	d, err := mysqlDialector(&conf.MySQLSettings{
		Host: "db.example.com", Username: "florai", Password: "p@ss:word", Database: "plants",
	})
	require.NoError(t, err)
	dsn := d.(*gormmysql.Dialector).Config.DSN

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.Equal(t, "db.example.com:3306", cfg.Addr)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "utf8mb4", cfg.Params["charset"])
}

func TestPostgresDialectorDSN(t *testing.T) {
	t.Parallel()

	d, err := postgresDialector(&conf.PostgresSettings{
		Host: "pg", Username: "florai", Password: "it's secret", Database: "plants",
	})
	require.NoError(t, err)
	dsn := d.(*postgres.Dialector).Config.DSN
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, `password='it\'s secret'`)
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, isUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&mysql.MySQLError{Number: 1045}))
	assert.False(t, isUniqueViolation(errors.NewStd("boom")))
}
