package repository

import (
	"testing"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AccountRepositoryTestSuite is the test suite for AccountRepository
type AccountRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo AccountRepository
}

// SetupSuite runs once before all tests
func (s *AccountRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)

	err = db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.SyncState{},
		&emaildomain.EmailRecord{},
		&emaildomain.CachedContent{},
		&emaildomain.AnalysisResult{},
	)
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewAccountRepository(db)
}

// TearDownSuite runs once after all tests
func (s *AccountRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SetupTest runs before each test - clean up data
func (s *AccountRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM accounts")
	s.db.Exec("DELETE FROM sync_states")
	s.db.Exec("DELETE FROM email_index")
	s.db.Exec("DELETE FROM content_cache")
	s.db.Exec("DELETE FROM analysis_cache")
}

// TestAccountRepositoryTestSuite runs the test suite
func TestAccountRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(AccountRepositoryTestSuite))
}

func (s *AccountRepositoryTestSuite) account() *accountdomain.Account {
	return &accountdomain.Account{
		EmailAddress:  "user@example.com",
		TransportKind: string(emaildomain.TransportGmail),
		AccessToken:   "tok",
		RefreshToken:  "refresh",
	}
}

func (s *AccountRepositoryTestSuite) TestCreateAssignsID() {
	account := s.account()
	require.NoError(s.T(), s.repo.Create(account))
	assert.NotEmpty(s.T(), account.ID)
}

func (s *AccountRepositoryTestSuite) TestCreateRequiresIdentity() {
	err := s.repo.Create(&accountdomain.Account{EmailAddress: "user@example.com"})
	assert.ErrorIs(s.T(), err, emaildomain.ErrValidation)
}

func (s *AccountRepositoryTestSuite) TestGetByEmail() {
	account := s.account()
	require.NoError(s.T(), s.repo.Create(account))

	got, err := s.repo.GetByEmail("user@example.com")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), account.ID, got.ID)

	_, err = s.repo.GetByEmail("nobody@example.com")
	assert.ErrorIs(s.T(), err, emaildomain.ErrNotFound)
}

func (s *AccountRepositoryTestSuite) TestUpdateTokens() {
	account := s.account()
	require.NoError(s.T(), s.repo.Create(account))

	require.NoError(s.T(), s.repo.UpdateTokens(account.ID, "new-access", ""))

	got, err := s.repo.GetByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "new-access", got.AccessToken)
	// Empty refresh token keeps the old one
	assert.Equal(s.T(), "refresh", got.RefreshToken)
}

func (s *AccountRepositoryTestSuite) TestDeleteCascades() {
	account := s.account()
	require.NoError(s.T(), s.repo.Create(account))

	now := time.Now()
	require.NoError(s.T(), s.db.Create(&emaildomain.EmailRecord{
		ID: "r1", AccountID: account.ID, MessageID: "m1", ReceivedAt: now,
	}).Error)
	require.NoError(s.T(), s.db.Create(&emaildomain.CachedContent{
		ID: "c1", AccountID: account.ID, MessageID: "m1", ExpiresAt: now.Add(time.Hour),
	}).Error)
	require.NoError(s.T(), s.db.Create(&emaildomain.AnalysisResult{
		ID: "a1", AccountID: account.ID, MessageID: "m1", ExpiresAt: now.Add(time.Hour),
	}).Error)
	require.NoError(s.T(), s.db.Create(&accountdomain.SyncState{
		ID: "s1", AccountID: account.ID, Status: accountdomain.SyncStatusIdle,
	}).Error)

	require.NoError(s.T(), s.repo.Delete(account.ID))

	for _, model := range []interface{}{
		&emaildomain.EmailRecord{}, &emaildomain.CachedContent{},
		&emaildomain.AnalysisResult{}, &accountdomain.SyncState{},
	} {
		var count int64
		s.db.Model(model).Where("account_id = ?", account.ID).Count(&count)
		assert.Zero(s.T(), count)
	}

	_, err := s.repo.GetByID(account.ID)
	assert.ErrorIs(s.T(), err, emaildomain.ErrNotFound)
}

func (s *AccountRepositoryTestSuite) TestDeleteUnknownAccount() {
	err := s.repo.Delete("missing")
	assert.ErrorIs(s.T(), err, emaildomain.ErrNotFound)
}
