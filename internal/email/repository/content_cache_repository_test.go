package repository

import (
	"testing"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ContentCacheRepositoryTestSuite is the test suite for ContentCacheRepository
type ContentCacheRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo ContentCacheRepository
}

// SetupSuite runs once before all tests
func (s *ContentCacheRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)

	err = db.AutoMigrate(&emaildomain.CachedContent{})
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewContentCacheRepository(db)
}

// TearDownSuite runs once after all tests
func (s *ContentCacheRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SetupTest runs before each test - clean up data
func (s *ContentCacheRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM content_cache")
}

// TestContentCacheRepositoryTestSuite runs the test suite
func TestContentCacheRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(ContentCacheRepositoryTestSuite))
}

func (s *ContentCacheRepositoryTestSuite) content(messageID string) *emaildomain.FullContent {
	return &emaildomain.FullContent{
		MessageID: messageID,
		Subject:   "Hello",
		TextBody:  "plain text body",
		HTMLBody:  "<p>plain text body</p>",
		Attachments: emaildomain.AttachmentList{
			{Name: "report.pdf", MimeType: "application/pdf", Size: 1024},
		},
	}
}

func (s *ContentCacheRepositoryTestSuite) TestPutAndGet() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("msg-1"), time.Hour))

	got, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), "plain text body", got.TextBody)
	require.Len(s.T(), got.Attachments, 1)
	assert.Equal(s.T(), "report.pdf", got.Attachments[0].Name)
}

func (s *ContentCacheRepositoryTestSuite) TestGetMissingIsMissNotError() {
	got, found, err := s.repo.Get("acc-1", "absent")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
	assert.Nil(s.T(), got)
}

func (s *ContentCacheRepositoryTestSuite) TestExpiredRowIsMiss() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("msg-1"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *ContentCacheRepositoryTestSuite) TestPutOverwritesAndExtendsExpiry() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("msg-1"), time.Nanosecond))

	refreshed := s.content("msg-1")
	refreshed.TextBody = "refetched body"
	require.NoError(s.T(), s.repo.Put("acc-1", refreshed, time.Hour))

	got, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), "refetched body", got.TextBody)

	var count int64
	s.db.Model(&emaildomain.CachedContent{}).Count(&count)
	assert.Equal(s.T(), int64(1), count)
}

func (s *ContentCacheRepositoryTestSuite) TestAccountsAreIsolated() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("msg-1"), time.Hour))

	_, found, err := s.repo.Get("acc-2", "msg-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *ContentCacheRepositoryTestSuite) TestInvalidate() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("msg-1"), time.Hour))
	require.NoError(s.T(), s.repo.Invalidate("acc-1", "msg-1"))

	_, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *ContentCacheRepositoryTestSuite) TestSweepExpiredRemovesOnlyExpired() {
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("expired"), time.Nanosecond))
	require.NoError(s.T(), s.repo.Put("acc-1", s.content("fresh"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	removed, err := s.repo.SweepExpired(time.Now())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), removed)

	_, found, err := s.repo.Get("acc-1", "fresh")
	require.NoError(s.T(), err)
	assert.True(s.T(), found)
}

func (s *ContentCacheRepositoryTestSuite) TestPutRejectsMissingIdentity() {
	err := s.repo.Put("", s.content("msg-1"), time.Hour)
	assert.ErrorIs(s.T(), err, emaildomain.ErrValidation)

	err = s.repo.Put("acc-1", &emaildomain.FullContent{}, time.Hour)
	assert.ErrorIs(s.T(), err, emaildomain.ErrValidation)
}
