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

// AnalysisCacheRepositoryTestSuite is the test suite for AnalysisCacheRepository
type AnalysisCacheRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo AnalysisCacheRepository
}

// SetupSuite runs once before all tests
func (s *AnalysisCacheRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)

	err = db.AutoMigrate(&emaildomain.AnalysisResult{})
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewAnalysisCacheRepository(db)
}

// TearDownSuite runs once after all tests
func (s *AnalysisCacheRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SetupTest runs before each test - clean up data
func (s *AnalysisCacheRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM analysis_cache")
}

// TestAnalysisCacheRepositoryTestSuite runs the test suite
func TestAnalysisCacheRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(AnalysisCacheRepositoryTestSuite))
}

func (s *AnalysisCacheRepositoryTestSuite) result(messageID string) *emaildomain.AnalysisResult {
	return &emaildomain.AnalysisResult{
		AccountID:  "acc-1",
		MessageID:  messageID,
		Category:   "work",
		Priority:   "high",
		Sentiment:  "neutral",
		DraftReply: "Thanks, I'll take a look.",
		Confidence: 0.9,
		ModelUsed:  "gemini-2.5-flash",
	}
}

func (s *AnalysisCacheRepositoryTestSuite) TestPutAndGet() {
	require.NoError(s.T(), s.repo.Put(s.result("msg-1"), time.Hour))

	got, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), "work", got.Category)
	assert.Equal(s.T(), "high", got.Priority)
	assert.False(s.T(), got.ExpiresAt.IsZero())
}

func (s *AnalysisCacheRepositoryTestSuite) TestExpiredResultIsMiss() {
	require.NoError(s.T(), s.repo.Put(s.result("msg-1"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *AnalysisCacheRepositoryTestSuite) TestPutLastWriterWins() {
	require.NoError(s.T(), s.repo.Put(s.result("msg-1"), time.Hour))

	second := s.result("msg-1")
	second.Category = "finance"
	require.NoError(s.T(), s.repo.Put(second, time.Hour))

	var count int64
	s.db.Model(&emaildomain.AnalysisResult{}).Count(&count)
	assert.Equal(s.T(), int64(1), count)

	got, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), "finance", got.Category)
}

func (s *AnalysisCacheRepositoryTestSuite) TestGetManySkipsExpired() {
	require.NoError(s.T(), s.repo.Put(s.result("fresh"), time.Hour))
	require.NoError(s.T(), s.repo.Put(s.result("stale"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	results, err := s.repo.GetMany("acc-1", []string{"fresh", "stale", "absent"})
	require.NoError(s.T(), err)
	assert.Len(s.T(), results, 1)
	assert.Contains(s.T(), results, "fresh")
}

func (s *AnalysisCacheRepositoryTestSuite) TestGetManyEmptyInput() {
	results, err := s.repo.GetMany("acc-1", nil)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)
}

func (s *AnalysisCacheRepositoryTestSuite) TestInvalidate() {
	require.NoError(s.T(), s.repo.Put(s.result("msg-1"), time.Hour))
	require.NoError(s.T(), s.repo.Invalidate("acc-1", "msg-1"))

	_, found, err := s.repo.Get("acc-1", "msg-1")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *AnalysisCacheRepositoryTestSuite) TestSweepExpired() {
	require.NoError(s.T(), s.repo.Put(s.result("stale"), time.Nanosecond))
	require.NoError(s.T(), s.repo.Put(s.result("fresh"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	removed, err := s.repo.SweepExpired(time.Now())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), removed)

	_, found, err := s.repo.Get("acc-1", "fresh")
	require.NoError(s.T(), err)
	assert.True(s.T(), found)
}

func (s *AnalysisCacheRepositoryTestSuite) TestPutRejectsMissingIdentity() {
	err := s.repo.Put(&emaildomain.AnalysisResult{MessageID: "msg-1"}, time.Hour)
	assert.ErrorIs(s.T(), err, emaildomain.ErrValidation)
}
