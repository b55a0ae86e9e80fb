package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type mockCourseStore struct {
	courses map[string]models.Course
	prereqs map[string][]models.CourseRef
	finds   int
}

func newMockCourseStore(courses ...models.Course) *mockCourseStore {
	store := &mockCourseStore{
		courses: make(map[string]models.Course),
		prereqs: make(map[string][]models.CourseRef),
	}
	for _, c := range courses {
		store.courses[c.ID] = c
	}
	return store
}

func (m *mockCourseStore) FindByID(_ context.Context, id string) (*models.Course, error) {
	m.finds++
	if c, ok := m.courses[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseStore) FindByCode(_ context.Context, code string) (*models.Course, error) {
	for _, c := range m.courses {
		if c.CourseCode == code {
			copied := c
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseStore) List(_ context.Context, _ models.CourseFilter) ([]models.Course, int, error) {
	out := make([]models.Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockCourseStore) PrerequisiteRefs(_ context.Context, courseID string) ([]models.CourseRef, error) {
	return m.prereqs[courseID], nil
}

func (m *mockCourseStore) Create(_ context.Context, course *models.Course) error {
	course.ID = fmt.Sprintf("course-%d", len(m.courses)+1)
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseStore) AddPrerequisite(_ context.Context, courseID, prerequisiteID string, position int) error {
	prereq := m.courses[prerequisiteID]
	refs := m.prereqs[courseID]
	if position != len(refs) {
		return fmt.Errorf("unexpected position %d, want %d", position, len(refs))
	}
	m.prereqs[courseID] = append(refs, models.CourseRef{ID: prereq.ID, CourseCode: prereq.CourseCode, Title: prereq.Title})
	return nil
}

// mapCache round-trips values through JSON like the Redis-backed cache does.
type mapCache struct {
	entries map[string][]byte
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *mapCache) DeleteByPattern(_ context.Context, _ string) error {
	c.deletes++
	c.entries = make(map[string][]byte)
	return nil
}

func TestCourseGetCachesDetail(t *testing.T) {
	store := newMockCourseStore(models.Course{ID: "course-1", CourseCode: "CS101", Title: "Intro", Credits: 3})
	store.prereqs["course-1"] = []models.CourseRef{{ID: "course-0", CourseCode: "CS100"}}
	cache := newMapCache()
	svc := NewCourseService(store, cache, nil, time.Minute, validator.New(), zap.NewNop())

	first, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "CS101", first.CourseCode)
	require.Len(t, first.Prerequisites, 1)
	findsAfterMiss := store.finds

	second, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, first.CourseCode, second.CourseCode)
	assert.Equal(t, findsAfterMiss, store.finds)
}

func TestCourseGetMissing(t *testing.T) {
	svc := NewCourseService(newMockCourseStore(), newMapCache(), nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "course-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseCreateRejectsDuplicateCode(t *testing.T) {
	store := newMockCourseStore(models.Course{ID: "course-1", CourseCode: "CS101"})
	svc := NewCourseService(store, newMapCache(), nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		CourseCode: "CS101",
		Title:      "Intro again",
		Credits:    3,
		Department: "CS",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseCreateInvalidatesCache(t *testing.T) {
	store := newMockCourseStore(models.Course{ID: "course-1", CourseCode: "CS101"})
	cache := newMapCache()
	svc := NewCourseService(store, cache, nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	require.NotEmpty(t, cache.entries)

	_, err = svc.Create(context.Background(), CreateCourseRequest{
		CourseCode: "CS201",
		Title:      "Data Structures",
		Credits:    4,
		Department: "CS",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)
	assert.Empty(t, cache.entries)
}

func TestCourseAddPrerequisiteAppends(t *testing.T) {
	store := newMockCourseStore(
		models.Course{ID: "course-1", CourseCode: "CS301"},
		models.Course{ID: "course-2", CourseCode: "CS101"},
		models.Course{ID: "course-3", CourseCode: "CS201"},
	)
	svc := NewCourseService(store, newMapCache(), nil, time.Minute, validator.New(), zap.NewNop())

	require.NoError(t, svc.AddPrerequisite(context.Background(), "course-1", "course-2"))
	require.NoError(t, svc.AddPrerequisite(context.Background(), "course-1", "course-3"))

	refs := store.prereqs["course-1"]
	require.Len(t, refs, 2)
	assert.Equal(t, "CS101", refs[0].CourseCode)
	assert.Equal(t, "CS201", refs[1].CourseCode)
}

func TestCourseAddPrerequisiteSelfReference(t *testing.T) {
	store := newMockCourseStore(models.Course{ID: "course-1", CourseCode: "CS101"})
	svc := NewCourseService(store, newMapCache(), nil, time.Minute, validator.New(), zap.NewNop())

	err := svc.AddPrerequisite(context.Background(), "course-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
