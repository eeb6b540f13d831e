package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-progress-api/internal/dto"
)

func TestCourseProgressContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "course_progress.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	now := time.Now().UTC()
	deadline := now.Add(48 * time.Hour)
	score := 92.5
	progress := &stubProgressService{view: dto.CourseProgressResponse{
		Created:     true,
		CreatedRows: 3,
		Units: []dto.UnitProgressResponse{
			{
				UnitID:          10,
				CourseID:        1,
				Title:           "Welcome",
				OrderIndex:      0,
				UnlockCondition: "none",
				IsIntro:         true,
				IsUnlocked:      true,
				UnlockedAt:      &now,
				UnlockMethod:    "intro",
			},
			{
				UnitID:          11,
				CourseID:        1,
				Title:           "Variables",
				OrderIndex:      1,
				UnlockCondition: "quiz",
				IsUnlocked:      true,
				UnlockedAt:      &now,
				UnlockMethod:    "initial",
				IsCompleted:     true,
				CompletedAt:     &now,
				LastQuizScore:   &score,
				Deadline:        &deadline,
				DeadlineSource:  "override",
			},
			{
				UnitID:          12,
				CourseID:        1,
				Title:           "Loops",
				OrderIndex:      2,
				UnlockCondition: "assignment",
			},
		},
	}}
	app := newProgressApp(progress, stubDashboardService{}, &stubDeadlineService{}, 7)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/courses/1/progress", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
