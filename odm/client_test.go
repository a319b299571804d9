package odm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skybridge/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:  server.URL,
		Username: "admin",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	return client, server
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLogin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/token-auth/", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body["username"])
		assert.Equal(t, "secret", body["password"])

		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})

	client, _ := newTestClient(t, handler)

	require.NoError(t, client.Login(context.Background()))
	assert.Equal(t, "tok-123", client.Token())
}

func TestLoginRejectedIsFatal(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	client, _ := newTestClient(t, handler)

	err := client.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestCreateProjectSendsToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token-auth/" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
			return
		}

		assert.Equal(t, "/api/projects/", r.URL.Path)
		assert.Equal(t, "JWT tok-123", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acme/survey-7", body["name"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 42})
	})

	client, _ := newTestClient(t, handler)
	require.NoError(t, client.Login(context.Background()))

	id, err := client.CreateProject(context.Background(), "acme/survey-7", "created by skybridge")
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestCreateTaskThreeSteps(t *testing.T) {
	var steps []string
	var initUUID string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/tasks/new/init/"):
			steps = append(steps, "init")
			initUUID = r.Header.Get("set-uuid")
			assert.NotEmpty(t, initUUID)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "mission-9", r.FormValue("name"))
			assert.Contains(t, r.FormValue("options"), "feature-quality")
			w.WriteHeader(http.StatusOK)

		case strings.Contains(r.URL.Path, "/tasks/new/upload/"):
			steps = append(steps, "upload")
			assert.Contains(t, r.URL.Path, initUUID)
			require.NoError(t, r.ParseMultipartForm(1 << 20))
			_, header, err := r.FormFile("images")
			require.NoError(t, err)
			assert.Equal(t, "placeholder.txt", header.Filename)
			w.WriteHeader(http.StatusOK)

		case strings.Contains(r.URL.Path, "/tasks/new/commit/"):
			steps = append(steps, "commit")
			assert.Contains(t, r.URL.Path, initUUID)
			json.NewEncoder(w).Encode(map[string]any{"id": "task-abc", "status": StatusQueued})

		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	})

	client, _ := newTestClient(t, handler)

	options := `[{"name":"feature-quality","value":"high"}]`
	taskID, err := client.CreateTask(context.Background(), 42, "mission-9", options, "placeholder.txt", []byte{})
	require.NoError(t, err)
	assert.Equal(t, "task-abc", taskID)
	assert.Equal(t, []string{"init", "upload", "commit"}, steps)
}

func TestCreateTaskInitFailureStops(t *testing.T) {
	var requests int
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.CreateTask(context.Background(), 42, "mission-9", "[]", "placeholder.txt", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, requests, "upload and commit must not run after a failed init")
}

func TestUploadImage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/42/tasks/task-abc/upload/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		file, header, err := r.FormFile("images")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "DJI_0042.JPG", header.Filename)
		w.WriteHeader(http.StatusOK)
	})

	client, _ := newTestClient(t, handler)

	err := client.UploadImage(context.Background(), 42, "task-abc", "DJI_0042.JPG", []byte("jpegdata"))
	require.NoError(t, err)
}

func TestTaskInfo(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/42/tasks/task-abc/", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]any{
			"id":               "task-abc",
			"status":           StatusRunning,
			"running_progress": 0.5,
			"images_count":     12,
		})
	})

	client, _ := newTestClient(t, handler)

	info, err := client.TaskInfo(context.Background(), 42, "task-abc")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, 12, info.ImagesCount)
}

func TestTaskActions(t *testing.T) {
	var paths []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	client, _ := newTestClient(t, handler)

	require.NoError(t, client.CancelTask(context.Background(), 42, "task-abc"))
	require.NoError(t, client.RemoveTask(context.Background(), 42, "task-abc"))
	assert.Equal(t, []string{
		"/api/projects/42/tasks/task-abc/cancel/",
		"/api/projects/42/tasks/task-abc/remove/",
	}, paths)
}

func TestForbiddenIsInvalid(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.CreateProject(context.Background(), "p", "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
